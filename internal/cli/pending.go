package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/transitkit/pkg/statemachine"
)

type PendingOptions struct {
	*RootOptions
	Entities  []string
	Field     string
	Unapplied bool
	Limit     int
	Engine    EngineOptions
}

func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PendingOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Inspect and manage postponed transitions",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List pending transitions",
		Example: `  transitkit pending list --entity order:42
  transitkit pending list --field status --unapplied --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPendingList(cmd, opts)
		},
	}
	list.Flags().StringSliceVarP(&opts.Entities, "entity", "e", nil, "entity reference type:id (repeatable)")
	list.Flags().StringVarP(&opts.Field, "field", "f", "", "state field")
	list.Flags().BoolVar(&opts.Unapplied, "unapplied", false, "only records not yet applied")

	due := &cobra.Command{
		Use:   "due",
		Short: "List unapplied transitions scheduled at or before now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPendingDue(cmd, opts)
		},
	}
	due.Flags().IntVar(&opts.Limit, "limit", 100, "maximum number of records")

	cancel := &cobra.Command{
		Use:     "cancel",
		Short:   "Delete every pending transition of an entity field",
		Example: `  transitkit pending cancel --entity order:42 --field status`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPendingCancel(cmd, opts)
		},
	}
	cancel.Flags().StringSliceVarP(&opts.Entities, "entity", "e", nil, "entity reference type:id")
	cancel.Flags().StringVarP(&opts.Field, "field", "f", "", "state field")
	_ = cancel.MarkFlagRequired("entity")
	_ = cancel.MarkFlagRequired("field")

	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Apply due pending transitions once",
		Long: `Run a single dispatcher sweep. Entities are loaded and saved as JSONB
documents described by the catalog file.`,
		Example: `  transitkit pending sweep --catalog catalog.yaml`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPendingSweep(cmd, opts)
		},
	}
	sweep.Flags().StringVar(&opts.Engine.Catalog, "catalog", "", "catalog file (required)")
	sweep.Flags().BoolVar(&opts.Engine.UseRedis, "redis", false, "serialize transitions with a Redis lock (REDIS_URL)")
	_ = sweep.MarkFlagRequired("catalog")

	cmd.AddCommand(list, due, cancel, sweep)
	return cmd
}

func runPendingList(cmd *cobra.Command, opts *PendingOptions) error {
	entities, err := parseRefs(opts.Entities)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid filter", err)
	}

	ctx := cmd.Context()
	store, pool, _, err := opts.openStorage(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	records, err := store.QueryPending(ctx, statemachine.PendingCriteria{
		Entities:      entities,
		Field:         opts.Field,
		OnlyUnapplied: opts.Unapplied,
	})
	if err != nil {
		return WrapExitError(ExitFailure, "failed to query pending transitions", err)
	}
	return printPending(newPrinter(opts.RootOptions, cmd.OutOrStdout()), records)
}

func runPendingDue(cmd *cobra.Command, opts *PendingOptions) error {
	ctx := cmd.Context()
	store, pool, _, err := opts.openStorage(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	records, err := store.DuePending(ctx, time.Now(), 0, opts.Limit)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to query due transitions", err)
	}
	return printPending(newPrinter(opts.RootOptions, cmd.OutOrStdout()), records)
}

func runPendingCancel(cmd *cobra.Command, opts *PendingOptions) error {
	refs, err := parseRefs(opts.Entities)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid entity", err)
	}

	ctx := cmd.Context()
	store, pool, _, err := opts.openStorage(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	var deleted int64
	err = store.WithTx(ctx, func(ctx context.Context, tx statemachine.Tx) error {
		for _, ref := range refs {
			n, err := tx.DeletePending(ctx, ref, opts.Field, 0)
			if err != nil {
				return err
			}
			deleted += n
		}
		return nil
	})
	if err != nil {
		return WrapExitError(ExitFailure, "failed to cancel pending transitions", err)
	}

	return newPrinter(opts.RootOptions, cmd.OutOrStdout()).Print(map[string]int64{"deleted": deleted}, func(w io.Writer) {
		fmt.Fprintf(w, "deleted\t%d\n", deleted)
	})
}

func runPendingSweep(cmd *cobra.Command, opts *PendingOptions) error {
	ctx := cmd.Context()
	rt, err := buildRuntime(ctx, opts.RootOptions, opts.Engine, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	d, err := statemachine.NewDispatcher(rt.engine, rt.dispatcherOptions(opts.RootOptions)...)
	if err != nil {
		return err
	}
	result, err := d.Sweep(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "sweep failed", err)
	}

	if err := printSweep(newPrinter(opts.RootOptions, cmd.OutOrStdout()), result); err != nil {
		return err
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d pending transitions failed", result.Failed))
	}
	return nil
}

func printPending(p *printer, records []statemachine.PendingTransition) error {
	if records == nil {
		records = []statemachine.PendingTransition{}
	}
	return p.Print(records, func(w io.Writer) {
		fmt.Fprintln(w, "ID\tENTITY\tFIELD\tFROM\tTO\tAT\tAPPLIED")
		for _, r := range records {
			applied := "-"
			if r.AppliedAt != nil {
				applied = r.AppliedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
				r.ID, r.Entity, r.Field, r.From, r.To, r.TransitionAt.Format(time.RFC3339), applied)
		}
	})
}

type sweepFailure struct {
	PendingID int64  `json:"pending_id"`
	Entity    string `json:"entity"`
	Field     string `json:"field"`
	Error     string `json:"error"`
}

type sweepView struct {
	Dispatched int            `json:"dispatched"`
	Applied    int            `json:"applied"`
	Skipped    int            `json:"skipped"`
	Failed     int            `json:"failed"`
	Failures   []sweepFailure `json:"failures,omitempty"`
}

func printSweep(p *printer, result statemachine.SweepResult) error {
	view := sweepView{
		Dispatched: result.Dispatched,
		Applied:    result.Applied,
		Skipped:    result.Skipped,
		Failed:     result.Failed,
	}
	for _, f := range result.Failures {
		view.Failures = append(view.Failures, sweepFailure{
			PendingID: f.Pending.ID,
			Entity:    f.Pending.Entity.String(),
			Field:     f.Pending.Field,
			Error:     f.Err.Error(),
		})
	}

	return p.Print(view, func(w io.Writer) {
		fmt.Fprintf(w, "dispatched\t%d\napplied\t%d\nskipped\t%d\nfailed\t%d\n",
			view.Dispatched, view.Applied, view.Skipped, view.Failed)
		for _, f := range view.Failures {
			fmt.Fprintf(w, "  #%d\t%s.%s\t%s\n", f.PendingID, f.Entity, f.Field, f.Error)
		}
	})
}
