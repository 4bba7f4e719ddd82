package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/transitkit/pkg/statemachine"
)

type HistoryOptions struct {
	*RootOptions
	Entities    []string
	Field       string
	From        []string
	To          []string
	Genesis     bool
	Responsible string
	Properties  []string
	Latest      bool
}

func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Query the transition audit trail",
		Long: `List transition records matching the given filters, oldest first.

Examples:
  transitkit history --entity order:42
  transitkit history --entity order:42 --field status --to cancelled --latest
  transitkit history --responsible user:7 --property reason=fraud --format json
  transitkit history --genesis --from pending`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHistory(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Entities, "entity", "e", nil, "entity reference type:id (repeatable)")
	cmd.Flags().StringVarP(&opts.Field, "field", "f", "", "state field")
	cmd.Flags().StringSliceVar(&opts.From, "from", nil, "source states (repeatable)")
	cmd.Flags().StringSliceVar(&opts.To, "to", nil, "destination states (repeatable)")
	cmd.Flags().BoolVar(&opts.Genesis, "genesis", false, "include genesis records in the --from filter")
	cmd.Flags().StringVar(&opts.Responsible, "responsible", "", "responsible party type:id")
	cmd.Flags().StringSliceVar(&opts.Properties, "property", nil, "custom property key=value, dots descend (repeatable)")
	cmd.Flags().BoolVar(&opts.Latest, "latest", false, "only the newest matching record")

	return cmd
}

func (o *HistoryOptions) criteria() (statemachine.HistoryCriteria, error) {
	entities, err := parseRefs(o.Entities)
	if err != nil {
		return statemachine.HistoryCriteria{}, err
	}
	props, err := parseProperties(o.Properties)
	if err != nil {
		return statemachine.HistoryCriteria{}, err
	}

	c := statemachine.HistoryCriteria{
		Entities:       entities,
		Field:          o.Field,
		From:           o.From,
		To:             o.To,
		CustomProperty: props,
	}
	if o.Genesis {
		c.From = append(c.From, "")
	}
	if o.Responsible != "" {
		ref, err := parseRef(o.Responsible)
		if err != nil {
			return c, err
		}
		c.Responsible = &ref
	}
	return c, nil
}

func runHistory(cmd *cobra.Command, opts *HistoryOptions) error {
	criteria, err := opts.criteria()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid filter", err)
	}

	ctx := cmd.Context()
	store, pool, _, err := opts.openStorage(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	var records []statemachine.Transition
	if opts.Latest {
		latest, err := store.LatestTransition(ctx, criteria)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to query history", err)
		}
		if latest != nil {
			records = append(records, *latest)
		}
	} else {
		records, err = store.QueryTransitions(ctx, criteria)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to query history", err)
		}
	}

	return printTransitions(newPrinter(opts.RootOptions, cmd.OutOrStdout()), records)
}

func printTransitions(p *printer, records []statemachine.Transition) error {
	if records == nil {
		records = []statemachine.Transition{}
	}
	return p.Print(records, func(w io.Writer) {
		fmt.Fprintln(w, "ID\tENTITY\tFIELD\tFROM\tTO\tRESPONSIBLE\tCREATED")
		for _, t := range records {
			from := t.From
			if t.IsGenesis() {
				from = "(genesis)"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
				t.ID, t.Entity, t.Field, from, t.To, refString(t.Responsible), t.CreatedAt.Format(time.RFC3339))
		}
	})
}
