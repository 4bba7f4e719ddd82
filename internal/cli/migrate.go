package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/transitkit/pkg/pgstore"
)

type MigrateOptions struct {
	*RootOptions
}

type migrateResult struct {
	Action  string `json:"action"`
	Version int64  `json:"version"`
}

func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate [up|down|version]",
		Short: "Manage the history and pending transition tables",
		Long: `Apply, roll back or inspect the schema migrations of the transition tables.

Table names come from STATEMACHINE_TRANSITIONS_TABLE and
STATEMACHINE_PENDING_TRANSITIONS_TABLE.

Examples:
  transitkit migrate
  transitkit migrate down --db postgres://localhost/app
  transitkit migrate version --format json`,
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			action := "up"
			if len(args) == 1 {
				action = args[0]
			}
			return runMigrate(cmd, opts, action)
		},
	}
	return cmd
}

func runMigrate(cmd *cobra.Command, opts *MigrateOptions, action string) error {
	ctx := cmd.Context()
	pool, env, err := opts.connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	log := opts.Logger()
	switch action {
	case "up":
		err = pgstore.Migrate(ctx, pool, env.Store, log)
	case "down":
		err = pgstore.Rollback(ctx, pool, env.Store, log)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "migration failed", err)
	}

	version, err := pgstore.SchemaVersion(ctx, pool, env.Store, log)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read schema version", err)
	}

	return newPrinter(opts.RootOptions, cmd.OutOrStdout()).Print(migrateResult{Action: action, Version: version}, func(w io.Writer) {
		fmt.Fprintf(w, "schema version\t%d\n", version)
	})
}
