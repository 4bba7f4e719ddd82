package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/transitkit/pkg/config"
	"github.com/dmitrymomot/transitkit/pkg/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	Database string // overrides PG_CONN_URL
	EnvFiles []string

	logger *slog.Logger
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "transitkit",
		Short: "Inspect and operate state machine storage",
		Long: `transitkit manages the PostgreSQL schema used by the state machine engine,
queries the transition audit trail and pending transitions, and runs the
dispatcher that applies due pending transitions.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if len(opts.EnvFiles) > 0 {
				if err := config.LoadEnv(opts.EnvFiles...); err != nil {
					return WrapExitError(ExitCommandError, "failed to load env files", err)
				}
			}

			level := slog.LevelInfo
			if opts.Verbose {
				level = slog.LevelDebug
			}
			opts.logger = logger.New(
				logger.WithOutput(cmd.ErrOrStderr()),
				logger.WithFormat(logger.Format(opts.Format)),
				logger.WithLevel(level),
				logger.WithAttr(logger.Component(cmd.Name())),
			)
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "PostgreSQL connection URL (defaults to PG_CONN_URL)")
	cmd.PersistentFlags().StringSliceVar(&opts.EnvFiles, "env-file", nil, "env files to load before reading configuration")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewPendingCommand(opts))
	cmd.AddCommand(NewDispatchCommand(opts))

	return cmd
}

// Logger returns the logger built for the running command, or slog.Default before flags are parsed.
func (o *RootOptions) Logger() *slog.Logger {
	if o.logger == nil {
		return slog.Default()
	}
	return o.logger
}
