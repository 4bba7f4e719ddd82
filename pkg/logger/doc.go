// Package logger builds the process *slog.Logger and offers attribute helpers
// for state machine log records.
//
// New takes functional options; Config maps LOG_LEVEL, LOG_FORMAT and
// LOG_SERVICE to the same options:
//
//	opts, err := cfg.Options()
//	if err != nil {
//		return err
//	}
//	log := logger.New(append(opts, logger.WithResponsible())...)
//	logger.SetAsDefault(log)
//
//	log.InfoContext(ctx, "transition applied",
//		logger.Entity(ref),
//		logger.Field("status"),
//		logger.Edge("pending", "active"),
//	)
//
// Helpers that take optional values (Error, Errors, Responsible) return an
// empty slog.Attr when there is nothing to log; slog drops empty attributes.
package logger
