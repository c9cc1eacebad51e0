package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Logging returns middleware that logs each submission call and its outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, op *Operation, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("submission call failed",
				slog.String("op", op.Name),
				slog.String("experience_id", op.ExperienceID),
				slog.String("correl_id", op.CorrelID),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Debug("submission call completed",
				slog.String("op", op.Name),
				slog.String("experience_id", op.ExperienceID),
				slog.String("correl_id", op.CorrelID),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
