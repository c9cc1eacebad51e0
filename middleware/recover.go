package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Recover returns middleware that recovers from panics in the chain.
// Panics are converted to errors and logged with a stack trace, so no
// panic from a progress callback or codec can escape into caller code.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, op *Operation, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("submission call panicked",
					slog.String("op", op.Name),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = fmt.Errorf("panic in %s: %v", op.Name, r)
			}
		}()
		return next(ctx)
	}
}
