// Package middleware provides composable middleware for submission
// operations, the HTTP create/get/trigger calls the delivery pipe makes
// against the render service. Middleware wraps calls synchronously and
// can modify execution (recover from panics, log, add tracing).
package middleware

import "context"

// Operation describes one submission call for cross-cutting concerns.
type Operation struct {
	// Name is the operation name, e.g. "experience.create".
	Name string

	// ExperienceID is the server-assigned id, when known.
	ExperienceID string

	// CorrelID is the client-generated correlation id, when known.
	CorrelID string
}

// Handler is the terminal function that performs the call.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic. It receives the
// current context, the operation being performed, and the next handler
// to call. Middleware MUST call next to continue the chain (unless
// short-circuiting on error).
type Middleware func(ctx context.Context, op *Operation, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, tracing) executes as:
//
//	logging → recover → tracing → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, op *Operation, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, op, prev)
			}
		}
		return h(ctx)
	}
}

// Operation name constants used by the submission client.
const (
	OpCreate  = "experience.create"
	OpGet     = "experience.get"
	OpTrigger = "experience.trigger"
)
