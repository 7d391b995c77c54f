package cascade

import (
	"context"
	"log/slog"
)

type contextKey int

const dispatchContextKey contextKey = iota

// dispatchContext carries per-dispatch baggage into handlers.
type dispatchContext struct {
	eventID string
	kind    Kind
	owner   string
	subID   string
	logger  *slog.Logger
}

// ContextEventID returns the envelope id of the event being dispatched.
func ContextEventID(ctx context.Context) string {
	if d, ok := ctx.Value(dispatchContextKey).(*dispatchContext); ok {
		return d.eventID
	}
	return ""
}

// ContextKind returns the kind of the event being dispatched.
func ContextKind(ctx context.Context) Kind {
	if d, ok := ctx.Value(dispatchContextKey).(*dispatchContext); ok {
		return d.kind
	}
	return ""
}

// ContextOwner returns the owner tag of the subscription being invoked.
func ContextOwner(ctx context.Context) string {
	if d, ok := ctx.Value(dispatchContextKey).(*dispatchContext); ok {
		return d.owner
	}
	return ""
}

// ContextSubscriptionID returns the id of the subscription being invoked.
func ContextSubscriptionID(ctx context.Context) string {
	if d, ok := ctx.Value(dispatchContextKey).(*dispatchContext); ok {
		return d.subID
	}
	return ""
}

// ContextLogger returns the bus logger stored in a dispatch context, or the
// default logger outside dispatch.
func ContextLogger(ctx context.Context) *slog.Logger {
	if d, ok := ctx.Value(dispatchContextKey).(*dispatchContext); ok && d.logger != nil {
		return d.logger
	}
	return slog.Default()
}

func contextWithDispatch(ctx context.Context, ev Event, sub *subscription, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, dispatchContextKey, &dispatchContext{
		eventID: ev.ID,
		kind:    ev.Kind,
		owner:   sub.owner,
		subID:   sub.id,
		logger:  logger,
	})
}
