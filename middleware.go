package cascade

import (
	"context"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// Middleware wraps handlers to add cross-cutting concerns.
type Middleware func(next Handler) Handler

// ChainMiddleware applies middleware in order, with the first middleware
// outermost.
func ChainMiddleware(handler Handler, middleware ...Middleware) Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		handler = middleware[i](handler)
	}
	return handler
}

// RateLimitMiddleware drops events beyond the configured rate instead of
// invoking the handler. Intended for high-frequency producers such as
// per-beat emitters feeding handlers that only need a sampled view.
//
// Dropped events are skipped silently apart from a debug log; the emitter is
// never told, matching the fire-and-forget emission contract.
func RateLimitMiddleware(limit rate.Limit, burst int) Middleware {
	limiter := rate.NewLimiter(limit, burst)
	return func(next Handler) Handler {
		return func(ctx context.Context, ev Event) error {
			if !limiter.Allow() {
				ContextLogger(ctx).Debug("rate limited event",
					"kind", ev.Kind,
					"event", ev.ID)
				return nil
			}
			return next(ctx, ev)
		}
	}
}

// DedupMiddleware skips events whose envelope id was already handled by this
// subscription, remembering the most recent size ids. Useful when the same
// upstream event can reach a handler through more than one path; duplicate
// suppression by payload content belongs to the guard, not here.
func DedupMiddleware(size int) Middleware {
	if size <= 0 {
		size = 128
	}
	seen, _ := lru.New[string, struct{}](size)
	return func(next Handler) Handler {
		return func(ctx context.Context, ev Event) error {
			if _, dup := seen.Get(ev.ID); dup {
				ContextLogger(ctx).Debug("duplicate event id skipped",
					"kind", ev.Kind,
					"event", ev.ID)
				return nil
			}
			seen.Add(ev.ID, struct{}{})
			return next(ctx, ev)
		}
	}
}

// LoggingMiddleware logs every handled event at debug level. Useful while
// wiring new coordinators.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, ev Event) error {
			logger.Debug("handling event",
				"kind", ev.Kind,
				"event", ev.ID,
				"owner", ContextOwner(ctx),
				"chain_depth", len(ev.Chain))
			return next(ctx, ev)
		}
	}
}
