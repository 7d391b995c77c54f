package cascade

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/time/rate"
)

func TestChainMiddlewareOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, ev Event) error {
				order = append(order, name)
				return next(ctx, ev)
			}
		}
	}
	h := ChainMiddleware(func(ctx context.Context, ev Event) error {
		order = append(order, "handler")
		return nil
	}, tag("outer"), tag("inner"))

	if err := h(context.Background(), Event{Kind: KindBeat}); err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	want := []string{"outer", "inner", "handler"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("invocation order mismatch (-want +got):\n%s", diff)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	calls := 0
	h := ChainMiddleware(func(ctx context.Context, ev Event) error {
		calls++
		return nil
	}, RateLimitMiddleware(rate.Limit(1), 2))

	for i := 0; i < 5; i++ {
		if err := h(context.Background(), Event{Kind: KindBeat}); err != nil {
			t.Fatalf("rate-limited handler returned error: %v", err)
		}
	}
	// Burst admits two immediately; the rest are dropped, not delayed.
	if calls != 2 {
		t.Errorf("handler invoked %d times, expected 2", calls)
	}
}

func TestDedupMiddleware(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	h := NewCountingHandler()
	b.Subscribe(KindBeat, h.Handle, "A", WithMiddleware(DedupMiddleware(16)))

	b.Emit(ctx, BeatPayload{BPM: 128}, WithEventID("dup-1"))
	b.Emit(ctx, BeatPayload{BPM: 128}, WithEventID("dup-1"))
	b.Emit(ctx, BeatPayload{BPM: 128}, WithEventID("dup-2"))

	if got := h.Count(); got != 2 {
		t.Errorf("handler invoked %d times, expected 2", got)
	}
}

func TestSubscribeWithMiddleware(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	var seen []Kind
	mw := func(next Handler) Handler {
		return func(hctx context.Context, ev Event) error {
			seen = append(seen, ev.Kind)
			return next(hctx, ev)
		}
	}
	h := NewCountingHandler()
	b.Subscribe(KindBeat, h.Handle, "A", WithMiddleware(mw))

	b.Emit(ctx, BeatPayload{BPM: 128})
	if got := h.Count(); got != 1 {
		t.Fatalf("handler invoked %d times, expected 1", got)
	}
	if len(seen) != 1 || seen[0] != KindBeat {
		t.Errorf("middleware saw %v, expected [%s]", seen, KindBeat)
	}
}
