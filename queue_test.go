package cascade

import (
	"context"
	"testing"
	"time"
)

func TestQueueFIFO(t *testing.T) {
	q := newDispatchQueue(8)
	ctx := context.Background()
	now := time.Now()
	for i := 0; i < 3; i++ {
		if !q.push(ctx, Event{ID: NewID(), Kind: KindBeat, Payload: BeatPayload{BPM: float64(i)}}, now) {
			t.Fatalf("push %d rejected below capacity", i)
		}
	}
	for i := 0; i < 3; i++ {
		env, ok := q.pop()
		if !ok {
			t.Fatalf("pop %d failed", i)
		}
		if got := env.ev.Payload.(BeatPayload).BPM; got != float64(i) {
			t.Errorf("pop %d out of order: got %v", i, got)
		}
	}
	if _, ok := q.pop(); ok {
		t.Error("pop on empty queue succeeded")
	}
}

func TestQueueDropNewest(t *testing.T) {
	q := newDispatchQueue(2)
	ctx := context.Background()
	now := time.Now()
	q.push(ctx, Event{ID: "a", Kind: KindBeat, Payload: BeatPayload{BPM: 1}}, now)
	q.push(ctx, Event{ID: "b", Kind: KindBeat, Payload: BeatPayload{BPM: 2}}, now)

	if q.push(ctx, Event{ID: "c", Kind: KindBeat, Payload: BeatPayload{BPM: 3}}, now) {
		t.Error("push above capacity succeeded")
	}
	if got := q.droppedCount(); got != 1 {
		t.Errorf("dropped got:%d, expected:1", got)
	}
	if got := q.len(); got != 2 {
		t.Errorf("length got:%d, expected:2", got)
	}
	// Older envelopes are retained: the first pop must be the first push.
	env, _ := q.pop()
	if env.ev.ID != "a" {
		t.Errorf("first pop got:%s, expected:a", env.ev.ID)
	}
}

func TestQueueCarriesEmitContext(t *testing.T) {
	type key struct{}
	q := newDispatchQueue(2)
	now := time.Now()

	q.push(context.WithValue(context.Background(), key{}, "first"), Event{ID: "a", Kind: KindBeat, Payload: BeatPayload{BPM: 1}}, now)
	q.push(context.WithValue(context.Background(), key{}, "second"), Event{ID: "b", Kind: KindBeat, Payload: BeatPayload{BPM: 2}}, now)

	for _, want := range []string{"first", "second"} {
		env, ok := q.pop()
		if !ok {
			t.Fatal("pop failed")
		}
		if got := env.ctx.Value(key{}); got != want {
			t.Errorf("context value got:%v, expected:%s", got, want)
		}
	}
}

func TestQueueDefaultCapacity(t *testing.T) {
	q := newDispatchQueue(0)
	if q.capacity != DefaultQueueCapacity {
		t.Errorf("capacity got:%d, expected:%d", q.capacity, DefaultQueueCapacity)
	}
}
