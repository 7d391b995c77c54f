package cascade

import (
	"context"
	"sync"
	"time"
)

// CountingHandler is a test helper that records every event it receives.
// Because the bus awaits all handlers of an emission before Emit returns,
// counts are stable as soon as Emit comes back; WaitFor exists for tests
// that emit from other goroutines.
type CountingHandler struct {
	mu     sync.Mutex
	events []Event
	err    error
	block  chan struct{}
}

// NewCountingHandler creates a helper handler for tests.
func NewCountingHandler() *CountingHandler {
	return &CountingHandler{}
}

// Handle is the Handler to subscribe with.
func (h *CountingHandler) Handle(ctx context.Context, ev Event) error {
	h.mu.Lock()
	h.events = append(h.events, ev)
	err := h.err
	block := h.block
	h.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// FailWith makes subsequent invocations return err.
func (h *CountingHandler) FailWith(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
}

// BlockUntil makes subsequent invocations park until ch is closed.
func (h *CountingHandler) BlockUntil(ch chan struct{}) {
	h.mu.Lock()
	h.block = ch
	h.mu.Unlock()
}

// Count returns the number of invocations so far.
func (h *CountingHandler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

// Events returns a copy of the recorded events in arrival order.
func (h *CountingHandler) Events() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Event, len(h.events))
	copy(out, h.events)
	return out
}

// Last returns the most recent event, if any.
func (h *CountingHandler) Last() (Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.events) == 0 {
		return Event{}, false
	}
	return h.events[len(h.events)-1], true
}

// WaitFor polls until at least n events arrived or the timeout expires.
func (h *CountingHandler) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if h.Count() >= n {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return h.Count() >= n
}
