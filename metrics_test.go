package cascade

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
)

func TestCollectorTopKinds(t *testing.T) {
	c := newCollector(clock.NewMock(), time.Second, 2)

	for i := 0; i < 5; i++ {
		c.record(KindBeat)
	}
	for i := 0; i < 3; i++ {
		c.record(KindEnergy)
	}
	c.record(KindTempo)

	if got := c.totalEvents(); got != 9 {
		t.Errorf("total got:%d, expected:9", got)
	}
	// The hot list is recomputed on the ticker, not per record.
	if got := c.topKinds(); len(got) != 0 {
		t.Errorf("top kinds populated before recompute: %v", got)
	}

	c.recompute()
	want := []KindCount{
		{Kind: KindBeat, Count: 5},
		{Kind: KindEnergy, Count: 3},
	}
	if diff := cmp.Diff(want, c.topKinds()); diff != "" {
		t.Errorf("top kinds mismatch (-want +got):\n%s", diff)
	}
}

func TestCollectorTieBreaksByKind(t *testing.T) {
	c := newCollector(clock.NewMock(), time.Second, 3)
	c.record(KindTempo)
	c.record(KindBeat)
	c.recompute()

	want := []KindCount{
		{Kind: KindBeat, Count: 1},
		{Kind: KindTempo, Count: 1},
	}
	if diff := cmp.Diff(want, c.topKinds()); diff != "" {
		t.Errorf("tie break mismatch (-want +got):\n%s", diff)
	}
}

func TestCollectorLoopRecomputesOnTick(t *testing.T) {
	mock := clock.NewMock()
	c := newCollector(mock, time.Second, 1)
	shutdown := make(chan struct{})
	go c.loop(shutdown)
	defer close(shutdown)

	c.record(KindBeat)

	// The loop registers its ticker asynchronously; keep advancing the mock
	// clock until the tick lands so the test cannot race the goroutine start.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mock.Add(time.Second)
		if len(c.topKinds()) == 1 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("ticker never recomputed the hot list")
}

func TestApproxMemory(t *testing.T) {
	if got := approxMemory(0, 0); got != 0 {
		t.Errorf("empty bus memory got:%d, expected:0", got)
	}
	want := uint64(3*approxSubscriptionBytes + 2*approxEnvelopeBytes)
	if got := approxMemory(3, 2); got != want {
		t.Errorf("memory got:%d, expected:%d", got, want)
	}
}
