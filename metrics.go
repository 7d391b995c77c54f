package cascade

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// Rough per-record cost used for the linear memory estimate. Not a measured
// value; the estimate only has to scale with subscription and backlog counts.
const (
	approxSubscriptionBytes = 160
	approxEnvelopeBytes     = 96
)

// KindCount is one entry of the hot-kind list.
type KindCount struct {
	Kind  Kind
	Count uint64
}

// Snapshot is the read-only operational surface of a bus.
type Snapshot struct {
	TotalEvents         uint64
	ActiveSubscriptions int
	TotalSubscriptions  uint64
	TopKinds            []KindCount
	ApproxMemoryBytes   uint64
	QueueLen            int
	Dropped             uint64
	Swept               uint64
}

// collector aggregates emission counts. The hot-kind list is recomputed on a
// fixed period rather than per emission to bound dispatch cost.
type collector struct {
	clk      clock.Clock
	interval time.Duration
	topN     int

	total atomic.Uint64

	mu      sync.Mutex
	perKind map[Kind]uint64
	top     []KindCount
}

func newCollector(clk clock.Clock, interval time.Duration, topN int) *collector {
	return &collector{
		clk:      clk,
		interval: interval,
		topN:     topN,
		perKind:  make(map[Kind]uint64),
	}
}

// record counts one emission that reached at least one subscriber. Emissions
// with no subscribers are never recorded.
func (c *collector) record(kind Kind) {
	c.total.Add(1)
	c.mu.Lock()
	c.perKind[kind]++
	c.mu.Unlock()
}

func (c *collector) totalEvents() uint64 {
	return c.total.Load()
}

// recompute rebuilds the hot-kind list from the per-kind counts.
func (c *collector) recompute() {
	c.mu.Lock()
	defer c.mu.Unlock()
	top := make([]KindCount, 0, len(c.perKind))
	for kind, count := range c.perKind {
		top = append(top, KindCount{Kind: kind, Count: count})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Kind < top[j].Kind
	})
	if len(top) > c.topN {
		top = top[:c.topN]
	}
	c.top = top
}

func (c *collector) topKinds() []KindCount {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]KindCount, len(c.top))
	copy(out, c.top)
	return out
}

// loop drives periodic recomputes until shutdown closes.
func (c *collector) loop(shutdown <-chan struct{}) {
	ticker := c.clk.Ticker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-shutdown:
			return
		case <-ticker.C:
			c.recompute()
		}
	}
}

// approxMemory estimates resident bytes held by bus bookkeeping, linear in
// the active subscription count plus the current backlog.
func approxMemory(activeSubs, queueLen int) uint64 {
	return uint64(activeSubs)*approxSubscriptionBytes + uint64(queueLen)*approxEnvelopeBytes
}
