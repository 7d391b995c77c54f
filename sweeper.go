package cascade

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// sweeper periodically removes subscriptions that never fired and are older
// than the stale threshold, guarding against leaked one-shot listeners.
type sweeper struct {
	reg        *registry
	clk        clock.Clock
	interval   time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
	swept      atomic.Uint64
}

func newSweeper(reg *registry, clk clock.Clock, interval, staleAfter time.Duration, logger *slog.Logger) *sweeper {
	return &sweeper{
		reg:        reg,
		clk:        clk,
		interval:   interval,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

func (s *sweeper) loop(shutdown <-chan struct{}) {
	ticker := s.clk.Ticker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-shutdown:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep removes stale never-fired subscriptions and logs each removal with
// its owner tag so leaks can be traced back.
func (s *sweeper) sweep() int {
	cutoff := s.clk.Now().Add(-s.staleAfter)
	stale := s.reg.stale(cutoff)
	removed := 0
	for _, info := range stale {
		if s.reg.remove(info.ID) {
			removed++
			s.logger.Warn("swept abandoned subscription",
				"subscription", info.ID,
				"kind", info.Kind,
				"owner", info.Owner,
				"age", s.clk.Now().Sub(info.CreatedAt))
		}
	}
	if removed > 0 {
		s.swept.Add(uint64(removed))
	}
	return removed
}

func (s *sweeper) sweptCount() uint64 {
	return s.swept.Load()
}
