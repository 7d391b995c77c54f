// Package guard bounds cascading derivations. A Guard protects one
// processing stage: at most one derivation runs at a time, payloads seen
// within a short TTL window are suppressed as duplicates, causal chains
// deeper than a fixed bound abort as cycles, and a watchdog timer frees the
// stage if a derivation never signals completion.
package guard

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

var (
	// ErrInFlight rejects a new derivation while one is active. The event is
	// dropped, not queued.
	ErrInFlight = errors.New("guard: derivation already in flight")
	// ErrDuplicate suppresses a payload seen within the TTL window.
	ErrDuplicate = errors.New("guard: duplicate payload suppressed")
)

// CycleError aborts a derivation whose causal chain reached the depth bound.
type CycleError struct {
	Stage string
	Chain []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("guard: cycle detected at %q, chain depth %d: %s",
		e.Stage, len(e.Chain), strings.Join(e.Chain, " -> "))
}

// IsCycle checks if any error in err's chain is a CycleError.
func IsCycle(err error) bool {
	var ce *CycleError
	return errors.As(err, &ce)
}

// State is the guard's processing state.
type State int32

const (
	Idle State = iota
	Processing
)

func (s State) String() string {
	if s == Processing {
		return "processing"
	}
	return "idle"
}

// ChainState describes the causal chain of the derivation in flight.
type ChainState struct {
	Active bool
	Depth  int
	Stack  []string
}

// Stats is a read-only counter snapshot for monitoring and tests.
type Stats struct {
	Acquired   uint64
	Completed  uint64
	Duplicates uint64
	Cycles     uint64
	Timeouts   uint64
}

const (
	DefaultTTL        = 2 * time.Second
	DefaultTimeout    = 5 * time.Second
	DefaultDepthLimit = 10
	DefaultCacheSize  = 256
	DefaultHashPrefix = 64
)

type config struct {
	logger     *slog.Logger
	clk        clock.Clock
	ttl        time.Duration
	timeout    time.Duration
	depthLimit int
	cacheSize  int
	hashPrefix int
}

// Option configures a Guard.
type Option func(*config)

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock injects the clock used by the watchdog and the TTL window.
// Tests pass a mock to advance time deterministically.
func WithClock(clk clock.Clock) Option {
	return func(c *config) {
		if clk != nil {
			c.clk = clk
		}
	}
}

// WithTTL sets the duplicate-suppression window. Zero disables duplicate
// suppression entirely.
func WithTTL(ttl time.Duration) Option {
	return func(c *config) { c.ttl = ttl }
}

// WithTimeout sets the watchdog duration after which a wedged derivation is
// force-released.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithDepthLimit sets the causal chain depth treated as a cycle.
func WithDepthLimit(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.depthLimit = n
		}
	}
}

// WithCacheSize bounds the duplicate cache.
func WithCacheSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.cacheSize = n
		}
	}
}

// WithHashPrefix sets how many encoded payload bytes feed the duplicate
// hash. Larger prefixes reduce collisions at the cost of hashing more.
func WithHashPrefix(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.hashPrefix = n
		}
	}
}

// Guard is the recursion guard for one processing stage. All methods are
// safe for concurrent use.
type Guard struct {
	stage      string
	logger     *slog.Logger
	clk        clock.Clock
	ttl        time.Duration
	timeout    time.Duration
	depthLimit int
	cache      *dupCache

	mu         sync.Mutex
	inFlight   bool
	chain      []string
	generation uint64
	watchdog   *clock.Timer

	stats Stats
}

// New creates a guard for the named stage.
func New(stage string, opts ...Option) *Guard {
	c := &config{
		logger:     slog.Default(),
		clk:        clock.New(),
		ttl:        DefaultTTL,
		timeout:    DefaultTimeout,
		depthLimit: DefaultDepthLimit,
		cacheSize:  DefaultCacheSize,
		hashPrefix: DefaultHashPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return &Guard{
		stage:      stage,
		logger:     c.logger.With("component", "guard>"+stage),
		clk:        c.clk,
		ttl:        c.ttl,
		timeout:    c.timeout,
		depthLimit: c.depthLimit,
		cache:      newDupCache(c.cacheSize, c.hashPrefix, c.ttl),
	}
}

// Stage returns the stage name the guard protects.
func (g *Guard) Stage() string {
	return g.stage
}

// Permit is the token returned by a successful Acquire. The holder must call
// Release exactly once; a Release after the watchdog already fired is a
// no-op.
type Permit struct {
	g    *Guard
	gen  uint64
	hash uint64
	ok   bool
}

// Acquire admits one derivation. chain is the causal chain carried by the
// triggering event, deepest link last; payload feeds the duplicate hash. On
// success the guard transitions to Processing and the watchdog starts.
//
// Rejections: ErrInFlight while a derivation is active, ErrDuplicate for a
// payload seen within the TTL window, and a CycleError when the chain has
// reached the depth limit (this also clears chain tracking).
func (g *Guard) Acquire(payload any, chain []string) (*Permit, error) {
	now := g.clk.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inFlight {
		g.logger.Debug("derivation in flight, rejecting", "chain_depth", len(chain))
		return nil, ErrInFlight
	}
	if len(chain) >= g.depthLimit {
		g.stats.Cycles++
		g.chain = nil
		stack := append([]string(nil), chain...)
		g.logger.Warn("cycle detected, aborting derivation",
			"depth", len(chain), "limit", g.depthLimit, "chain", strings.Join(stack, " -> "))
		return nil, &CycleError{Stage: g.stage, Chain: stack}
	}

	var h uint64
	var hashable bool
	if g.ttl > 0 {
		if h, hashable = g.cache.hash(payload); hashable && g.cache.seen(h, now) {
			g.stats.Duplicates++
			g.logger.Debug("duplicate payload suppressed", "hash", h)
			return nil, ErrDuplicate
		}
	}

	g.inFlight = true
	g.chain = append(append([]string(nil), chain...), g.stage)
	g.generation++
	g.stats.Acquired++
	gen := g.generation
	g.watchdog = g.clk.AfterFunc(g.timeout, func() { g.expire(gen) })

	return &Permit{g: g, gen: gen, hash: h, ok: hashable}, nil
}

// Release returns the guard to Idle. processed marks the payload hash in the
// duplicate cache so an identical payload within the TTL is suppressed; pass
// false when the derivation failed and a retry should be admitted. Stale
// permits (watchdog already fired, or double release) are ignored.
func (p *Permit) Release(processed bool) {
	if p == nil {
		return
	}
	p.g.release(p, processed)
}

func (g *Guard) release(p *Permit, processed bool) {
	now := g.clk.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if p == nil || p.gen != g.generation || !g.inFlight {
		return
	}
	g.watchdog.Stop()
	g.inFlight = false
	g.chain = nil
	g.stats.Completed++
	if processed && p.ok && g.ttl > 0 {
		g.cache.mark(p.hash, now)
	}
	g.cache.evictStale(now)
}

// expire is the watchdog path: it force-clears the in-flight state if the
// permit of the matching generation was never released.
func (g *Guard) expire(gen uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if gen != g.generation || !g.inFlight {
		return
	}
	g.inFlight = false
	g.chain = nil
	g.stats.Timeouts++
	g.logger.Warn("derivation timed out, force-releasing guard", "timeout", g.timeout)
}

// State reports Idle or Processing.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight {
		return Processing
	}
	return Idle
}

// Chain describes the causal chain currently being processed.
func (g *Guard) Chain() ChainState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ChainState{
		Active: g.inFlight,
		Depth:  len(g.chain),
		Stack:  append([]string(nil), g.chain...),
	}
}

// Snapshot returns the counter snapshot.
func (g *Guard) Snapshot() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

// Reset force-clears all guard state, including the duplicate cache. Meant
// for operator intervention and tests, not the normal release path.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.watchdog != nil {
		g.watchdog.Stop()
	}
	g.inFlight = false
	g.chain = nil
	g.generation++
	g.cache.purge()
}
