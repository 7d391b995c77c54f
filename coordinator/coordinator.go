// Package coordinator derives events from events. A Coordinator subscribes
// to one input kind, computes a derived payload under recursion-guard
// protection, republishes it with the causal chain extended by its own name,
// and applies it to a sink. The guard bounds feedback loops: if applying a
// derived event ultimately re-emits an input-shaped event, duplicate
// suppression and chain depth stop the cascade.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/soniq/cascade"
	"github.com/soniq/cascade/guard"
)

// DeriveFunc computes a derived payload from an input event. Returning a nil
// payload with a nil error means there is nothing to publish for this input.
type DeriveFunc func(ctx context.Context, ev cascade.Event) (cascade.Payload, error)

type config struct {
	logger    *slog.Logger
	sink      Sink
	guardOpts []guard.Option
}

// Option configures a Coordinator.
type Option func(*config)

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSink sets the sink derived payloads are applied to after publishing.
func WithSink(s Sink) Option {
	return func(c *config) { c.sink = s }
}

// WithGuardOptions passes options through to the coordinator's guard.
func WithGuardOptions(opts ...guard.Option) Option {
	return func(c *config) { c.guardOpts = append(c.guardOpts, opts...) }
}

// Coordinator owns one derivation stage.
type Coordinator struct {
	name   string
	bus    *cascade.Bus
	input  cascade.Kind
	derive DeriveFunc
	g      *guard.Guard
	sink   Sink
	logger *slog.Logger

	subID   string
	derived atomic.Uint64
	skipped atomic.Uint64
}

// New creates a coordinator named name that derives from input events. The
// name doubles as the subscription owner tag and the guard stage, so it
// shows up in diagnostics and in causal chains.
func New(name string, bus *cascade.Bus, input cascade.Kind, derive DeriveFunc, opts ...Option) *Coordinator {
	c := &config{logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	gopts := append([]guard.Option{guard.WithLogger(c.logger)}, c.guardOpts...)
	return &Coordinator{
		name:   name,
		bus:    bus,
		input:  input,
		derive: derive,
		g:      guard.New(name, gopts...),
		sink:   c.sink,
		logger: c.logger.With("component", "coordinator>"+name),
	}
}

// Name returns the coordinator name.
func (c *Coordinator) Name() string {
	return c.name
}

// Guard exposes the coordinator's guard for monitoring.
func (c *Coordinator) Guard() *guard.Guard {
	return c.g
}

// Start subscribes the coordinator to its input kind. Safe to call once.
func (c *Coordinator) Start() {
	c.subID = c.bus.Subscribe(c.input, c.Handle, c.name)
	c.logger.Debug("coordinator started", "input", c.input)
}

// Stop unsubscribes the coordinator. In-flight guard state is left to the
// watchdog; a stopped coordinator can be started again.
func (c *Coordinator) Stop() {
	if c.subID != "" {
		c.bus.Unsubscribe(c.subID)
		c.subID = ""
	}
	c.logger.Debug("coordinator stopped", "input", c.input)
}

// Handle is the bus handler for one input event. It is exported so callers
// with their own subscription plumbing can drive a coordinator directly.
//
// Guard rejections are intentional skips, not failures: in-flight and
// duplicate inputs are dropped at debug level, a detected cycle is logged by
// the guard at warn level. None of them surface as a handler error.
func (c *Coordinator) Handle(ctx context.Context, ev cascade.Event) error {
	permit, err := c.g.Acquire(ev.Payload, ev.Chain)
	if err != nil {
		c.skipped.Add(1)
		if errors.Is(err, guard.ErrInFlight) || errors.Is(err, guard.ErrDuplicate) {
			c.logger.Debug("input skipped", "kind", ev.Kind, "event", ev.ID, "reason", err)
		}
		return nil
	}

	derived, derr := c.derive(ctx, ev)
	if derr != nil {
		permit.Release(false)
		return derr
	}
	if derived == nil {
		permit.Release(true)
		return nil
	}

	chain := append(append([]string(nil), ev.Chain...), c.name)
	c.bus.Emit(ctx, derived, cascade.WithChain(chain))
	if c.sink != nil {
		c.sink.Set(string(cascade.KindOf(derived)), derived)
	}
	c.derived.Add(1)
	c.logger.Debug("derived event published",
		"input", ev.Kind, "output", cascade.KindOf(derived), "chain_depth", len(chain))

	permit.Release(true)
	return nil
}

// Stats reports the coordinator's processing counters alongside its guard's.
type Stats struct {
	Derived uint64
	Skipped uint64
	Guard   guard.Stats
}

// Snapshot returns the counter snapshot.
func (c *Coordinator) Snapshot() Stats {
	return Stats{
		Derived: c.derived.Load(),
		Skipped: c.skipped.Load(),
		Guard:   c.g.Snapshot(),
	}
}
