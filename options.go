package cascade

import (
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

// Defaults for bus configuration. All of them can be overridden per bus
// through options.
var (
	// DefaultQueueCapacity is the dispatch queue bound.
	DefaultQueueCapacity = 64
	// DefaultMetricsInterval is how often the hot-kind list is recomputed.
	DefaultMetricsInterval = 30 * time.Second
	// DefaultTopKinds is the length of the hot-kind list.
	DefaultTopKinds = 5
	// DefaultSweepInterval is how often the sweeper scans for leaked
	// subscriptions.
	DefaultSweepInterval = time.Minute
	// DefaultStaleAfter is how old a never-fired subscription must be
	// before the sweeper removes it.
	DefaultStaleAfter = 5 * time.Minute
)

// busConfig holds configuration for a bus (unexported).
type busConfig struct {
	name            string
	logger          *slog.Logger
	clk             clock.Clock
	queueCapacity   int
	metricsInterval time.Duration
	topKinds        int
	sweepInterval   time.Duration
	staleAfter      time.Duration
	tracingEnabled  bool
	metricsEnabled  bool
	sweeperEnabled  bool
}

// Option configures a bus.
type Option func(*busConfig)

func newBusConfig(opts ...Option) *busConfig {
	c := &busConfig{
		name:            "cascade",
		logger:          slog.Default(),
		clk:             clock.New(),
		queueCapacity:   DefaultQueueCapacity,
		metricsInterval: DefaultMetricsInterval,
		topKinds:        DefaultTopKinds,
		sweepInterval:   DefaultSweepInterval,
		staleAfter:      DefaultStaleAfter,
		tracingEnabled:  true,
		metricsEnabled:  true,
		sweeperEnabled:  true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithName sets the bus name used in logs, spans and metric attributes.
func WithName(name string) Option {
	return func(c *busConfig) {
		if name != "" {
			c.name = name
		}
	}
}

// WithLogger sets a custom logger for the bus.
func WithLogger(l *slog.Logger) Option {
	return func(c *busConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock sets the clock driving the metrics and sweeper tickers and all
// timestamps. Tests pass clock.NewMock() to advance time deterministically.
func WithClock(clk clock.Clock) Option {
	return func(c *busConfig) {
		if clk != nil {
			c.clk = clk
		}
	}
}

// WithQueueCapacity sets the dispatch queue bound. Emissions beyond it are
// dropped while the bus is busy.
func WithQueueCapacity(n int) Option {
	return func(c *busConfig) {
		if n > 0 {
			c.queueCapacity = n
		}
	}
}

// WithMetricsInterval sets the hot-kind recompute period.
func WithMetricsInterval(d time.Duration) Option {
	return func(c *busConfig) {
		if d > 0 {
			c.metricsInterval = d
		}
	}
}

// WithTopKinds sets the length of the hot-kind list in snapshots.
func WithTopKinds(n int) Option {
	return func(c *busConfig) {
		if n > 0 {
			c.topKinds = n
		}
	}
}

// WithSweepInterval sets the sweeper scan period.
func WithSweepInterval(d time.Duration) Option {
	return func(c *busConfig) {
		if d > 0 {
			c.sweepInterval = d
		}
	}
}

// WithStaleAfter sets the never-fired age threshold for the sweeper.
func WithStaleAfter(d time.Duration) Option {
	return func(c *busConfig) {
		if d > 0 {
			c.staleAfter = d
		}
	}
}

// WithTracing enables/disables OpenTelemetry spans for dispatch.
func WithTracing(enabled bool) Option {
	return func(c *busConfig) {
		c.tracingEnabled = enabled
	}
}

// WithMetrics enables/disables OpenTelemetry counters.
func WithMetrics(enabled bool) Option {
	return func(c *busConfig) {
		c.metricsEnabled = enabled
	}
}

// WithSweeper enables/disables the background subscription sweeper.
func WithSweeper(enabled bool) Option {
	return func(c *busConfig) {
		c.sweeperEnabled = enabled
	}
}

// subConfig holds per-subscription configuration (unexported).
type subConfig struct {
	once       bool
	middleware []Middleware
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subConfig)

// Once makes the subscription fire exactly once and then self-remove.
func Once() SubscribeOption {
	return func(c *subConfig) {
		c.once = true
	}
}

// WithMiddleware adds middleware to the handler chain, outermost first.
func WithMiddleware(mw ...Middleware) SubscribeOption {
	return func(c *subConfig) {
		c.middleware = append(c.middleware, mw...)
	}
}

// emitConfig holds per-emission configuration (unexported).
type emitConfig struct {
	id    string
	chain []string
}

// EmitOption configures a single emission.
type EmitOption func(*emitConfig)

// WithEventID sets a specific envelope id instead of a generated one.
func WithEventID(id string) EmitOption {
	return func(c *emitConfig) {
		if id != "" {
			c.id = id
		}
	}
}

// WithChain attaches the cascade chain the emission belongs to. Coordinators
// use it to propagate causal depth into derived events.
func WithChain(chain []string) EmitOption {
	return func(c *emitConfig) {
		c.chain = chain
	}
}

// WithCause copies the cascade chain from the event that caused this one.
func WithCause(parent Event) EmitOption {
	return func(c *emitConfig) {
		c.chain = parent.Chain
	}
}
