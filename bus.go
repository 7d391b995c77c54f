package cascade

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	busRunning = 1
	busStopped = 0
)

// NewID generates a new unique id.
func NewID() string {
	return uuid.NewString()
}

// Bus is the in-process event dispatcher. It owns the subscription registry
// and the bounded dispatch queue, and serializes dispatch: one emission is
// fanned out at a time, and emissions arriving mid-dispatch are queued in
// FIFO order (or dropped once the queue is full).
//
// One bus per process is the intended shape; construct it at the entry point
// and pass it to every component rather than holding it in a global.
type Bus struct {
	status int32
	id     string
	name   string
	logger *slog.Logger
	clk    clock.Clock

	reg       *registry
	queue     *dispatchQueue
	collector *collector
	sweeper   *sweeper
	shutdown  chan struct{}

	// admission guards the busy flag: the emit path decides under this lock
	// whether to dispatch directly or enqueue.
	admission sync.Mutex
	busy      bool

	tracingEnabled bool
	metricsEnabled bool

	emittedCtr    metric.Int64Counter
	droppedCtr    metric.Int64Counter
	handlerErrCtr metric.Int64Counter
	subscribedCtr metric.Int64Counter
}

// New creates a bus and starts its background metrics and sweeper loops.
// Call Close to stop them.
func New(opts ...Option) *Bus {
	c := newBusConfig(opts...)

	b := &Bus{
		status:         busRunning,
		id:             NewID(),
		name:           c.name,
		logger:         c.logger.With("component", "bus>"+c.name),
		clk:            c.clk,
		reg:            newRegistry(),
		queue:          newDispatchQueue(c.queueCapacity),
		shutdown:       make(chan struct{}),
		tracingEnabled: c.tracingEnabled,
		metricsEnabled: c.metricsEnabled,
	}
	b.collector = newCollector(c.clk, c.metricsInterval, c.topKinds)
	b.sweeper = newSweeper(b.reg, c.clk, c.sweepInterval, c.staleAfter, b.logger)

	if c.metricsEnabled {
		meter := otel.Meter(c.name)
		b.emittedCtr, _ = meter.Int64Counter("cascade.events.emitted",
			metric.WithDescription("Events dispatched to at least one subscriber"))
		b.droppedCtr, _ = meter.Int64Counter("cascade.events.dropped",
			metric.WithDescription("Events dropped on dispatch queue overflow"))
		b.handlerErrCtr, _ = meter.Int64Counter("cascade.handler.errors",
			metric.WithDescription("Handler failures recovered by the bus"))
		b.subscribedCtr, _ = meter.Int64Counter("cascade.subscriptions.created",
			metric.WithDescription("Subscriptions registered"))
	}

	go b.collector.loop(b.shutdown)
	if c.sweeperEnabled {
		go b.sweeper.loop(b.shutdown)
	}
	return b
}

// ID returns the bus id.
func (b *Bus) ID() string {
	return b.id
}

// Name returns the bus name.
func (b *Bus) Name() string {
	return b.name
}

// Running returns true if the bus has not been closed.
func (b *Bus) Running() bool {
	return atomic.LoadInt32(&b.status) == busRunning
}

// Close stops the background loops and discards all subscriptions. Closing
// an already closed bus returns ErrClosed.
func (b *Bus) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&b.status, busRunning, busStopped) {
		return ErrClosed
	}
	close(b.shutdown)
	b.reg.clear()
	b.logger.Debug("bus closed")
	return nil
}

// Subscribe registers a handler for a kind under a human-readable owner tag.
// The owner tag is diagnostic and enables bulk removal; it carries no
// authority. Subscribe never fails; it returns the subscription id. On a
// closed bus it is a no-op returning an empty id, mirroring Emit.
func (b *Bus) Subscribe(kind Kind, handler Handler, owner string, opts ...SubscribeOption) string {
	if !b.Running() {
		b.logger.Debug("subscribe on closed bus", "kind", kind, "owner", owner)
		return ""
	}
	c := &subConfig{}
	for _, opt := range opts {
		opt(c)
	}
	if len(c.middleware) > 0 {
		handler = ChainMiddleware(handler, c.middleware...)
	}
	sub := &subscription{
		id:        NewID(),
		kind:      kind,
		owner:     owner,
		once:      c.once,
		createdAt: b.clk.Now(),
		handler:   handler,
	}
	b.reg.add(sub)
	if b.subscribedCtr != nil {
		b.subscribedCtr.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("kind", string(kind))))
	}
	b.logger.Debug("subscribed", "kind", kind, "owner", owner, "subscription", sub.id, "once", sub.once)
	return sub.id
}

// SubscribeOnce registers a handler that fires exactly once.
func (b *Bus) SubscribeOnce(kind Kind, handler Handler, owner string, opts ...SubscribeOption) string {
	return b.Subscribe(kind, handler, owner, append(opts, Once())...)
}

// Unsubscribe removes a subscription, reporting whether it existed.
func (b *Bus) Unsubscribe(id string) bool {
	return b.reg.remove(id)
}

// UnsubscribeAll removes every subscription registered under an owner tag
// and returns the number removed.
func (b *Bus) UnsubscribeAll(owner string) int {
	removed := b.reg.removeOwner(owner)
	if removed > 0 {
		b.logger.Debug("unsubscribed owner", "owner", owner, "removed", removed)
	}
	return removed
}

// Subscription returns a read-only view of a subscription.
func (b *Bus) Subscription(id string) (SubscriptionInfo, bool) {
	return b.reg.get(id)
}

// Subscriptions lists all active subscriptions in registration order.
func (b *Bus) Subscriptions() []SubscriptionInfo {
	return b.reg.list()
}

// Emit publishes an event. If the bus is idle, dispatch starts immediately
// on the calling goroutine and drains any emissions queued meanwhile; if the
// bus is mid-dispatch, the envelope is queued. When the queue is full the
// incoming envelope is dropped and counted: emission is fire-and-forget and
// the caller is never told.
func (b *Bus) Emit(ctx context.Context, p Payload, opts ...EmitOption) {
	if !b.Running() {
		b.logger.Debug("emit on closed bus", "kind", KindOf(p))
		return
	}
	ev := b.newEvent(p, opts...)

	b.admission.Lock()
	if b.busy {
		if !b.queue.push(ctx, ev, b.clk.Now()) {
			b.admission.Unlock()
			b.countDrop(ctx, ev)
			return
		}
		b.admission.Unlock()
		return
	}
	b.busy = true
	b.admission.Unlock()

	b.dispatch(ctx, ev)
	for {
		b.admission.Lock()
		next, ok := b.queue.pop()
		if !ok {
			b.busy = false
			b.admission.Unlock()
			return
		}
		b.admission.Unlock()
		// Each queued emission dispatches under its own emit-time context.
		b.dispatch(next.ctx, next.ev)
	}
}

// EmitSync dispatches to the current subscriber snapshot synchronously, in
// registration order, isolating per-handler failures. It bypasses the queue
// entirely, so there is no ordering guarantee between EmitSync and Emit.
// The bus itself uses this path for system.error self-reporting, which keeps
// error reporting bounded to depth one.
func (b *Bus) EmitSync(ctx context.Context, p Payload, opts ...EmitOption) {
	if !b.Running() {
		return
	}
	ev := b.newEvent(p, opts...)
	snapshot := b.reg.snapshot(ev.Kind)
	if len(snapshot) == 0 {
		return
	}
	b.countEmitted(ctx, ev)
	for _, sub := range snapshot {
		b.invoke(ctx, ev, sub)
	}
}

// Snapshot returns the read-only operational surface for monitoring.
func (b *Bus) Snapshot() Snapshot {
	active := b.reg.active()
	queueLen := b.queue.len()
	return Snapshot{
		TotalEvents:         b.collector.totalEvents(),
		ActiveSubscriptions: active,
		TotalSubscriptions:  b.reg.cumulative(),
		TopKinds:            b.collector.topKinds(),
		ApproxMemoryBytes:   approxMemory(active, queueLen),
		QueueLen:            queueLen,
		Dropped:             b.queue.droppedCount(),
		Swept:               b.sweeper.sweptCount(),
	}
}

// Sweep runs one sweeper pass immediately and returns the number of
// subscriptions removed. The background loop calls this on its own period.
func (b *Bus) Sweep() int {
	return b.sweeper.sweep()
}

func (b *Bus) newEvent(p Payload, opts ...EmitOption) Event {
	c := &emitConfig{}
	for _, opt := range opts {
		opt(c)
	}
	id := c.id
	if id == "" {
		id = NewID()
	}
	var chain []string
	if len(c.chain) > 0 {
		chain = append(chain, c.chain...)
	}
	return Event{
		ID:        id,
		Kind:      KindOf(p),
		Payload:   p,
		Chain:     chain,
		EmittedAt: b.clk.Now(),
	}
}

// dispatch fans one emission out to the subscriber snapshot taken at entry.
// Handlers added mid-dispatch are not invoked for this emission. Handlers
// run concurrently and are all awaited before the next queued emission is
// taken, so queued order is preserved.
func (b *Bus) dispatch(ctx context.Context, ev Event) {
	snapshot := b.reg.snapshot(ev.Kind)
	if len(snapshot) == 0 {
		b.logger.Debug("no subscribers", "kind", ev.Kind, "event", ev.ID)
		return
	}
	b.countEmitted(ctx, ev)

	if b.tracingEnabled {
		tracer := otel.Tracer(b.name)
		var span trace.Span
		ctx, span = tracer.Start(ctx, fmt.Sprintf("%s.dispatch", ev.Kind),
			trace.WithAttributes(
				attribute.String("event.id", ev.ID),
				attribute.String("event.kind", string(ev.Kind)),
				attribute.Int("event.chain_depth", len(ev.Chain)),
				attribute.Int("event.subscribers", len(snapshot))),
			trace.WithSpanKind(trace.SpanKindProducer))
		defer span.End()
	}

	var wg sync.WaitGroup
	for _, sub := range snapshot {
		wg.Add(1)
		go func(sub *subscription) {
			defer wg.Done()
			b.invoke(ctx, ev, sub)
		}(sub)
	}
	wg.Wait()
}

// invoke runs one handler with panic recovery. A once-subscription must be
// claimed before its handler runs: the synchronous path takes snapshots
// without serializing against other dispatches, so two overlapping emissions
// can both hold it. It is touched and removed only after its own invocation
// completes, normally or not.
func (b *Bus) invoke(ctx context.Context, ev Event, sub *subscription) {
	if !b.reg.claimOnce(sub) {
		return
	}
	hctx := contextWithDispatch(ctx, ev, sub, b.logger)
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		err = sub.handler(hctx, ev)
	}()
	b.reg.touch(sub, b.clk.Now())
	if sub.once {
		b.reg.remove(sub.id)
	}
	if err != nil {
		b.reportHandlerError(ctx, ev, sub, err)
	}
}

// reportHandlerError logs a recovered handler failure and self-emits a
// system.error through the synchronous path only. Failures inside
// system.error handlers are logged but never re-reported, bounding
// self-reporting to depth one.
func (b *Bus) reportHandlerError(ctx context.Context, ev Event, sub *subscription, err error) {
	he := &HandlerError{Kind: ev.Kind, SubscriptionID: sub.id, Owner: sub.owner, Err: err}
	b.logger.Error("handler failed", "kind", ev.Kind, "owner", sub.owner, "subscription", sub.id, "error", err)
	if b.handlerErrCtr != nil {
		b.handlerErrCtr.Add(ctx, 1,
			metric.WithAttributes(attribute.String("kind", string(ev.Kind))))
	}
	if ev.Kind == KindSystemError {
		return
	}
	b.EmitSync(ctx, SystemErrorPayload{
		Origin:         ev.Kind,
		SubscriptionID: sub.id,
		Owner:          sub.owner,
		Err:            he.Err.Error(),
	})
}

func (b *Bus) countEmitted(ctx context.Context, ev Event) {
	b.collector.record(ev.Kind)
	if b.emittedCtr != nil {
		b.emittedCtr.Add(ctx, 1,
			metric.WithAttributes(attribute.String("kind", string(ev.Kind))))
	}
}

func (b *Bus) countDrop(ctx context.Context, ev Event) {
	dropped := b.queue.droppedCount()
	// Every drop is counted; only every 100th is logged at warn to keep a
	// flooding producer from flooding the log as well.
	if dropped%100 == 1 {
		b.logger.Warn("dispatch queue full, dropping event",
			"kind", ev.Kind, "event", ev.ID, "dropped_total", dropped)
	} else {
		b.logger.Debug("dispatch queue full, dropping event",
			"kind", ev.Kind, "event", ev.ID, "dropped_total", dropped)
	}
	if b.droppedCtr != nil {
		b.droppedCtr.Add(ctx, 1,
			metric.WithAttributes(attribute.String("kind", string(ev.Kind))))
	}
}
