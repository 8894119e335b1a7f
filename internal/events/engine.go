package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aristath/algorunner/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	DefaultWorkers     = 5
	DefaultPollTimeout = 300 * time.Millisecond
	DefaultStopGrace   = time.Second
)

// ErrInvalidEvent is returned when triggering the zero Event.
var ErrInvalidEvent = errors.New("event has no type")

// Options configures an Engine. Zero values fall back to the defaults above; a zero
// QueueSize means an unbounded queue.
type Options struct {
	Workers     int
	QueueSize   int
	PollTimeout time.Duration
	StopGrace   time.Duration
	Metrics     metrics.Sink
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = DefaultPollTimeout
	}
	if o.StopGrace <= 0 {
		o.StopGrace = DefaultStopGrace
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NewNoopSink()
	}
	return o
}

// Engine dispatches queued events to registered handlers on a fixed worker pool.
type Engine struct {
	registry *Registry
	queue    *queue
	opts     Options
	metrics  metrics.Sink
	log      zerolog.Logger

	gen *generation
	mu  sync.Mutex
}

// generation is one Start/Stop cycle of the worker pool.
type generation struct {
	quit   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// gate is read-held across every handler call and write-taken by halt.
	gate   sync.RWMutex
	halted atomic.Bool
}

// call runs fn unless the generation is halted. The read lock spans fn, so halt can
// wait for every call admitted before it.
func (g *generation) call(fn func()) bool {
	g.gate.RLock()
	defer g.gate.RUnlock()
	if g.halted.Load() {
		return false
	}
	fn()
	return true
}

// halt refuses new calls, cancels the handler context and waits up to settle for
// admitted calls to return. It reports whether they all did. A pending writer blocks
// new readers, so once halt returns no call can pass the check.
func (g *generation) halt(settle time.Duration) bool {
	g.halted.Store(true)
	g.cancel()

	drained := make(chan struct{})
	go func() {
		g.gate.Lock()
		g.gate.Unlock()
		close(drained)
	}()

	timer := time.NewTimer(settle)
	defer timer.Stop()
	select {
	case <-drained:
		return true
	case <-timer.C:
		return false
	}
}

// NewEngine creates a stopped engine.
func NewEngine(opts Options, log zerolog.Logger) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		registry: NewRegistry(),
		queue:    newQueue(opts.QueueSize),
		opts:     opts,
		metrics:  opts.Metrics,
		log:      log.With().Str("component", "event_engine").Logger(),
	}
}

// Register adds h for typ. A handler is registered at most once per type.
func (e *Engine) Register(typ EventType, h Handler) {
	if e.registry.Register(typ, h) {
		e.log.Debug().
			Str("event_type", string(typ)).
			Str("handler", HandlerName(h)).
			Msg("Handler registered")
	}
}

// Unregister removes h for typ if present.
func (e *Engine) Unregister(typ EventType, h Handler) {
	if e.registry.Unregister(typ, h) {
		e.log.Debug().
			Str("event_type", string(typ)).
			Str("handler", HandlerName(h)).
			Msg("Handler unregistered")
	}
}

// On registers fn under name for typ and returns the handler so it can be unregistered.
func (e *Engine) On(typ EventType, name string, fn func(ctx context.Context, ev Event) (Result, error)) *FuncHandler {
	h := NewHandler(name, fn)
	e.Register(typ, h)
	return h
}

// Handlers returns the handler snapshot for typ.
func (e *Engine) Handlers(typ EventType) []Handler {
	return e.registry.Handlers(typ)
}

// Registry exposes the handler registry for inspection.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Trigger enqueues ev and returns. With a bounded queue it blocks while the queue is full.
func (e *Engine) Trigger(ev Event) {
	if err := e.TriggerContext(context.Background(), ev); err != nil {
		e.log.Warn().Err(err).Str("event_type", string(ev.Type())).Msg("Failed to trigger event")
	}
}

// TriggerContext is Trigger with a context bounding the wait on a full queue.
func (e *Engine) TriggerContext(ctx context.Context, ev Event) error {
	if ev.IsZero() {
		return ErrInvalidEvent
	}
	if err := e.queue.push(ctx, ev); err != nil {
		return fmt.Errorf("enqueue %s: %w", ev.Type(), err)
	}

	e.metrics.EventTriggered(string(ev.Type()))
	e.metrics.QueueDepth(e.queue.len())
	return nil
}

// Pending returns the number of queued, not yet dispatched events.
func (e *Engine) Pending() int {
	return e.queue.len()
}

// Running reports whether the worker pool is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen != nil
}

// Start launches the worker pool. Calling Start on a running engine does nothing.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.gen != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &generation{
		quit:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < e.opts.Workers; i++ {
		g.wg.Add(1)
		go e.work(g, i)
	}
	e.gen = g

	e.log.Info().Int("workers", e.opts.Workers).Msg("Event engine started")
}

// Stop signals the workers and waits up to the stop grace for in-flight events.
// Queued events are not drained. Once Stop returns no handler is invoked again.
func (e *Engine) Stop() {
	e.mu.Lock()
	g := e.gen
	e.gen = nil
	e.mu.Unlock()

	if g == nil {
		return
	}

	close(g.quit)

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.log.Info().Msg("Event engine stopped")
	case <-time.After(e.opts.StopGrace):
		e.log.Warn().
			Dur("grace", e.opts.StopGrace).
			Msg("Event engine stop grace elapsed with handlers still running")
	}

	if !g.halt(e.opts.PollTimeout) {
		e.log.Warn().Msg("Event handlers still running after stop were abandoned")
	}
}

func (e *Engine) work(g *generation, id int) {
	defer g.wg.Done()

	for {
		select {
		case <-g.quit:
			e.log.Debug().Int("worker", id).Msg("Event worker exited")
			return
		default:
		}

		ev, ok := e.queue.pop(e.opts.PollTimeout, g.quit)
		if !ok {
			continue
		}
		e.dispatch(g, ev)
	}
}

// dispatch runs every handler registered for ev in order. Each invocation is isolated:
// an error or panic is logged and the next handler still runs.
func (e *Engine) dispatch(g *generation, ev Event) {
	start := time.Now()
	handlers := e.registry.Handlers(ev.Type())

	for _, h := range handlers {
		var (
			res Result
			err error
		)
		if !g.call(func() { res, err = e.invoke(g.ctx, h, ev) }) {
			return
		}
		if err != nil {
			e.metrics.HandlerFailed(string(ev.Type()))
			e.log.Warn().
				Err(err).
				Str("event_type", string(ev.Type())).
				Str("event_id", ev.ID().String()).
				Str("handler", HandlerName(h)).
				Msg("Event handler failed")
			continue
		}

		for _, next := range res.Events() {
			if err := e.TriggerContext(g.ctx, next); err != nil {
				e.log.Warn().
					Err(err).
					Str("event_type", string(next.Type())).
					Str("cause", string(ev.Type())).
					Msg("Failed to re-trigger handler result")
			}
		}
	}

	e.metrics.EventProcessed(string(ev.Type()), time.Since(start))
	e.metrics.QueueDepth(e.queue.len())
}

func (e *Engine) invoke(ctx context.Context, h Handler, ev Event) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, ev)
}
