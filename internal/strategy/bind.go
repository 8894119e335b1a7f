package strategy

import (
	"context"

	"github.com/aristath/algorunner/internal/events"
)

// Registrar is the registration side of the event engine.
type Registrar interface {
	Register(typ events.EventType, h events.Handler)
	Unregister(typ events.EventType, h events.Handler)
}

type hook func(ctx context.Context, sc *Context, ev events.Event) (events.Result, error)

// Binding holds the handlers registered for one strategy so they can be removed again.
type Binding struct {
	strategy Strategy
	handlers map[events.EventType]*events.FuncHandler
}

// Bind registers one handler per lifecycle event for s, each closing over sc.
func Bind(r Registrar, sc *Context, s Strategy) *Binding {
	hooks := map[events.EventType]hook{
		events.BeforeTrade: s.BeforeTrade,
		events.OnOpen:      s.OnOpen,
		events.OnTick:      s.OnTick,
		events.OnIPO:       s.OnIPO,
		events.PreClose:    s.PreClose,
		events.OnClose:     s.OnClose,
		events.AfterClose:  s.AfterClose,
	}

	b := &Binding{
		strategy: s,
		handlers: make(map[events.EventType]*events.FuncHandler, len(hooks)),
	}
	for _, typ := range events.LifecycleTypes {
		fn := hooks[typ]
		h := events.NewHandler(s.Name()+"."+string(typ), func(ctx context.Context, ev events.Event) (events.Result, error) {
			return fn(ctx, sc, ev)
		})
		b.handlers[typ] = h
		r.Register(typ, h)
	}
	return b
}

// Strategy returns the bound strategy.
func (b *Binding) Strategy() Strategy {
	return b.strategy
}

// Handler returns the handler registered for typ, or nil.
func (b *Binding) Handler(typ events.EventType) events.Handler {
	if h, ok := b.handlers[typ]; ok {
		return h
	}
	return nil
}

// Unbind removes every handler registered by Bind.
func (b *Binding) Unbind(r Registrar) {
	for typ, h := range b.handlers {
		r.Unregister(typ, h)
	}
}
