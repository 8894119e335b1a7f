// Package strategy binds trading strategies to the lifecycle events of the trading day.
package strategy

import (
	"context"
	"time"

	"github.com/aristath/algorunner/internal/events"
	"github.com/rs/zerolog"
)

// Context is handed to every hook of a bound strategy.
type Context struct {
	Config *Config
	Log    zerolog.Logger
	Now    func() time.Time
}

// NewContext creates a strategy context for cfg.
func NewContext(cfg *Config, log zerolog.Logger) *Context {
	return &Context{
		Config: cfg,
		Log:    log.With().Str("strategy", cfg.Name).Logger(),
		Now:    time.Now,
	}
}

// Strategy reacts to the trading-day lifecycle. Each hook may return follow-up events.
type Strategy interface {
	Name() string
	BeforeTrade(ctx context.Context, sc *Context, ev events.Event) (events.Result, error)
	OnOpen(ctx context.Context, sc *Context, ev events.Event) (events.Result, error)
	OnTick(ctx context.Context, sc *Context, ev events.Event) (events.Result, error)
	OnIPO(ctx context.Context, sc *Context, ev events.Event) (events.Result, error)
	PreClose(ctx context.Context, sc *Context, ev events.Event) (events.Result, error)
	OnClose(ctx context.Context, sc *Context, ev events.Event) (events.Result, error)
	AfterClose(ctx context.Context, sc *Context, ev events.Event) (events.Result, error)
}

// Base implements every hook as a no-op. Embed it and override what you need.
type Base struct{}

func (Base) BeforeTrade(ctx context.Context, sc *Context, ev events.Event) (events.Result, error) {
	return events.None(), nil
}

func (Base) OnOpen(ctx context.Context, sc *Context, ev events.Event) (events.Result, error) {
	return events.None(), nil
}

func (Base) OnTick(ctx context.Context, sc *Context, ev events.Event) (events.Result, error) {
	return events.None(), nil
}

func (Base) OnIPO(ctx context.Context, sc *Context, ev events.Event) (events.Result, error) {
	return events.None(), nil
}

func (Base) PreClose(ctx context.Context, sc *Context, ev events.Event) (events.Result, error) {
	return events.None(), nil
}

func (Base) OnClose(ctx context.Context, sc *Context, ev events.Event) (events.Result, error) {
	return events.None(), nil
}

func (Base) AfterClose(ctx context.Context, sc *Context, ev events.Event) (events.Result, error) {
	return events.None(), nil
}
