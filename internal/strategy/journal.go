package strategy

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/aristath/algorunner/internal/events"
	"github.com/aristath/algorunner/internal/modules/market_hours"
)

// Counter keys persisted by the journal.
const (
	CounterTradingDays = "trading_days"
	CounterTicks       = "ticks"
	CounterLastTicks   = "last_day_ticks"
)

// Journal logs every lifecycle event and persists tick statistics at the close.
type Journal struct {
	Base

	dayTicks atomic.Int64
	mu       sync.Mutex
}

// NewJournal creates a journal strategy.
func NewJournal() *Journal {
	return &Journal{}
}

func (j *Journal) Name() string {
	return "journal"
}

func (j *Journal) BeforeTrade(ctx context.Context, sc *Context, ev events.Event) (events.Result, error) {
	j.dayTicks.Store(0)
	entry := sc.Log.Info().Str("event", string(ev.Type()))
	if phase, ok := ev.Payload().(market_hours.Phase); ok {
		entry = entry.Str("status", string(phase.Status)).Time("fm_close", phase.Boundaries.FMClose)
	}
	entry.Msg("Trading day prepared")
	return events.None(), nil
}

func (j *Journal) OnOpen(ctx context.Context, sc *Context, ev events.Event) (events.Result, error) {
	sc.Log.Info().Str("event", string(ev.Type())).Msg("Market open")
	return events.None(), nil
}

func (j *Journal) OnTick(ctx context.Context, sc *Context, ev events.Event) (events.Result, error) {
	n := j.dayTicks.Add(1)
	sc.Log.Debug().Int64("tick", n).Msg("Tick")
	return events.None(), nil
}

func (j *Journal) OnIPO(ctx context.Context, sc *Context, ev events.Event) (events.Result, error) {
	sc.Log.Info().Str("event", string(ev.Type())).Msg("IPO subscription window")
	return events.None(), nil
}

func (j *Journal) PreClose(ctx context.Context, sc *Context, ev events.Event) (events.Result, error) {
	sc.Log.Info().Int64("ticks", j.dayTicks.Load()).Msg("Market closing soon")
	return events.None(), nil
}

// OnClose folds the day's ticks into the persisted counters and saves the config.
func (j *Journal) OnClose(ctx context.Context, sc *Context, ev events.Event) (events.Result, error) {
	ticks := j.dayTicks.Load()

	j.mu.Lock()
	defer j.mu.Unlock()

	cfg := sc.Config
	cfg.ensureMaps()
	cfg.Counters[CounterTradingDays]++
	cfg.Counters[CounterTicks] += ticks
	cfg.Counters[CounterLastTicks] = ticks
	cfg.UpdatedAt = sc.Now()

	if err := cfg.Save(); err != nil {
		return events.None(), err
	}

	sc.Log.Info().
		Int64("ticks", ticks).
		Int64("trading_days", cfg.Counters[CounterTradingDays]).
		Msg("Journal saved")
	return events.None(), nil
}

func (j *Journal) AfterClose(ctx context.Context, sc *Context, ev events.Event) (events.Result, error) {
	sc.Log.Info().Msg("Trading day finished")
	return events.None(), nil
}

// DayTicks returns the ticks seen since the last before_trade.
func (j *Journal) DayTicks() int64 {
	return j.dayTicks.Load()
}
