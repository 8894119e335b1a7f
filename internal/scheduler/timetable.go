package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/aristath/algorunner/internal/events"
	"github.com/aristath/algorunner/internal/metrics"
	"github.com/aristath/algorunner/internal/modules/market_hours"
	"github.com/rs/zerolog"
)

// Timetable entry ids. Stable ids make a rebuild replace the day's jobs.
const (
	JobOnOpen     = "on_open"
	JobOnIPO      = "on_ipo"
	JobPreClose   = "pre_close"
	JobOnClose    = "on_close"
	JobOnTickAM   = "on_tick_am"
	JobOnTickFM   = "on_tick_fm"
	JobAfterClose = "after_close"

	keepalivePrefix = "keepalive:"
)

const (
	DefaultTickInterval      = 15 * time.Second
	DefaultKeepaliveInterval = 120 * time.Second
)

// ErrNoBoundaries is returned when a trading-day phase carries no session boundaries.
var ErrNoBoundaries = errors.New("trading phase without session boundaries")

// Classifier yields the market phase the timetable is derived from.
type Classifier interface {
	Classify(ctx context.Context, now time.Time) market_hours.Phase
}

// Dispatcher is the part of the event engine the timetable drives.
type Dispatcher interface {
	Trigger(ev events.Event)
	Register(typ events.EventType, h events.Handler)
}

// Keepaliver is a long-lived trading session that must be pinged during market hours.
type Keepaliver interface {
	Name() string
	Keepalive(ctx context.Context) error
}

// TimetableConfig configures a Timetable. Zero fields take defaults.
type TimetableConfig struct {
	TickInterval      time.Duration
	KeepaliveInterval time.Duration
	AfterClose        bool
}

// Timetable turns a market phase into the day's job entries and installs them.
type Timetable struct {
	probe       Classifier
	store       *Store
	dispatcher  Dispatcher
	cfg         TimetableConfig
	randMinutes func() int
	metrics     metrics.Sink
	log         zerolog.Logger

	keepalivers map[string]Keepaliver
	installed   map[string]bool
	mu          sync.Mutex
}

// NewTimetable creates a timetable and registers its keepalive handler on dispatcher.
func NewTimetable(probe Classifier, store *Store, dispatcher Dispatcher, cfg TimetableConfig, sink metrics.Sink, log zerolog.Logger) *Timetable {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if sink == nil {
		sink = metrics.NewNoopSink()
	}

	t := &Timetable{
		probe:       probe,
		store:       store,
		dispatcher:  dispatcher,
		cfg:         cfg,
		randMinutes: randomIPODelay,
		metrics:     sink,
		log:         log.With().Str("component", "timetable").Logger(),
		keepalivers: make(map[string]Keepaliver),
		installed:   make(map[string]bool),
	}
	dispatcher.Register(events.Keepalive, events.NewSink("timetable.keepalive", t.handleKeepalive))
	return t
}

// AddKeepaliver registers k for keepalive pings from the next build on.
func (t *Timetable) AddKeepaliver(k Keepaliver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keepalivers[k.Name()] = k
}

// RemoveKeepaliver stops pinging the named session from the next build on.
func (t *Timetable) RemoveKeepaliver(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.keepalivers, name)
}

// Keepalivers returns the names of the registered sessions, sorted.
func (t *Timetable) Keepalivers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.keepalivers))
	for name := range t.keepalivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entries computes the day's entries for phase. A closed phase yields no entries.
func (t *Timetable) Entries(phase market_hours.Phase) ([]Entry, error) {
	if phase.Status == market_hours.StatusClosed {
		return nil, nil
	}
	b := phase.Boundaries
	if b.IsZero() {
		return nil, fmt.Errorf("%w: status %s", ErrNoBoundaries, phase.Status)
	}

	entries := []Entry{
		t.oneShot(JobOnOpen, events.OnOpen, b.AMOpen.Add(time.Minute), phase),
		t.oneShot(JobOnIPO, events.OnIPO, b.AMClose.Add(time.Duration(t.randMinutes())*time.Minute), phase),
		t.oneShot(JobPreClose, events.PreClose, b.FMClose.Add(-10*time.Minute), phase),
		t.oneShot(JobOnClose, events.OnClose, b.FMClose.Add(-5*time.Minute), phase),
		t.interval(JobOnTickAM, events.OnTick, b.AMOpen.Add(time.Minute), b.AMClose, t.cfg.TickInterval, phase),
		t.interval(JobOnTickFM, events.OnTick, b.FMOpen.Add(time.Minute), b.FMClose.Add(-5*time.Minute), t.cfg.TickInterval, phase),
	}
	if t.cfg.AfterClose {
		entries = append(entries, t.oneShot(JobAfterClose, events.AfterClose, b.FMClose.Add(10*time.Minute), phase))
	}

	t.mu.Lock()
	names := make([]string, 0, len(t.keepalivers))
	for name := range t.keepalivers {
		names = append(names, name)
	}
	t.mu.Unlock()
	sort.Strings(names)

	for _, name := range names {
		entries = append(entries, t.keepalive(name, b.AMOpen, b.FMClose.Add(10*time.Minute)))
	}
	return entries, nil
}

// Build classifies the market at now, installs the day's entries and emits
// before_trade. It returns the entries actually installed; entries already in the
// past are skipped.
func (t *Timetable) Build(ctx context.Context, now time.Time) (market_hours.Phase, []Entry, error) {
	phase := t.probe.Classify(ctx, now)

	entries, err := t.Entries(phase)
	if err != nil {
		t.log.Warn().Err(err).Str("status", string(phase.Status)).Msg("Timetable build failed, no jobs installed")
		return phase, nil, err
	}
	if len(entries) == 0 {
		t.log.Info().
			Str("status", string(phase.Status)).
			Time("valid_until", phase.ValidUntil).
			Msg("Market closed, no trading jobs today")
		return phase, nil, nil
	}

	installed := make([]Entry, 0, len(entries))
	ids := make(map[string]bool, len(entries))
	for _, e := range entries {
		if err := t.store.Add(e); err != nil {
			if errors.Is(err, ErrExpired) {
				t.log.Debug().Str("job", e.ID).Msg("Job already past, skipped")
			} else {
				t.log.Warn().Err(err).Str("job", e.ID).Msg("Failed to install job")
			}
			continue
		}
		installed = append(installed, e)
		ids[e.ID] = true
	}

	// Drop jobs of the previous build that this build no longer produces
	t.mu.Lock()
	for id := range t.installed {
		if !ids[id] && t.store.Remove(id) {
			t.log.Debug().Str("job", id).Msg("Stale job removed")
		}
	}
	t.installed = ids
	t.mu.Unlock()

	t.metrics.JobsInstalled(len(installed))
	t.dispatcher.Trigger(events.New(events.BeforeTrade, phase))

	t.log.Info().
		Str("status", string(phase.Status)).
		Int("jobs", len(installed)).
		Msg("Timetable built")
	return phase, installed, nil
}

func (t *Timetable) oneShot(id string, typ events.EventType, at time.Time, phase market_hours.Phase) Entry {
	return Entry{
		ID:     id,
		Kind:   KindOneShot,
		FireAt: at,
		Run:    t.emit(typ, phase),
		Labels: map[string]string{"event": string(typ), "status": string(phase.Status)},
	}
}

func (t *Timetable) interval(id string, typ events.EventType, start, end time.Time, period time.Duration, phase market_hours.Phase) Entry {
	return Entry{
		ID:     id,
		Kind:   KindInterval,
		Start:  start,
		End:    end,
		Period: period,
		Run:    t.emit(typ, phase),
		Labels: map[string]string{"event": string(typ), "status": string(phase.Status)},
	}
}

func (t *Timetable) keepalive(name string, start, end time.Time) Entry {
	return Entry{
		ID:     keepalivePrefix + name,
		Kind:   KindInterval,
		Start:  start,
		End:    end,
		Period: t.cfg.KeepaliveInterval,
		Run: func() error {
			t.dispatcher.Trigger(events.FromData(&events.KeepaliveData{Trader: name, FiredAt: time.Now()}))
			return nil
		},
		Labels: map[string]string{"event": string(events.Keepalive), "trader": name},
	}
}

// randomIPODelay spreads the on_ipo fire over 30 to 90 minutes after the morning close.
func randomIPODelay() int {
	return 30 + rand.Intn(61)
}

// emit returns a job action that only enqueues; handlers run on engine workers.
func (t *Timetable) emit(typ events.EventType, phase market_hours.Phase) func() error {
	return func() error {
		t.dispatcher.Trigger(events.New(typ, phase))
		return nil
	}
}

func (t *Timetable) handleKeepalive(ctx context.Context, ev events.Event) error {
	data, ok := ev.Payload().(*events.KeepaliveData)
	if !ok {
		return fmt.Errorf("unexpected keepalive payload %T", ev.Payload())
	}

	t.mu.Lock()
	k, ok := t.keepalivers[data.Trader]
	t.mu.Unlock()
	if !ok {
		t.log.Debug().Str("trader", data.Trader).Msg("Keepalive for unknown trader ignored")
		return nil
	}

	if err := k.Keepalive(ctx); err != nil {
		return fmt.Errorf("keepalive %s: %w", data.Trader, err)
	}
	return nil
}
