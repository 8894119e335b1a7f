package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aristath/algorunner/internal/clients/sina"
	"github.com/aristath/algorunner/internal/events"
	"github.com/aristath/algorunner/internal/modules/market_hours"
	"github.com/aristath/algorunner/internal/scheduler"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockEngine records lifecycle calls.
type MockEngine struct {
	mu      sync.Mutex
	started int
	stopped int
}

func (m *MockEngine) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
}

func (m *MockEngine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped++
}

func (m *MockEngine) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started, m.stopped
}

// MockBuilder returns a fixed phase.
type MockBuilder struct {
	mu    sync.Mutex
	phase market_hours.Phase
	err   error
	panic bool
	calls []time.Time
}

func (m *MockBuilder) Build(ctx context.Context, now time.Time) (market_hours.Phase, []scheduler.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, now)
	if m.panic {
		panic("probe exploded")
	}
	return m.phase, nil, m.err
}

func (m *MockBuilder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// MockPruner records the cutoff it was asked to prune.
type MockPruner struct {
	cutoff time.Time
	err    error
}

func (m *MockPruner) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	m.cutoff = cutoff
	return 3, m.err
}

// scriptedFeed serves whatever quote time the test last set.
type scriptedFeed struct {
	mu    sync.Mutex
	quote time.Time
	calls int
}

func (s *scriptedFeed) Fetch(ctx context.Context, symbol string) (*sina.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return &sina.Quote{Symbol: symbol, Time: s.quote}, nil
}

func (s *scriptedFeed) set(quote time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quote = quote
}

type fixture struct {
	loc     *time.Location
	now     time.Time
	engine  *MockEngine
	builder *MockBuilder
	store   *scheduler.Store
}

func newFixture(t *testing.T, now func(loc *time.Location) time.Time) *fixture {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)

	f := &fixture{
		loc:     loc,
		now:     now(loc),
		engine:  &MockEngine{},
		builder: &MockBuilder{},
	}
	f.store = scheduler.NewStore(loc, zerolog.Nop(), scheduler.WithClock(func() time.Time { return f.now }))
	return f
}

// tuesdayMorning is 2024-03-05 08:00 in Shanghai, before the open.
func tuesdayMorning(loc *time.Location) time.Time {
	return time.Date(2024, 3, 5, 8, 0, 0, 0, loc)
}

func (f *fixture) runner(cfg Config, opts ...Option) *Runner {
	opts = append(opts, WithClock(func() time.Time { return f.now }))
	return New(f.engine, f.store, f.builder, cfg, zerolog.Nop(), opts...)
}

func runAsync(ctx context.Context, r *Runner) <-chan error {
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	return done
}

func TestRun_LifecycleAndTeardown(t *testing.T) {
	f := newFixture(t, tuesdayMorning)
	f.builder.phase = market_hours.Phase{Status: market_hours.StatusTrading}
	r := f.runner(Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, r)

	require.Eventually(t, func() bool {
		return f.builder.callCount() == 1 && f.store.Has(JobDailyRebuild)
	}, time.Second, 5*time.Millisecond)

	started, stopped := f.engine.counts()
	assert.Equal(t, 1, started)
	assert.Equal(t, 0, stopped)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	_, stopped = f.engine.counts()
	assert.Equal(t, 1, stopped)
}

func TestRun_RebuildJobSchedule(t *testing.T) {
	f := newFixture(t, tuesdayMorning)
	r := f.runner(Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, r)
	require.Eventually(t, func() bool { return f.store.Has(JobDailyRebuild) }, time.Second, 5*time.Millisecond)

	var next time.Time
	for _, info := range f.store.Entries() {
		if info.ID == JobDailyRebuild {
			next = info.NextRun
		}
	}
	assert.True(t, next.Equal(time.Date(2024, 3, 5, 9, 27, 0, 0, f.loc)), "next rebuild %s", next)

	// The recurring job rebuilds through the same path
	require.NoError(t, f.store.RunNow(JobDailyRebuild))
	assert.Equal(t, 2, f.builder.callCount())

	cancel()
	<-done
}

func TestRun_InvalidRebuildSchedule(t *testing.T) {
	f := newFixture(t, tuesdayMorning)
	r := f.runner(Config{RebuildSchedule: "not a cron"})

	err := r.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, scheduler.ErrInvalidEntry)
	assert.Zero(t, f.builder.callCount())

	started, stopped := f.engine.counts()
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, stopped)
}

func TestRun_PanicIsReturnedAfterTeardown(t *testing.T) {
	f := newFixture(t, tuesdayMorning)
	f.builder.panic = true
	r := f.runner(Config{})

	err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "probe exploded")

	_, stopped := f.engine.counts()
	assert.Equal(t, 1, stopped)
}

func TestRun_BuildFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, tuesdayMorning)
	f.builder.err = scheduler.ErrNoBoundaries
	r := f.runner(Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, r)
	require.Eventually(t, func() bool { return f.builder.callCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestRebuild_Retry(t *testing.T) {
	tests := []struct {
		name      string
		now       func(loc *time.Location) time.Time
		phase     func(loc *time.Location) market_hours.Phase
		wantRetry bool
	}{
		{
			name: "closed before the open expires before the rebuild",
			now:  tuesdayMorning,
			phase: func(loc *time.Location) market_hours.Phase {
				return market_hours.Phase{
					Status:     market_hours.StatusClosed,
					ValidUntil: time.Date(2024, 3, 5, 9, 25, 0, 0, loc),
				}
			},
			wantRetry: true,
		},
		{
			name: "probe failure backoff",
			now: func(loc *time.Location) time.Time {
				return time.Date(2024, 3, 5, 9, 27, 0, 0, loc)
			},
			phase: func(loc *time.Location) market_hours.Phase {
				return market_hours.Phase{
					Status:     market_hours.StatusClosed,
					ValidUntil: time.Date(2024, 3, 5, 9, 27, 30, 0, loc),
				}
			},
			wantRetry: true,
		},
		{
			name: "closed past the next rebuild",
			now: func(loc *time.Location) time.Time {
				return time.Date(2024, 3, 5, 9, 27, 0, 0, loc)
			},
			phase: func(loc *time.Location) market_hours.Phase {
				return market_hours.Phase{
					Status:     market_hours.StatusClosed,
					ValidUntil: time.Date(2024, 3, 6, 10, 0, 0, 0, loc),
				}
			},
			wantRetry: false,
		},
		{
			name: "settled retry would land after the rebuild",
			now:  tuesdayMorning,
			phase: func(loc *time.Location) market_hours.Phase {
				return market_hours.Phase{
					Status:     market_hours.StatusClosed,
					ValidUntil: time.Date(2024, 3, 5, 9, 26, 30, 0, loc),
				}
			},
			wantRetry: false,
		},
		{
			name: "trading day",
			now:  tuesdayMorning,
			phase: func(loc *time.Location) market_hours.Phase {
				return market_hours.Phase{
					Status:     market_hours.StatusTrading,
					ValidUntil: time.Date(2024, 3, 5, 9, 25, 0, 0, loc),
				}
			},
			wantRetry: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.now)
			f.builder.phase = tt.phase(f.loc)
			r := f.runner(Config{})

			require.NoError(t, r.rebuild(context.Background()))
			assert.Equal(t, tt.wantRetry, f.store.Has(JobRebuildRetry))

			if tt.wantRetry {
				var at time.Time
				for _, info := range f.store.Entries() {
					if info.ID == JobRebuildRetry {
						at = info.NextRun
					}
				}
				assert.True(t, at.Equal(f.builder.phase.ValidUntil.Add(DefaultRetrySettle)))
			}
		})
	}
}

func TestRun_HistoryPrune(t *testing.T) {
	f := newFixture(t, tuesdayMorning)
	pruner := &MockPruner{}
	r := f.runner(Config{HistoryRetention: 48 * time.Hour}, WithPruner(pruner))

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, r)
	require.Eventually(t, func() bool { return f.store.Has(JobHistoryPrune) }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.store.RunNow(JobHistoryPrune))
	assert.True(t, pruner.cutoff.Equal(f.now.Add(-48*time.Hour)))

	pruner.err = errors.New("disk full")
	assert.Error(t, f.store.RunNow(JobHistoryPrune))

	cancel()
	<-done
}

func TestRun_NoPruneWithoutRetention(t *testing.T) {
	f := newFixture(t, tuesdayMorning)
	r := f.runner(Config{}, WithPruner(&MockPruner{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, r)
	require.Eventually(t, func() bool { return f.store.Has(JobDailyRebuild) }, time.Second, 5*time.Millisecond)
	assert.False(t, f.store.Has(JobHistoryPrune))

	cancel()
	<-done
}

// MockMaintainer counts maintenance runs.
type MockMaintainer struct {
	runs int
}

func (m *MockMaintainer) Maintain(ctx context.Context) error {
	m.runs++
	return nil
}

func TestRun_Maintenance(t *testing.T) {
	f := newFixture(t, tuesdayMorning)
	maint := &MockMaintainer{}
	r := f.runner(Config{}, WithMaintenance(maint))

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, r)
	require.Eventually(t, func() bool { return f.store.Has(JobMaintenance) }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.store.RunNow(JobMaintenance))
	assert.Equal(t, 1, maint.runs)

	cancel()
	<-done
}

func TestRebuild_PreOpenClassificationDoesNotSuppressTheDay(t *testing.T) {
	f := newFixture(t, tuesdayMorning)
	at := func(h, m, sec int) time.Time { return time.Date(2024, 3, 5, h, m, sec, 0, f.loc) }

	// Yesterday's closing print is all the feed has before the open
	feed := &scriptedFeed{quote: time.Date(2024, 3, 4, 15, 0, 3, 0, f.loc)}
	probe := market_hours.NewProbe(feed, market_hours.ProbeConfig{Location: f.loc}, zerolog.Nop())
	engine := events.NewEngine(events.Options{}, zerolog.Nop())
	timetable := scheduler.NewTimetable(probe, f.store, engine, scheduler.TimetableConfig{}, nil, zerolog.Nop())
	r := New(f.engine, f.store, timetable, Config{}, zerolog.Nop(),
		WithClock(func() time.Time { return f.now }),
		WithRefresher(probe),
	)
	ctx := context.Background()

	require.NoError(t, r.rebuild(ctx))
	require.True(t, f.store.Has(JobRebuildRetry))
	for _, info := range f.store.Entries() {
		if info.ID == JobRebuildRetry {
			assert.True(t, info.NextRun.Equal(at(9, 26, 0)))
		}
	}
	assert.False(t, f.store.Has(scheduler.JobOnTickAM))

	// A classification right at the open still sees the pre-open print and caches
	// closed until tomorrow
	f.now = at(9, 25, 0)
	feed.set(at(9, 24, 58))
	phase := probe.Classify(ctx, f.now)
	require.Equal(t, market_hours.StatusClosed, phase.Status)
	require.True(t, phase.ValidUntil.After(at(23, 59, 0)))

	// The regular rebuild re-probes regardless of that cache
	f.now = at(9, 27, 0)
	feed.set(at(9, 26, 57))
	require.NoError(t, r.rebuild(ctx))

	current, ok := probe.Current()
	require.True(t, ok)
	assert.Equal(t, market_hours.StatusTrading, current.Status)
	assert.True(t, f.store.Has(scheduler.JobOnTickAM))
	assert.True(t, f.store.Has(scheduler.JobOnClose))
	assert.Equal(t, 1, engine.Pending(), "before_trade queued once for the trading day")
}

func TestRebuild_SettledRetryRecoversBeforeTheRegularRebuild(t *testing.T) {
	f := newFixture(t, tuesdayMorning)
	at := func(h, m, sec int) time.Time { return time.Date(2024, 3, 5, h, m, sec, 0, f.loc) }

	feed := &scriptedFeed{quote: time.Date(2024, 3, 4, 15, 0, 3, 0, f.loc)}
	probe := market_hours.NewProbe(feed, market_hours.ProbeConfig{Location: f.loc}, zerolog.Nop())
	engine := events.NewEngine(events.Options{}, zerolog.Nop())
	timetable := scheduler.NewTimetable(probe, f.store, engine, scheduler.TimetableConfig{}, nil, zerolog.Nop())
	r := New(f.engine, f.store, timetable, Config{}, zerolog.Nop(),
		WithClock(func() time.Time { return f.now }),
		WithRefresher(probe),
	)

	require.NoError(t, r.rebuild(context.Background()))
	require.True(t, f.store.Has(JobRebuildRetry))

	// The retry fires a minute after the open, once the feed has printed the session
	f.now = at(9, 26, 0)
	feed.set(at(9, 25, 57))
	require.NoError(t, f.store.RunNow(JobRebuildRetry))

	current, ok := probe.Current()
	require.True(t, ok)
	assert.Equal(t, market_hours.StatusTrading, current.Status)
	assert.True(t, f.store.Has(scheduler.JobOnTickAM))
}
