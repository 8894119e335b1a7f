package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockHistory collects recorded runs.
type MockHistory struct {
	mu   sync.Mutex
	runs []JobRun
	err  error
}

func (m *MockHistory) Record(ctx context.Context, run JobRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return m.err
}

func (m *MockHistory) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

func noop() error { return nil }

func TestStore_AddReplacesByID(t *testing.T) {
	store := NewStore(time.UTC, zerolog.Nop())
	at := time.Now().Add(time.Hour)

	require.NoError(t, store.Add(Entry{ID: "job", Kind: KindOneShot, FireAt: at, Run: noop}))
	require.NoError(t, store.Add(Entry{ID: "job", Kind: KindOneShot, FireAt: at.Add(time.Minute), Run: noop}))

	assert.Equal(t, 1, store.Len())
	infos := store.Entries()
	require.Len(t, infos, 1)
	assert.Equal(t, at.Add(time.Minute).Unix(), infos[0].NextRun.Unix())
}

func TestStore_AddExpired(t *testing.T) {
	store := NewStore(time.UTC, zerolog.Nop())
	future := time.Now().Add(time.Hour)

	require.NoError(t, store.Add(Entry{ID: "job", Kind: KindOneShot, FireAt: future, Run: noop}))

	err := store.Add(Entry{ID: "job", Kind: KindOneShot, FireAt: time.Now().Add(-time.Hour), Run: noop})
	assert.ErrorIs(t, err, ErrExpired)
	assert.False(t, store.Has("job"), "expired replacement still removes the old entry")

	err = store.Add(Entry{
		ID:     "ticks",
		Kind:   KindInterval,
		Start:  time.Now().Add(-2 * time.Hour),
		End:    time.Now().Add(-time.Hour),
		Period: time.Second,
		Run:    noop,
	})
	assert.ErrorIs(t, err, ErrExpired)
}

func TestStore_AddInvalid(t *testing.T) {
	store := NewStore(time.UTC, zerolog.Nop())
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name  string
		entry Entry
	}{
		{"missing id", Entry{Kind: KindOneShot, FireAt: future, Run: noop}},
		{"missing action", Entry{ID: "a", Kind: KindOneShot, FireAt: future}},
		{"missing fire time", Entry{ID: "a", Kind: KindOneShot, Run: noop}},
		{"zero period", Entry{ID: "a", Kind: KindInterval, Start: future, End: future.Add(time.Hour), Run: noop}},
		{"end before start", Entry{ID: "a", Kind: KindInterval, Start: future, End: future.Add(-time.Hour), Period: time.Second, Run: noop}},
		{"bad cron", Entry{ID: "a", Kind: KindCron, Spec: "61 * * * *", Run: noop}},
		{"unknown kind", Entry{ID: "a", Kind: "weekly", Run: noop}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Add(tt.entry)
			assert.ErrorIs(t, err, ErrInvalidEntry)
		})
	}
	assert.Equal(t, 0, store.Len())
}

func TestStore_OneShotFiresOnceAndExpires(t *testing.T) {
	history := &MockHistory{}
	store := NewStore(time.UTC, zerolog.Nop(), WithHistory(history))
	var fired atomic.Int32

	require.NoError(t, store.Add(Entry{
		ID:     "once",
		Kind:   KindOneShot,
		FireAt: time.Now().Add(100 * time.Millisecond),
		Run: func() error {
			fired.Add(1)
			return nil
		},
		Labels: map[string]string{"event": "on_open"},
	}))

	store.Start()
	defer func() { _ = store.Shutdown(context.Background()) }()

	assert.Eventually(t, func() bool { return !store.Has("once") }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
	require.Equal(t, 1, history.count())
	assert.Equal(t, "once", history.runs[0].JobID)
	assert.Equal(t, "on_open", history.runs[0].Labels["event"])
}

func TestStore_IntervalFiresUntilEnd(t *testing.T) {
	store := NewStore(time.UTC, zerolog.Nop())
	var fired atomic.Int32

	start := time.Now().Add(50 * time.Millisecond)
	require.NoError(t, store.Add(Entry{
		ID:     "ticks",
		Kind:   KindInterval,
		Start:  start,
		End:    start.Add(250 * time.Millisecond),
		Period: 100 * time.Millisecond,
		Run: func() error {
			fired.Add(1)
			return nil
		},
	}))

	store.Start()
	defer func() { _ = store.Shutdown(context.Background()) }()

	assert.Eventually(t, func() bool { return !store.Has("ticks") }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(3), fired.Load())
}

func TestStore_FailingJobIsRecorded(t *testing.T) {
	history := &MockHistory{}
	store := NewStore(time.UTC, zerolog.Nop(), WithHistory(history))

	require.NoError(t, store.Add(Entry{
		ID:     "boom",
		Kind:   KindOneShot,
		FireAt: time.Now().Add(50 * time.Millisecond),
		Run:    func() error { panic("boom") },
	}))

	store.Start()
	defer func() { _ = store.Shutdown(context.Background()) }()

	assert.Eventually(t, func() bool { return history.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, history.runs[0].Error, "boom")
}

func TestStore_ShutdownWaitsForRunningJobs(t *testing.T) {
	store := NewStore(time.UTC, zerolog.Nop())
	started := make(chan struct{})
	var finished atomic.Bool

	require.NoError(t, store.Add(Entry{
		ID:     "slow",
		Kind:   KindOneShot,
		FireAt: time.Now().Add(20 * time.Millisecond),
		Run: func() error {
			close(started)
			time.Sleep(150 * time.Millisecond)
			finished.Store(true)
			return nil
		},
	}))

	store.Start()
	<-started

	require.NoError(t, store.Shutdown(context.Background()))
	assert.True(t, finished.Load())

	// A second shutdown is a no-op
	assert.NoError(t, store.Shutdown(context.Background()))
}

func TestStore_ShutdownHonoursContext(t *testing.T) {
	store := NewStore(time.UTC, zerolog.Nop())
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	require.NoError(t, store.Add(Entry{
		ID:     "stuck",
		Kind:   KindOneShot,
		FireAt: time.Now().Add(20 * time.Millisecond),
		Run: func() error {
			close(started)
			<-release
			return nil
		},
	}))

	store.Start()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := store.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStore_EntriesOrderedByNextRun(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)
	now := time.Date(2024, 3, 5, 8, 0, 0, 0, loc)
	store := NewStore(loc, zerolog.Nop(), WithClock(func() time.Time { return now }))

	require.NoError(t, store.Add(Entry{ID: "rebuild", Kind: KindCron, Spec: "27 9 * * 1-5", Run: noop}))
	require.NoError(t, store.Add(Entry{ID: "open", Kind: KindOneShot, FireAt: now.Add(86 * time.Minute), Run: noop}))
	require.NoError(t, store.Add(Entry{
		ID: "tick", Kind: KindInterval, Start: now.Add(time.Hour), End: now.Add(2 * time.Hour), Period: 15 * time.Second, Run: noop,
	}))

	infos := store.Entries()
	require.Len(t, infos, 3)
	assert.Equal(t, "tick", infos[0].ID)
	assert.Equal(t, "open", infos[1].ID)
	assert.Equal(t, "rebuild", infos[2].ID)
	assert.Equal(t, KindCron, infos[2].Kind)
	assert.Equal(t, "27 9 * * 1-5", infos[2].Spec)
	assert.Equal(t, time.Date(2024, 3, 5, 9, 27, 0, 0, loc).Unix(), infos[2].NextRun.Unix())
}

func TestStore_RunNowAndRemove(t *testing.T) {
	store := NewStore(time.UTC, zerolog.Nop())
	var calls atomic.Int32

	require.NoError(t, store.Add(Entry{
		ID:     "manual",
		Kind:   KindOneShot,
		FireAt: time.Now().Add(time.Hour),
		Run: func() error {
			calls.Add(1)
			return errors.New("failed")
		},
	}))

	assert.Error(t, store.RunNow("manual"))
	assert.Equal(t, int32(1), calls.Load())
	assert.Error(t, store.RunNow("missing"))

	assert.True(t, store.Remove("manual"))
	assert.False(t, store.Remove("manual"))
	assert.Equal(t, 0, store.Len())
}
