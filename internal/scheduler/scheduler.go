// Package scheduler owns the job store and the daily trading timetable that feeds
// lifecycle events into the dispatch engine.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aristath/algorunner/internal/metrics"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var (
	// ErrExpired is returned by Add for an entry that has no fire time left.
	ErrExpired = errors.New("entry has no future fire time")
	// ErrInvalidEntry is returned by Add for an entry that cannot be scheduled.
	ErrInvalidEntry = errors.New("invalid entry")
)

// Entry is one job: an id, a schedule shape and the action to run when it fires.
// Only the fields matching Kind are read.
type Entry struct {
	ID     string
	Kind   Kind
	FireAt time.Time     // KindOneShot
	Start  time.Time     // KindInterval
	End    time.Time     // KindInterval
	Period time.Duration // KindInterval
	Spec   string        // KindCron
	Run    func() error

	// Labels are copied into the run history of this entry.
	Labels map[string]string
}

// schedule builds the cron.Schedule for e.
func (e Entry) schedule(loc *time.Location) (cron.Schedule, error) {
	if e.ID == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidEntry)
	}
	if e.Run == nil {
		return nil, fmt.Errorf("%w: %s has no action", ErrInvalidEntry, e.ID)
	}

	switch e.Kind {
	case KindOneShot:
		if e.FireAt.IsZero() {
			return nil, fmt.Errorf("%w: %s has no fire time", ErrInvalidEntry, e.ID)
		}
		return onceSchedule{at: e.FireAt}, nil
	case KindInterval:
		if e.Period <= 0 {
			return nil, fmt.Errorf("%w: %s has non-positive period", ErrInvalidEntry, e.ID)
		}
		if e.End.Before(e.Start) {
			return nil, fmt.Errorf("%w: %s ends before it starts", ErrInvalidEntry, e.ID)
		}
		return intervalSchedule{start: e.Start, end: e.End, period: e.Period}, nil
	case KindCron:
		sched, err := ParseSpec(e.Spec)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEntry, e.ID, err)
		}
		return locSchedule{sched: sched, loc: loc}, nil
	default:
		return nil, fmt.Errorf("%w: %s has unknown kind %q", ErrInvalidEntry, e.ID, e.Kind)
	}
}

// JobInfo describes an installed entry.
type JobInfo struct {
	ID      string    `json:"id"`
	Kind    Kind      `json:"kind"`
	Spec    string    `json:"spec,omitempty"`
	NextRun time.Time `json:"next_run"`
	PrevRun time.Time `json:"prev_run,omitempty"`
}

type installed struct {
	entryID  cron.EntryID
	entry    Entry
	schedule cron.Schedule
}

// Store manages timetable jobs on top of a cron runner. Entries are keyed by id and
// adding an id that already exists replaces the old entry.
type Store struct {
	cron    *cron.Cron
	loc     *time.Location
	now     func() time.Time
	history HistoryRecorder
	metrics metrics.Sink
	log     zerolog.Logger

	entries map[string]*installed
	started bool
	mu      sync.Mutex
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithHistory records every fire through r.
func WithHistory(r HistoryRecorder) StoreOption {
	return func(s *Store) { s.history = r }
}

// WithMetrics reports fires and installs to sink.
func WithMetrics(sink metrics.Sink) StoreOption {
	return func(s *Store) { s.metrics = sink }
}

// WithClock overrides the clock used for expiry checks and listings.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates a new job store evaluating schedules in loc.
func NewStore(loc *time.Location, log zerolog.Logger, opts ...StoreOption) *Store {
	if loc == nil {
		loc = time.Local
	}
	s := &Store{
		loc:     loc,
		now:     time.Now,
		metrics: metrics.NewNoopSink(),
		log:     log.With().Str("component", "scheduler").Logger(),
		entries: make(map[string]*installed),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cron = cron.New(cron.WithLocation(loc), cron.WithLogger(cronLogger{log: s.log}))
	return s
}

// Location returns the timezone schedules are evaluated in.
func (s *Store) Location() *time.Location {
	return s.loc
}

// Start starts the timer loop on its own goroutine. Calling Start twice does nothing.
func (s *Store) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.cron.Start()
	s.started = true
	s.log.Info().Int("jobs", len(s.entries)).Msg("Scheduler started")
}

// Shutdown stops the timer loop and waits for running jobs, or until ctx is done.
func (s *Store) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		s.log.Info().Msg("Scheduler stopped")
		return nil
	case <-ctx.Done():
		s.log.Warn().Msg("Scheduler shutdown interrupted with jobs still running")
		return ctx.Err()
	}
}

// Add installs e, replacing any entry with the same id. An entry whose schedule has
// no fire time left is not installed and ErrExpired is returned; an older entry with
// the same id is still removed.
func (s *Store) Add(e Entry) error {
	sched, err := e.schedule(s.loc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := s.removeLocked(e.ID)

	next := sched.Next(s.now().In(s.loc))
	if next.IsZero() {
		return fmt.Errorf("%w: %s", ErrExpired, e.ID)
	}

	inst := &installed{entry: e, schedule: sched}
	inst.entryID = s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(inst) }))
	s.entries[e.ID] = inst

	s.log.Debug().
		Str("job", e.ID).
		Str("kind", string(e.Kind)).
		Time("next_run", next).
		Bool("replaced", replaced).
		Msg("Job registered")
	return nil
}

// Remove uninstalls the entry with the given id. Reports whether it existed.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(id)
}

// removeLocked must be called with lock held.
func (s *Store) removeLocked(id string) bool {
	old, ok := s.entries[id]
	if !ok {
		return false
	}
	s.cron.Remove(old.entryID)
	delete(s.entries, id)
	return true
}

// Has reports whether an entry with id is installed.
func (s *Store) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

// Len returns the number of installed entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Entries lists installed entries ordered by next fire time.
func (s *Store) Entries() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().In(s.loc)
	infos := make([]JobInfo, 0, len(s.entries))
	for id, inst := range s.entries {
		info := JobInfo{
			ID:      id,
			Kind:    inst.entry.Kind,
			Spec:    inst.entry.Spec,
			NextRun: inst.schedule.Next(now),
		}
		if ce := s.cron.Entry(inst.entryID); ce.Valid() {
			info.PrevRun = ce.Prev
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		a, b := infos[i].NextRun, infos[j].NextRun
		if a.IsZero() != b.IsZero() {
			return b.IsZero()
		}
		if !a.Equal(b) {
			return a.Before(b)
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// RunNow executes the entry's action immediately, outside its schedule.
func (s *Store) RunNow(id string) error {
	s.mu.Lock()
	inst, ok := s.entries[id]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown job: %s", id)
	}
	s.log.Info().Str("job", id).Msg("Running job immediately")
	return s.run(inst)
}

// fire is invoked on the cron goroutine when inst is due.
func (s *Store) fire(inst *installed) {
	_ = s.run(inst)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Drop entries that will never fire again, unless they were replaced meanwhile
	if cur, ok := s.entries[inst.entry.ID]; ok && cur == inst {
		if inst.schedule.Next(s.now().In(s.loc)).IsZero() {
			s.cron.Remove(inst.entryID)
			delete(s.entries, inst.entry.ID)
			s.log.Debug().Str("job", inst.entry.ID).Msg("Expired job removed")
		}
	}
}

func (s *Store) run(inst *installed) (err error) {
	id := inst.entry.ID
	started := s.now()
	s.log.Debug().Str("job", id).Msg("Running job")

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panic: %v", r)
		}

		s.metrics.JobFired(id)
		if err != nil {
			s.log.Error().Err(err).Str("job", id).Msg("Job failed")
		} else {
			s.log.Debug().Str("job", id).Msg("Job completed")
		}

		if s.history != nil {
			run := JobRun{
				JobID:    id,
				Kind:     inst.entry.Kind,
				FiredAt:  started,
				Duration: s.now().Sub(started),
				Labels:   inst.entry.Labels,
			}
			if err != nil {
				run.Error = err.Error()
			}
			if herr := s.history.Record(context.Background(), run); herr != nil {
				s.log.Warn().Err(herr).Str("job", id).Msg("Failed to record job run")
			}
		}
	}()

	return inst.entry.Run()
}

// cronLogger routes cron's internal logging through zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Trace().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
