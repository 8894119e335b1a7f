// Package runner drives one trading process: it keeps the event engine running and
// rebuilds the day's timetable every trading morning.
package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/aristath/algorunner/internal/modules/market_hours"
	"github.com/aristath/algorunner/internal/scheduler"
	"github.com/rs/zerolog"
)

// Job ids owned by the runner.
const (
	JobDailyRebuild = "daily_rebuild"
	JobRebuildRetry = "rebuild_retry"
	JobHistoryPrune = "history_prune"
	JobMaintenance  = "db_maintenance"
)

const (
	DefaultRebuildSchedule = "27 9 * * 1-5"
	DefaultPruneSchedule   = "0 3 * * *"
	DefaultMaintSchedule   = "30 3 * * *"
	DefaultShutdownTimeout = 30 * time.Second

	// DefaultRetrySettle delays a rebuild retry past the classification expiry, so the
	// feed has printed the new session by the time it re-probes.
	DefaultRetrySettle = time.Minute
)

// Engine is the lifecycle of the dispatch engine.
type Engine interface {
	Start()
	Stop()
}

// Builder installs the day's timetable.
type Builder interface {
	Build(ctx context.Context, now time.Time) (market_hours.Phase, []scheduler.Entry, error)
}

// Pruner deletes job history older than cutoff.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Refresher drops a cached market classification before a rebuild.
type Refresher interface {
	Invalidate()
}

// Maintainer checks and compacts a database.
type Maintainer interface {
	Maintain(ctx context.Context) error
}

// Config configures a Runner. Zero fields take defaults.
type Config struct {
	RebuildSchedule  string
	PruneSchedule    string
	MaintSchedule    string
	HistoryRetention time.Duration
	ShutdownTimeout  time.Duration
	RetrySettle      time.Duration
}

// Runner owns the process lifecycle of the engine and the job store.
type Runner struct {
	engine    Engine
	store     *scheduler.Store
	timetable Builder
	pruner    Pruner
	maint     Maintainer
	refresher Refresher
	cfg       Config
	now       func() time.Time
	log       zerolog.Logger
}

// Option customizes a Runner.
type Option func(*Runner)

// WithPruner installs a daily job pruning history older than Config.HistoryRetention.
func WithPruner(p Pruner) Option {
	return func(r *Runner) { r.pruner = p }
}

// WithRefresher makes every rebuild re-probe the market instead of trusting a
// classification cached earlier, e.g. by the status monitor.
func WithRefresher(p Refresher) Option {
	return func(r *Runner) { r.refresher = p }
}

// WithMaintenance installs a daily database maintenance job.
func WithMaintenance(m Maintainer) Option {
	return func(r *Runner) { r.maint = m }
}

// WithClock overrides the clock used for builds.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// New creates a runner.
func New(engine Engine, store *scheduler.Store, timetable Builder, cfg Config, log zerolog.Logger, opts ...Option) *Runner {
	if cfg.RebuildSchedule == "" {
		cfg.RebuildSchedule = DefaultRebuildSchedule
	}
	if cfg.PruneSchedule == "" {
		cfg.PruneSchedule = DefaultPruneSchedule
	}
	if cfg.MaintSchedule == "" {
		cfg.MaintSchedule = DefaultMaintSchedule
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.RetrySettle <= 0 {
		cfg.RetrySettle = DefaultRetrySettle
	}

	r := &Runner{
		engine:    engine,
		store:     store,
		timetable: timetable,
		cfg:       cfg,
		now:       time.Now,
		log:       log.With().Str("component", "runner").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts the engine, installs the daily rebuild, builds today's timetable and
// blocks until ctx is done. The engine and the store are torn down on every return
// path, including a panic, which is returned as an error.
func (r *Runner) Run(ctx context.Context) (err error) {
	r.engine.Start()
	defer r.teardown()
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().
				Interface("panic", rec).
				Str("stack", string(debug.Stack())).
				Msg("Runner panicked")
			err = fmt.Errorf("runner panic: %v", rec)
		}
	}()

	if err := r.store.Add(scheduler.Entry{
		ID:   JobDailyRebuild,
		Kind: scheduler.KindCron,
		Spec: r.cfg.RebuildSchedule,
		Run:  func() error { return r.rebuild(ctx) },
	}); err != nil {
		return fmt.Errorf("failed to install rebuild job: %w", err)
	}

	if r.pruner != nil && r.cfg.HistoryRetention > 0 {
		if err := r.store.Add(scheduler.Entry{
			ID:   JobHistoryPrune,
			Kind: scheduler.KindCron,
			Spec: r.cfg.PruneSchedule,
			Run:  func() error { return r.prune(ctx) },
		}); err != nil {
			return fmt.Errorf("failed to install history prune job: %w", err)
		}
	}

	if r.maint != nil {
		if err := r.store.Add(scheduler.Entry{
			ID:   JobMaintenance,
			Kind: scheduler.KindCron,
			Spec: r.cfg.MaintSchedule,
			Run:  func() error { return r.maint.Maintain(ctx) },
		}); err != nil {
			return fmt.Errorf("failed to install maintenance job: %w", err)
		}
	}

	if err := r.rebuild(ctx); err != nil {
		r.log.Warn().Err(err).Msg("Initial timetable build failed, waiting for the next rebuild")
	}

	r.store.Start()
	r.log.Info().Str("rebuild", r.cfg.RebuildSchedule).Msg("Runner started")

	<-ctx.Done()
	r.log.Info().Msg("Runner stopping")
	return nil
}

// rebuild builds the timetable and, when the market is closed but the classification
// expires before the next regular rebuild, schedules a retry shortly after its expiry.
func (r *Runner) rebuild(ctx context.Context) error {
	if r.refresher != nil {
		r.refresher.Invalidate()
	}

	now := r.now()
	phase, _, err := r.timetable.Build(ctx, now)
	if err != nil {
		return err
	}

	if phase.Status != market_hours.StatusClosed || !phase.ValidUntil.After(now) {
		return nil
	}

	next, err := r.nextRebuild(now)
	if err != nil {
		return err
	}
	at := phase.ValidUntil.Add(r.cfg.RetrySettle)
	if !at.Before(next) {
		return nil
	}

	if err := r.store.Add(scheduler.Entry{
		ID:     JobRebuildRetry,
		Kind:   scheduler.KindOneShot,
		FireAt: at,
		Run:    func() error { return r.rebuild(ctx) },
	}); err != nil && !errors.Is(err, scheduler.ErrExpired) {
		return fmt.Errorf("failed to install rebuild retry: %w", err)
	}

	r.log.Info().Time("at", at).Msg("Market closed, rebuild retry scheduled")
	return nil
}

func (r *Runner) nextRebuild(now time.Time) (time.Time, error) {
	sched, err := scheduler.ParseSpec(r.cfg.RebuildSchedule)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(now.In(r.store.Location())), nil
}

func (r *Runner) prune(ctx context.Context) error {
	cutoff := r.now().Add(-r.cfg.HistoryRetention)
	deleted, err := r.pruner.Prune(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune job history: %w", err)
	}
	r.log.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("Job history pruned")
	return nil
}

// teardown stops firing first so pending triggers still reach running workers.
func (r *Runner) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.ShutdownTimeout)
	defer cancel()

	if err := r.store.Shutdown(ctx); err != nil {
		r.log.Warn().Err(err).Msg("Scheduler did not stop cleanly")
	}
	r.engine.Stop()
	r.log.Info().Msg("Runner stopped")
}
