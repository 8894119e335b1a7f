package server

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/algorunner/internal/events"
	"github.com/aristath/algorunner/internal/modules/market_hours"
)

// PhaseChanged is published on the event stream when the market phase changes.
// It never passes through the dispatch engine.
const PhaseChanged events.EventType = "phase_changed"

const DefaultMonitorInterval = 30 * time.Second

// PhaseClassifier yields the current market phase.
type PhaseClassifier interface {
	Classify(ctx context.Context, now time.Time) market_hours.Phase
}

// StatusMonitor periodically classifies the market and publishes phase changes
type StatusMonitor struct {
	probe    PhaseClassifier
	stream   *EventStream
	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger

	last market_hours.Status
}

// NewStatusMonitor creates a new status monitor
func NewStatusMonitor(probe PhaseClassifier, stream *EventStream, interval time.Duration, log zerolog.Logger) *StatusMonitor {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	return &StatusMonitor{
		probe:    probe,
		stream:   stream,
		interval: interval,
		now:      time.Now,
		log:      log.With().Str("component", "status_monitor").Logger(),
	}
}

// Run checks the phase every interval until ctx is done.
func (m *StatusMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.check(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

// check publishes the phase when its status differs from the last one seen.
// The probe cache keeps this from touching the quote feed on every tick.
func (m *StatusMonitor) check(ctx context.Context) bool {
	phase := m.probe.Classify(ctx, m.now())
	if phase.Status == m.last {
		return false
	}

	m.log.Info().
		Str("from", string(m.last)).
		Str("to", string(phase.Status)).
		Msg("Market phase changed")
	m.last = phase.Status
	m.stream.Publish(events.New(PhaseChanged, phase))
	return true
}
