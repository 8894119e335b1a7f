package market_hours

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/algorunner/internal/clients/sina"
	"github.com/aristath/algorunner/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	DefaultRetryBase = 30 * time.Second
	DefaultRetryMax  = 10 * time.Minute
)

// QuoteFetcher returns the latest quote for a symbol.
type QuoteFetcher interface {
	Fetch(ctx context.Context, symbol string) (*sina.Quote, error)
}

// ProbeConfig configures a Probe. Zero fields take defaults.
type ProbeConfig struct {
	Symbol    string
	Location  *time.Location
	Sessions  Sessions
	RetryBase time.Duration
	RetryMax  time.Duration
	Metrics   metrics.Sink
}

// Probe classifies the market phase from the reference index quote and memoizes the
// answer until the next phase boundary.
type Probe struct {
	fetcher QuoteFetcher
	cfg     ProbeConfig
	metrics metrics.Sink
	log     zerolog.Logger

	cached    Phase
	hasCached bool
	backoff   time.Duration
	lastErr   error
	mu        sync.Mutex
}

// NewProbe creates a market phase probe backed by fetcher.
func NewProbe(fetcher QuoteFetcher, cfg ProbeConfig, log zerolog.Logger) *Probe {
	if cfg.Symbol == "" {
		cfg.Symbol = sina.DefaultSymbol
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Sessions == (Sessions{}) {
		cfg.Sessions = DefaultSessions()
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultRetryBase
	}
	if cfg.RetryMax < cfg.RetryBase {
		cfg.RetryMax = DefaultRetryMax
		if cfg.RetryMax < cfg.RetryBase {
			cfg.RetryMax = cfg.RetryBase
		}
	}
	sink := cfg.Metrics
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	return &Probe{
		fetcher: fetcher,
		cfg:     cfg,
		metrics: sink,
		log:     log.With().Str("component", "market_probe").Logger(),
	}
}

// Location returns the market timezone.
func (p *Probe) Location() *time.Location {
	return p.cfg.Location
}

// Sessions returns the session table used for classification.
func (p *Probe) Sessions() Sessions {
	return p.cfg.Sessions
}

// Classify returns the market phase at now. A cached classification is returned
// without contacting the feed while now is before its ValidUntil.
func (p *Probe) Classify(ctx context.Context, now time.Time) Phase {
	p.mu.Lock()
	defer p.mu.Unlock()

	now = now.In(p.cfg.Location)
	if p.hasCached && p.cached.Valid(now) {
		return p.cached
	}

	quote, err := p.fetcher.Fetch(ctx, p.cfg.Symbol)
	if err != nil {
		return p.fail(now, err)
	}

	phase := classify(quote.Time.In(p.cfg.Location), now, p.cfg.Sessions)
	p.cached = phase
	p.hasCached = true
	p.backoff = 0
	p.lastErr = nil
	p.metrics.ProbeCompleted(string(phase.Status), nil)

	p.log.Debug().
		Str("status", string(phase.Status)).
		Time("quote_time", quote.Time).
		Time("valid_until", phase.ValidUntil).
		Msg("Market phase classified")
	return phase
}

// Invalidate expires the cached classification so the next Classify contacts the feed.
// The cached status is kept as the fallback for a failing probe; the backoff is untouched.
func (p *Probe) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached.ValidUntil = time.Time{}
}

// Current returns the last classification without contacting the feed.
func (p *Probe) Current() (Phase, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cached, p.hasCached
}

// LastError returns the error of the most recent failed probe, or nil after a success.
func (p *Probe) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// fail keeps the previous classification but only for one backoff period.
// Must be called with lock held.
func (p *Probe) fail(now time.Time, err error) Phase {
	if p.backoff == 0 {
		p.backoff = p.cfg.RetryBase
	}
	wait := p.backoff
	p.backoff *= 2
	if p.backoff > p.cfg.RetryMax {
		p.backoff = p.cfg.RetryMax
	}

	phase := Phase{Status: StatusClosed}
	if p.hasCached {
		phase = p.cached
	}
	phase.ValidUntil = now.Add(wait)

	p.cached = phase
	p.hasCached = true
	p.lastErr = err
	p.metrics.ProbeCompleted(string(phase.Status), err)

	p.log.Warn().
		Err(err).
		Str("symbol", p.cfg.Symbol).
		Str("status", string(phase.Status)).
		Dur("retry_in", wait).
		Msg("Market probe failed, keeping previous classification")
	return phase
}

// classify is the five-way decision on the quote timestamp and the wall clock.
func classify(quoteTime, now time.Time, sessions Sessions) Phase {
	b := sessions.On(now)

	switch {
	case quoteTime.Before(b.AMOpen):
		// The feed has not printed today: no session today
		validUntil := b.AMOpen
		if !now.Before(b.AMOpen) {
			validUntil = nextOpen(now, sessions)
		}
		return Phase{Status: StatusClosed, ValidUntil: validUntil}
	case now.Before(b.AMClose):
		return Phase{Status: StatusTrading, Boundaries: b, ValidUntil: b.AMClose}
	case now.Before(b.FMOpen):
		return Phase{Status: StatusBreak, Boundaries: b, ValidUntil: b.FMOpen}
	case now.Before(b.FMClose):
		return Phase{Status: StatusTrading, Boundaries: b, ValidUntil: b.FMClose}
	default:
		return Phase{Status: StatusClosed, Boundaries: b, ValidUntil: nextOpen(now, sessions)}
	}
}

func nextOpen(now time.Time, sessions Sessions) time.Time {
	tomorrow := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
	return sessions.AMOpen.On(tomorrow)
}
