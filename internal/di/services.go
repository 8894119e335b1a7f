package di

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/aristath/algorunner/internal/clients/sina"
	"github.com/aristath/algorunner/internal/config"
	"github.com/aristath/algorunner/internal/events"
	"github.com/aristath/algorunner/internal/metrics"
	"github.com/aristath/algorunner/internal/modules/market_hours"
	"github.com/aristath/algorunner/internal/runner"
	"github.com/aristath/algorunner/internal/scheduler"
	"github.com/aristath/algorunner/internal/server"
)

// InitializeServices creates the metrics sink, quote client, probe, engine, job store,
// timetable and runner. Databases must be initialized first.
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	// Metrics
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		container.Registry = reg
		container.Metrics = metrics.NewPrometheusSink(reg, log)
	} else {
		container.Metrics = metrics.NewNoopSink()
	}

	loc := cfg.Market.Location

	// Quote feed and market phase probe
	container.QuoteClient = sina.NewClient(cfg.Market.QuoteFeedURL, cfg.Market.QuoteTimeout, loc, log)
	container.Probe = market_hours.NewProbe(container.QuoteClient, market_hours.ProbeConfig{
		Symbol:    cfg.Market.QuoteSymbol,
		Location:  loc,
		Sessions:  cfg.Market.Sessions,
		RetryBase: cfg.Market.RetryBase,
		RetryMax:  cfg.Market.RetryMax,
		Metrics:   container.Metrics,
	}, log)

	// Dispatch engine
	container.Engine = events.NewEngine(events.Options{
		Workers:     cfg.Engine.Workers,
		QueueSize:   cfg.Engine.QueueSize,
		PollTimeout: cfg.Engine.PollTimeout,
		StopGrace:   cfg.Engine.StopGrace,
		Metrics:     container.Metrics,
	}, log)

	// Job store and timetable
	storeOpts := []scheduler.StoreOption{scheduler.WithMetrics(container.Metrics)}
	if container.HistoryRepo != nil {
		storeOpts = append(storeOpts, scheduler.WithHistory(container.HistoryRepo))
	}
	container.Store = scheduler.NewStore(loc, log, storeOpts...)
	container.Timetable = scheduler.NewTimetable(
		container.Probe,
		container.Store,
		container.Engine,
		scheduler.TimetableConfig{
			TickInterval:      cfg.Scheduler.TickInterval,
			KeepaliveInterval: cfg.Scheduler.KeepaliveInterval,
			AfterClose:        cfg.Scheduler.AfterClose,
		},
		container.Metrics,
		log,
	)
	if cfg.Scheduler.FeedKeepalive {
		container.Timetable.AddKeepaliver(sina.NewSession(container.QuoteClient, cfg.Market.QuoteSymbol))
	}

	// Live event stream
	container.Stream = server.NewEventStream(log)
	container.Stream.Attach(container.Engine)

	// Runner
	runnerOpts := []runner.Option{runner.WithRefresher(container.Probe)}
	if container.HistoryRepo != nil {
		runnerOpts = append(runnerOpts, runner.WithPruner(container.HistoryRepo))
	}
	if container.HistoryDB != nil {
		runnerOpts = append(runnerOpts, runner.WithMaintenance(container.HistoryDB))
	}
	container.Runner = runner.New(
		container.Engine,
		container.Store,
		container.Timetable,
		runner.Config{
			RebuildSchedule:  cfg.Scheduler.RebuildSchedule,
			HistoryRetention: cfg.Scheduler.HistoryRetention,
			ShutdownTimeout:  cfg.Scheduler.ShutdownTimeout,
			RetrySettle:      cfg.Scheduler.RetrySettle,
		},
		log,
		runnerOpts...,
	)

	return nil
}

// InitializeServer creates the HTTP server when enabled.
func InitializeServer(container *Container, cfg *config.Config, log zerolog.Logger) {
	if !cfg.HTTPEnabled {
		log.Info().Msg("HTTP server disabled")
		return
	}

	srvCfg := server.Config{
		Log:     log,
		Port:    cfg.Port,
		DevMode: cfg.DevMode,
		Phase:   container.Probe,
		Jobs:    container.Store,
		Engine:  container.Engine,
		Stream:  container.Stream,
	}
	// Typed nils must not leak into the server's interfaces
	if container.HistoryRepo != nil {
		srvCfg.History = container.HistoryRepo
	}
	if container.HistoryDB != nil {
		srvCfg.Database = container.HistoryDB
	}
	if container.Registry != nil {
		srvCfg.Gatherer = container.Registry
	}

	container.Server = server.New(srvCfg)
}
