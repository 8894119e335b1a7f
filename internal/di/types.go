// Package di provides dependency injection type definitions.
package di

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aristath/algorunner/internal/clients/sina"
	"github.com/aristath/algorunner/internal/config"
	"github.com/aristath/algorunner/internal/database"
	"github.com/aristath/algorunner/internal/events"
	"github.com/aristath/algorunner/internal/metrics"
	"github.com/aristath/algorunner/internal/modules/market_hours"
	"github.com/aristath/algorunner/internal/runner"
	"github.com/aristath/algorunner/internal/scheduler"
	"github.com/aristath/algorunner/internal/server"
	"github.com/aristath/algorunner/internal/strategy"
)

// Container holds all dependencies for the application.
// It is created by Wire and owns the history database.
type Container struct {
	Config *config.Config

	// Databases
	HistoryDB *database.DB

	// Repositories
	HistoryRepo *scheduler.HistoryRepository

	// Metrics; Registry is nil when metrics are disabled
	Registry *prometheus.Registry
	Metrics  metrics.Sink

	// Clients
	QuoteClient *sina.Client

	// Services
	Probe     *market_hours.Probe
	Engine    *events.Engine
	Store     *scheduler.Store
	Timetable *scheduler.Timetable
	Stream    *server.EventStream
	Runner    *runner.Runner

	// Strategy; nil when no strategy config is set or it is disabled
	StrategyConfig  *strategy.Config
	StrategyBinding *strategy.Binding

	// Server is nil when HTTP is disabled
	Server *server.Server
}

// Close releases the resources owned by the container.
func (c *Container) Close() error {
	if c.HistoryDB != nil {
		return c.HistoryDB.Close()
	}
	return nil
}
