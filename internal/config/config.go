// Package config provides configuration management functionality.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aristath/algorunner/internal/clients/sina"
	"github.com/aristath/algorunner/internal/events"
	"github.com/aristath/algorunner/internal/modules/market_hours"
	"github.com/aristath/algorunner/internal/scheduler"
	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir        string // Base directory for databases and strategy files (always absolute)
	LogLevel       string
	LogPretty      bool
	Port           int
	HTTPEnabled    bool
	DevMode        bool
	MetricsEnabled bool
	StrategyConfig string // Path to the strategy YAML file; empty disables the journal strategy

	Market    *MarketConfig
	Engine    *EngineConfig
	Scheduler *SchedulerConfig
}

// MarketConfig holds the quote feed and session settings
type MarketConfig struct {
	Timezone     string
	Location     *time.Location // Resolved from Timezone by Validate
	QuoteFeedURL string
	QuoteSymbol  string
	QuoteTimeout time.Duration
	RetryBase    time.Duration
	RetryMax     time.Duration
	Sessions     market_hours.Sessions
}

// EngineConfig holds dispatch engine settings
type EngineConfig struct {
	Workers     int
	QueueSize   int // 0 = unbounded
	PollTimeout time.Duration
	StopGrace   time.Duration
}

// SchedulerConfig holds timetable settings
type SchedulerConfig struct {
	RebuildSchedule   string // Five-field cron, evaluated in the market timezone
	TickInterval      time.Duration
	KeepaliveInterval time.Duration
	AfterClose        bool
	HistoryRetention  time.Duration
	ShutdownTimeout   time.Duration
	RetrySettle       time.Duration // Delay of a rebuild retry past the closed classification's expiry
	FeedKeepalive     bool          // Ping the quote feed as a keepalive session during market hours
}

// Load reads configuration from environment variables
// Loads .env file if it exists, then reads from environment
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	dataDir := getEnv("ALGO_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	sessions, err := loadSessions()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:        absDataDir,
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogPretty:      getEnvAsBool("LOG_PRETTY", false),
		Port:           getEnvAsInt("HTTP_PORT", 8090),
		HTTPEnabled:    getEnvAsBool("HTTP_ENABLED", true),
		DevMode:        getEnvAsBool("DEV_MODE", false),
		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		StrategyConfig: getEnv("STRATEGY_CONFIG", ""),
		Market: &MarketConfig{
			Timezone:     getEnv("MARKET_TIMEZONE", market_hours.DefaultTimezone),
			QuoteFeedURL: getEnv("QUOTE_FEED_URL", sina.DefaultBaseURL),
			QuoteSymbol:  getEnv("QUOTE_SYMBOL", sina.DefaultSymbol),
			QuoteTimeout: getEnvAsDuration("QUOTE_TIMEOUT", sina.DefaultTimeout),
			RetryBase:    getEnvAsDuration("PROBE_RETRY_BASE", market_hours.DefaultRetryBase),
			RetryMax:     getEnvAsDuration("PROBE_RETRY_MAX", market_hours.DefaultRetryMax),
			Sessions:     sessions,
		},
		Engine: &EngineConfig{
			Workers:     getEnvAsInt("ENGINE_WORKERS", events.DefaultWorkers),
			QueueSize:   getEnvAsInt("ENGINE_QUEUE_SIZE", 0),
			PollTimeout: getEnvAsDuration("ENGINE_POLL_TIMEOUT", events.DefaultPollTimeout),
			StopGrace:   getEnvAsDuration("ENGINE_STOP_GRACE", events.DefaultStopGrace),
		},
		Scheduler: &SchedulerConfig{
			RebuildSchedule:   getEnv("REBUILD_SCHEDULE", "27 9 * * 1-5"),
			TickInterval:      getEnvAsDuration("TICK_INTERVAL", scheduler.DefaultTickInterval),
			KeepaliveInterval: getEnvAsDuration("KEEPALIVE_INTERVAL", scheduler.DefaultKeepaliveInterval),
			AfterClose:        getEnvAsBool("AFTER_CLOSE_ENABLED", false),
			HistoryRetention:  getEnvAsDuration("HISTORY_RETENTION", 30*24*time.Hour),
			ShutdownTimeout:   getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
			RetrySettle:       getEnvAsDuration("REBUILD_RETRY_SETTLE", time.Minute),
			FeedKeepalive:     getEnvAsBool("FEED_KEEPALIVE_ENABLED", false),
		},
	}

	if cfg.StrategyConfig != "" && !filepath.IsAbs(cfg.StrategyConfig) {
		cfg.StrategyConfig = filepath.Join(absDataDir, cfg.StrategyConfig)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration and resolves the market location
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("HTTP_PORT %d out of range", c.Port))
	}

	if c.Engine == nil || c.Market == nil || c.Scheduler == nil {
		return errors.Join(append(errs, errors.New("incomplete configuration"))...)
	}

	if c.Engine.Workers <= 0 {
		errs = append(errs, fmt.Errorf("ENGINE_WORKERS must be positive, got %d", c.Engine.Workers))
	}
	if c.Engine.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("ENGINE_QUEUE_SIZE must not be negative, got %d", c.Engine.QueueSize))
	}
	if c.Engine.PollTimeout <= 0 || c.Engine.StopGrace <= 0 {
		errs = append(errs, errors.New("ENGINE_POLL_TIMEOUT and ENGINE_STOP_GRACE must be positive"))
	}

	loc, err := time.LoadLocation(c.Market.Timezone)
	if err != nil {
		errs = append(errs, fmt.Errorf("invalid MARKET_TIMEZONE %q: %w", c.Market.Timezone, err))
	} else {
		c.Market.Location = loc
	}
	if err := c.Market.Sessions.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("invalid market sessions: %w", err))
	}
	if c.Market.RetryBase <= 0 || c.Market.RetryMax < c.Market.RetryBase {
		errs = append(errs, errors.New("PROBE_RETRY_BASE must be positive and not exceed PROBE_RETRY_MAX"))
	}

	if _, err := scheduler.ParseSpec(c.Scheduler.RebuildSchedule); err != nil {
		errs = append(errs, fmt.Errorf("invalid REBUILD_SCHEDULE: %w", err))
	}
	if c.Scheduler.TickInterval <= 0 || c.Scheduler.KeepaliveInterval <= 0 {
		errs = append(errs, errors.New("TICK_INTERVAL and KEEPALIVE_INTERVAL must be positive"))
	}

	return errors.Join(errs...)
}

func loadSessions() (market_hours.Sessions, error) {
	defaults := market_hours.DefaultSessions()
	sessions := defaults

	fields := []struct {
		key string
		dst *market_hours.ClockTime
		def market_hours.ClockTime
	}{
		{"SESSION_AM_OPEN", &sessions.AMOpen, defaults.AMOpen},
		{"SESSION_AM_CLOSE", &sessions.AMClose, defaults.AMClose},
		{"SESSION_FM_OPEN", &sessions.FMOpen, defaults.FMOpen},
		{"SESSION_FM_CLOSE", &sessions.FMClose, defaults.FMClose},
	}
	for _, f := range fields {
		raw := getEnv(f.key, f.def.String())
		clock, err := market_hours.ParseClock(raw)
		if err != nil {
			return market_hours.Sessions{}, fmt.Errorf("invalid %s: %w", f.key, err)
		}
		*f.dst = clock
	}
	return sessions, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as int or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvAsBool gets an environment variable as bool or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("15s") or plain seconds ("15")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
