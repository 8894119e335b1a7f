package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/algorunner/internal/config"
	"github.com/aristath/algorunner/internal/strategy"
)

// InitializeStrategies loads the strategy config and binds the journal strategy to the
// engine. Nothing is bound when no config path is set or the config is disabled.
func InitializeStrategies(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if cfg.StrategyConfig == "" {
		log.Info().Msg("No strategy configured")
		return nil
	}

	scfg, err := strategy.LoadConfig(cfg.StrategyConfig)
	if err != nil {
		return fmt.Errorf("failed to load strategy config: %w", err)
	}
	container.StrategyConfig = scfg

	if !scfg.Enabled {
		log.Info().Str("strategy", scfg.Name).Msg("Strategy disabled")
		return nil
	}

	sc := strategy.NewContext(scfg, log)
	container.StrategyBinding = strategy.Bind(container.Engine, sc, strategy.NewJournal())

	log.Info().
		Str("strategy", scfg.Name).
		Str("path", scfg.Path()).
		Msg("Strategy bound")
	return nil
}
