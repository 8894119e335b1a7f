package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/algorunner/internal/config"
)

// Wire initializes all dependencies and returns a fully configured container
// Order of operations:
// 1. Initialize databases
// 2. Initialize services
// 3. Bind strategies
// 4. Create the HTTP server
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{Config: cfg}

	if err := InitializeDatabases(container, cfg, log); err != nil {
		return nil, err
	}

	if err := InitializeServices(container, cfg, log); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := InitializeStrategies(container, cfg, log); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to initialize strategies: %w", err)
	}

	InitializeServer(container, cfg, log)

	log.Info().Msg("Dependency injection wiring completed successfully")
	return container, nil
}
