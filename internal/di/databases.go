package di

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/aristath/algorunner/internal/config"
	"github.com/aristath/algorunner/internal/database"
	"github.com/aristath/algorunner/internal/scheduler"
)

// InitializeDatabases opens the job history database, applies its schema and creates
// the history repository.
func InitializeDatabases(container *Container, cfg *config.Config, log zerolog.Logger) error {
	// history.db - job fire ledger; losing it loses diagnostics only
	historyDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "history.db"),
		Profile: database.ProfileCache,
		Name:    "history",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize history database: %w", err)
	}

	if err := historyDB.Migrate(); err != nil {
		historyDB.Close()
		return fmt.Errorf("failed to migrate history database: %w", err)
	}

	container.HistoryDB = historyDB
	container.HistoryRepo = scheduler.NewHistoryRepository(historyDB.Conn())

	log.Info().Str("path", historyDB.Path()).Msg("History database initialized")
	return nil
}
