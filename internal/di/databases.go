// Package di provides dependency injection for database connections.
package di

import (
	"fmt"

	"github.com/aristath/riskscore/internal/config"
	"github.com/aristath/riskscore/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens the score history database and applies its schema
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// scores.db - Score history (one row per recorded score)
	scoresDB, err := database.New(database.Config{
		Path:    cfg.DatabasePath(),
		Profile: database.ProfileStandard,
		Name:    "scores",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scores database: %w", err)
	}
	container.ScoresDB = scoresDB

	if err := scoresDB.Migrate(); err != nil {
		scoresDB.Close()
		return nil, fmt.Errorf("failed to apply schema to %s: %w", scoresDB.Name(), err)
	}

	log.Info().Str("path", scoresDB.Path()).Msg("Database initialized and schema applied")

	return container, nil
}
