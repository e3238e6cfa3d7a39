package main

import (
	"fmt"

	"github.com/hearth-social/backend/internal/config"
	"github.com/hearth-social/backend/internal/database"
	"github.com/hearth-social/backend/internal/logger"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		db, cleanup, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := database.Migrate(db); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		fmt.Println("All migrations completed successfully")
		return nil
	},
}

// openDatabase loads configuration, starts the logger and connects to the database.
// The returned cleanup closes both.
func openDatabase(cfg *config.Config) (*gorm.DB, func(), error) {
	if err := logger.Initialize(cfg.LogLevel, cfg.LogFile); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := database.Initialize(cfg.DatabaseURL, false)
	if err != nil {
		_ = logger.Close()
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	cleanup := func() {
		_ = database.Close(db)
		_ = logger.Close()
	}
	return db, cleanup, nil
}
