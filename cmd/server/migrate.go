package main

import (
	"log/slog"

	"github.com/ahmetcoskunkizilkaya/todo-api/internal/apps"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/config"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/database"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/logging"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "migrate",
		Aliases: []string{"m"},
		Short:   "Create or update the database schema and exit",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logging.Setup(cfg.IsProduction())

			if err := database.Connect(cfg); err != nil {
				slog.Error("database connection failed", "error", err)
				return err
			}
			defer func() {
				if err := database.Close(database.DB); err != nil {
					slog.Error("database close error", "error", err)
				}
			}()

			return migrateAll(database.DB, plugins())
		},
	}
}

// migrateAll migrates the shared tables, then each plugin's models.
func migrateAll(db *gorm.DB, plugins []apps.Plugin) error {
	if err := database.MigrateShared(db); err != nil {
		slog.Error("shared migration failed", "error", err)
		return err
	}
	for _, p := range plugins {
		models := p.Models()
		if len(models) == 0 {
			continue
		}
		if err := database.MigrateModels(db, models); err != nil {
			slog.Error("plugin migration failed", "plugin", p.ID(), "error", err)
			return err
		}
		slog.Info("plugin migrated", "plugin", p.ID(), "models", len(models))
	}
	return nil
}
