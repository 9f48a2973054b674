package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/miguel-bm/slidechat/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		database, err := db.Open(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer database.Close()

		if err := database.Migrate(); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		version, err := database.SchemaVersion()
		if err != nil {
			return err
		}
		slog.Info("migrations completed successfully", "path", cfg.Database.Path, "version", version)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
