package main

import (
	"fmt"

	"github.com/codeak/portal/internal/database"
	"github.com/codeak/portal/pkg/logger"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.Connect(cfg.DB)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		if err := database.Migrate(db); err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}
		logger.Info("database_migrated", map[string]interface{}{"database": cfg.DB.Name})
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
