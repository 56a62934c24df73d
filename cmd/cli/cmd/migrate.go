package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/config"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/storage"
)

var migrateDBPath string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long:  `Apply the dispatch engine's schema migrations directly against the configured database file.`,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().StringVar(&migrateDBPath, "db", "", "Database path (defaults to DATABASE_PATH or ./data/dispatch.db)")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	dbPath := migrateDBPath
	if dbPath == "" {
		cfg, err := config.LoadFromEnv()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		dbPath = cfg.Database.Path
	}

	db, err := storage.New(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	fmt.Printf("Migrations applied to %s\n", dbPath)
	return nil
}
