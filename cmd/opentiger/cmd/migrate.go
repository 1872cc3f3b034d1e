package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Andyyyy64/opentiger/pkg/config"
	"github.com/Andyyyy64/opentiger/pkg/infrastructure/persistence"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the store schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		store, err := persistence.Open(cfg.DatabaseURL, log)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Migrate(context.Background()); err != nil {
			return err
		}
		log.Info("schema applied", "database", cfg.DatabaseURL)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
