package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Andyyyy64/opentiger/pkg/api"
	"github.com/Andyyyy64/opentiger/pkg/app"
	"github.com/Andyyyy64/opentiger/pkg/config"
	"github.com/Andyyyy64/opentiger/pkg/infrastructure/persistence"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler core: dispatcher, sweeper and HTTP surface",
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

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := store.Migrate(ctx); err != nil {
			return err
		}

		container := app.NewContainer(cfg, store, nil, log)
		defer container.Close()

		go container.Dispatcher.Run(ctx)
		go container.Sweeper.Run(ctx)
		go container.DispatchBus.ConsumeReports(ctx, reportHandler(ctx, container))

		log.Info("scheduler core started",
			"mode", string(cfg.RepoMode),
			"lease_duration", cfg.LeaseDuration(),
			"sweep_interval", cfg.SweepInterval())

		server := api.NewServer(cfg.APIAddr, cfg.APIKey, container, log)
		return server.Start(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
