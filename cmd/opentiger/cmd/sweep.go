package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Andyyyy64/opentiger/pkg/app"
	"github.com/Andyyyy64/opentiger/pkg/config"
	"github.com/Andyyyy64/opentiger/pkg/infrastructure/persistence"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one recovery sweep and exit",
	Long: `Executes the four recovery passes once — expired leases, dangling
leases, orphaned running tasks, and (in direct mode) stuck-in-judge
auto-approval — then prints what was repaired.`,
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

		ctx := context.Background()
		if err := store.Migrate(ctx); err != nil {
			return err
		}

		container := app.NewContainer(cfg, store, nil, log)
		report, err := container.Sweeper.SweepOnce(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("expired leases:  %d\n", report.ExpiredLeases)
		fmt.Printf("dangling leases: %d\n", report.DanglingLeases)
		fmt.Printf("orphaned tasks:  %d\n", report.OrphanedTasks)
		fmt.Printf("auto-approved:   %d\n", report.AutoApproved)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
