package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarchlab/cosim/store"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Drop and recreate the stores of a run.",
	Long: "Drop and recreate the simulation store, and the control store " +
		"when a control agent is used, seeded from the configuration. " +
		"Run it once before starting the participants.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		db, exec, err := openSimulationStore()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := store.InitSimulation(ctx, exec, cfg); err != nil {
			return fmt.Errorf("init simulation store: %w", err)
		}
		logger.Info("simulation store ready", "path", cfg.DBPath)

		if !cfg.UseControlAgent {
			return nil
		}

		controlDB, controlExec, err := openControlStore()
		if err != nil {
			return err
		}
		defer controlDB.Close()

		if err := store.InitControl(ctx, controlExec, cfg); err != nil {
			return fmt.Errorf("init control store: %w", err)
		}
		logger.Info("control store ready", "path", cfg.DBControlPath)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
