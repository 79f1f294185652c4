package cmd

import (
	"github.com/spf13/cobra"

	"github.com/sarchlab/cosim/config"
	"github.com/sarchlab/cosim/physical"
)

var physicalCmd = &cobra.Command{
	Use:   "physical",
	Short: "Run the physical-process driver.",
	Long: "Run the driver that advances the master clock and steps the " +
		"plant. It stops after the configured iterations, or never when " +
		"iterations is 0.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, exec, err := openSimulationStore()
		if err != nil {
			return err
		}
		defer db.Close()

		b, err := mainBarrier(exec)
		if err != nil {
			return err
		}

		driver := physical.MakeDriverBuilder().
			WithExecutor(exec).
			WithSensors(cfg.Sensors()).
			WithIterations(cfg.Iterations).
			WithLogger(logger).
			Build()

		return runActor(cmd.Context(), config.PhysicalName, b, driver)
	},
}

func init() {
	rootCmd.AddCommand(physicalCmd)
}
