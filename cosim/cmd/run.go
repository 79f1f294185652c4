package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/sarchlab/cosim/monitoring"
	"github.com/sarchlab/cosim/simulation"
)

var storeBarrier bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every participant in one process.",
	Long: "Initialize the stores and run the physical process, the PLCs, " +
		"the network attackers, the monitor and the agent in one process. " +
		"Participants take turns through the backend named by the barrier " +
		"key, or through the simulation store when --store-barrier is set, " +
		"and read each other's tags over an in-memory network.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		builder := simulation.MakeBuilder().
			WithConfig(cfg).
			WithLogger(logger)

		if storeBarrier {
			builder = builder.WithStoreBarrier()
		}

		if cfg.Scada.MonitorPort > 0 {
			builder = builder.WithMonitorPort(cfg.Scada.MonitorPort)
		}

		s, err := builder.Build(ctx)
		if err != nil {
			return err
		}

		if url := s.MonitorURL(); url != "" && cfg.Scada.OpenBrowser {
			if err := monitoring.OpenBrowser(url); err != nil {
				logger.Warn("cannot open browser", "error", err)
			}
		}

		logger.Info("simulation started", "id", s.ID())

		return errors.Join(s.Run(ctx), s.Terminate())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&storeBarrier, "store-barrier", false,
		"Take turns through the simulation store whatever the barrier key says.")
}
