package cmd

import (
	"github.com/spf13/cobra"

	"github.com/sarchlab/cosim/bridge"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the learning agent.",
	Long: "Run the agent side of the control bridge: observe the state " +
		"variables, pick an action with the configured policy and write " +
		"it to the control store, once per exchange with the monitor.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		db, exec, err := openControlStore()
		if err != nil {
			return err
		}
		defer db.Close()

		env, err := bridge.NewEnvironment(ctx, exec, controlBarrier(exec), cfg.Env, logger)
		if err != nil {
			return err
		}

		policy, err := bridge.NewPolicy(cfg.Agent, env.ActionSpaceSize())
		if err != nil {
			return err
		}

		runner := bridge.NewRunner(env, policy, logger)
		err = runner.Run(ctx)

		logger.Info("agent stopped", "steps", runner.Steps())

		return err
	},
}

func init() {
	rootCmd.AddCommand(agentCmd)
}
