package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarchlab/cosim/config"
	"github.com/sarchlab/cosim/controller"
)

var attackerCmd = &cobra.Command{
	Use:   "attacker NAME",
	Short: "Run one network attacker.",
	Long: "Run the named network attack. It switches its attack flag on " +
		"while the master clock is inside its trigger window.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		attack, ok := cfg.FindNetworkAttack(args[0])
		if !ok {
			return &config.Error{
				Key: "network_attacks",
				Msg: fmt.Sprintf("no network attack named %q", args[0]),
			}
		}

		db, exec, err := openSimulationStore()
		if err != nil {
			return err
		}
		defer db.Close()

		b, err := mainBarrier(exec)
		if err != nil {
			return err
		}

		return runActor(cmd.Context(), attack.Name,
			b, controller.NewAttacker(attack, exec, logger))
	},
}

func init() {
	rootCmd.AddCommand(attackerCmd)
}
