package cmd

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/sarchlab/cosim/config"
	"github.com/sarchlab/cosim/store"
)

var attackCmd = &cobra.Command{
	Use:       "attack NAME on|off",
	Short:     "Switch an attack on or off.",
	Long:      "Set the flag of a device or network attack in the simulation store.",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		name, state := args[0], args[1]

		if !slices.Contains(cfg.AttackNames(), name) {
			return &config.Error{Key: "attacks", Msg: fmt.Sprintf("no attack named %q", name)}
		}

		if state != "on" && state != "off" {
			return fmt.Errorf("attack state must be on or off, got %q", state)
		}

		db, exec, err := openSimulationStore()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := store.SetAttackFlag(cmd.Context(), exec, name, state == "on"); err != nil {
			return err
		}

		logger.Info("attack switched", "name", name, "active", state == "on")

		return nil
	},
}

func init() {
	rootCmd.AddCommand(attackCmd)
}
