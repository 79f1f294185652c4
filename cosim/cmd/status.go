package cmd

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sarchlab/cosim/barrier"
	"github.com/sarchlab/cosim/config"
	"github.com/sarchlab/cosim/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the master clock, the turn and the attack flags.",
	Long: "Show the state of the stores: the master clock, every sync " +
		"flag with the participant holding the turn, every attack flag " +
		"and, with a control agent, the control barrier.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		db, exec, err := openSimulationStore()
		if err != nil {
			return err
		}
		defer db.Close()

		clock, err := store.MasterTime(ctx, exec)
		if err != nil {
			return err
		}

		flags, err := store.SyncFlags(ctx, exec)
		if err != nil {
			return err
		}

		attacks, err := store.AttackFlags(ctx, exec)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "master clock: %d\n\n", clock)

		order := append([]string{config.PhysicalName}, cfg.Pipeline()...)
		displayFlags(out, order, flags, barrier.Holder(flags, config.PhysicalName))
		displayAttacks(out, attacks)

		if !cfg.UseControlAgent {
			return nil
		}

		controlDB, controlExec, err := openControlStore()
		if err != nil {
			return err
		}
		defer controlDB.Close()

		controlFlags, err := store.SyncFlags(ctx, controlExec)
		if err != nil {
			return err
		}

		fmt.Fprintln(out)
		displayFlags(out, []string{config.AgentName, config.ScadaName},
			controlFlags, barrier.Holder(controlFlags, ""))

		return nil
	},
}

func displayFlags(out io.Writer, order []string, flags map[string]bool, holder string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PARTICIPANT\tFLAG\tSTATE")

	for _, name := range order {
		flag, found := flags[name]

		var value, state string
		switch {
		case name == holder:
			value = "-"
			if found {
				value = "0"
			}
			state = color.New(color.FgHiGreen).Sprint("TURN")
		case !found:
			value = "-"
			state = color.New(color.FgWhite).Sprint("waiting")
		case flag:
			value = "1"
			state = color.New(color.FgWhite).Sprint("waiting")
		default:
			value = "0"
			state = color.New(color.FgRed).Sprint("CONFLICT")
		}

		fmt.Fprintf(w, "%s\t%s\t%s\n", name, value, state)
	}

	if holder == "" {
		fmt.Fprintf(w, "%s\t\t\n", color.New(color.FgRed).Sprint("no consistent turn holder"))
	}

	_ = w.Flush()
}

func displayAttacks(out io.Writer, attacks map[string]bool) {
	if len(attacks) == 0 {
		return
	}

	names := make([]string, 0, len(attacks))
	for name := range attacks {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ATTACK\tSTATE")

	for _, name := range names {
		state := color.New(color.FgHiBlack).Sprint("off")
		if attacks[name] {
			state = color.New(color.FgYellow).Sprint("ON")
		}

		fmt.Fprintf(w, "%s\t%s\n", name, state)
	}

	_ = w.Flush()
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
