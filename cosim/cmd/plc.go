package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarchlab/cosim/config"
	"github.com/sarchlab/cosim/controller"
	"github.com/sarchlab/cosim/tags"
)

var plcCmd = &cobra.Command{
	Use:   "plc NAME",
	Short: "Run one PLC.",
	Long: "Run the named PLC. It serves its sensor and actuator values on " +
		"tcp://<public_ip>:<tag_port> and drives its actuators with its " +
		"control logic once per round.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		plc, ok := cfg.FindPLC(args[0])
		if !ok {
			return &config.Error{Key: "plcs", Msg: fmt.Sprintf("no PLC named %q", args[0])}
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

		table := controller.NewTable(plc)

		server, err := tags.ListenZMQ(tags.Address(plc.PublicIP, cfg.TagPort), table, logger)
		if err != nil {
			return err
		}

		logic, err := controller.NewLogic(cfg, plc, tags.NewZMQFetcher(tagTimeout), logger)
		if err != nil {
			return err
		}

		p := controller.MakePLCBuilder().
			WithPLC(plc).
			WithExecutor(exec).
			WithLogic(logic).
			WithTable(table).
			WithLogger(logger).
			Build()

		return serveWhile(cmd.Context(), server, func(ctx context.Context) error {
			return runActor(ctx, plc.Name, b, p)
		})
	},
}

// serveWhile serves tags until run returns.
func serveWhile(
	ctx context.Context,
	server *tags.ZMQServer,
	run func(ctx context.Context) error,
) error {
	ctx, cancel := context.WithCancel(ctx)

	served := make(chan error, 1)
	go func() {
		served <- server.Serve(ctx)
	}()

	err := run(ctx)
	cancel()

	serveErr := <-served
	if errors.Is(serveErr, context.Canceled) {
		serveErr = nil
	}

	return errors.Join(err, serveErr)
}

func init() {
	rootCmd.AddCommand(plcCmd)
}
