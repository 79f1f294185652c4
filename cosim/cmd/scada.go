package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/sarchlab/cosim/bridge"
	"github.com/sarchlab/cosim/config"
	"github.com/sarchlab/cosim/datarecording"
	"github.com/sarchlab/cosim/monitoring"
	"github.com/sarchlab/cosim/tags"
)

var scadaCmd = &cobra.Command{
	Use:   "scada",
	Short: "Run the SCADA monitor.",
	Long: "Run the monitor. It caches the tags of every PLC, records them " +
		"once per round, exchanges observations and actions with the " +
		"learning agent when use_control_agent is set, and serves actuator " +
		"commands to the PLCs.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		db, exec, err := openSimulationStore()
		if err != nil {
			return err
		}
		defer db.Close()

		b, err := mainBarrier(exec)
		if err != nil {
			return err
		}

		commands := monitoring.NewCommandTable(cfg)

		server, err := tags.ListenZMQ(monitoring.CommandSource(cfg).Address, commands, logger)
		if err != nil {
			return err
		}

		recorder, err := datarecording.MakeBuilder().
			WithFormat(cfg.OutputFormat).
			WithDir(cfg.OutputPath).
			WithName(datarecording.DefaultName).
			WithDriver(cfg.DBDriver).
			WithTags(cfg.RecordedTags()).
			WithLogger(logger).
			Build()
		if err != nil {
			return err
		}

		cache := monitoring.MakeCacheBuilder().
			WithFetcher(tags.NewZMQFetcher(tagTimeout)).
			WithSources(monitoring.Sources(cfg)).
			WithPeriod(cfg.Scada.CacheUpdateTime).
			WithLogger(logger).
			Build()

		builder := monitoring.MakeScadaBuilder().
			WithConfig(cfg).
			WithExecutor(exec).
			WithCache(cache).
			WithRecorder(recorder).
			WithCommands(commands).
			WithLogger(logger)

		if cfg.UseControlAgent {
			controlDB, controlExec, err := openControlStore()
			if err != nil {
				recorder.Close()
				return err
			}
			defer controlDB.Close()

			builder = builder.WithBridge(bridge.NewControlStore(
				controlExec, controlBarrier(controlExec), logger))
		}

		scada := builder.Build()
		defer scada.Close()

		if cfg.Scada.MonitorPort > 0 {
			monitor := monitoring.NewServer(scada, cfg.Scada.MonitorPort, logger)

			url, err := monitor.Start()
			if err != nil {
				return err
			}
			defer monitor.Close()

			if cfg.Scada.OpenBrowser {
				if err := monitoring.OpenBrowser(url); err != nil {
					logger.Warn("cannot open browser", "error", err)
				}
			}
		}

		return serveWhile(ctx, server, func(ctx context.Context) error {
			return errors.Join(
				runActor(ctx, config.ScadaName, b, scada),
				scada.Close(),
			)
		})
	},
}

func init() {
	rootCmd.AddCommand(scadaCmd)
}
