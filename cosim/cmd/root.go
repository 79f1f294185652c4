// Package cmd provides the command-line interface of cosim.
package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/cosim/barrier"
	"github.com/sarchlab/cosim/config"
	"github.com/sarchlab/cosim/hooking"
	"github.com/sarchlab/cosim/logging"
	"github.com/sarchlab/cosim/store"
)

var (
	configPath string
	envFile    string
	tagTimeout time.Duration

	cfg    *config.Config
	logger *slog.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cosim",
	Short: "cosim runs the participants of an industrial control system co-simulation.",
	Long: `cosim runs the participants of an industrial control system ` +
		`co-simulation: the physical process, the PLCs, the network ` +
		`attackers, the SCADA monitor and the learning agent. Each ` +
		`participant runs as its own process and takes its turn through ` +
		`the shared simulation store. "cosim run" runs all of them in one ` +
		`process.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "cosim.yaml",
		"Path of the run configuration.")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "",
		"Path of a .env file. Defaults to the .env next to the configuration.")
	rootCmd.PersistentFlags().DurationVar(&tagTimeout, "tag-timeout", time.Second,
		"Timeout of one tag request.")
}

func setup(*cobra.Command, []string) error {
	var err error

	cfg, err = config.Load(configPath, envFile)
	if err != nil {
		return err
	}

	var closeLog func() error
	logger, closeLog, err = logging.New(logging.Options{
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
		Journal: cfg.LogJournal,
	})
	if err != nil {
		return &config.Error{Key: "log_file", Msg: "cannot log", Err: err}
	}

	slog.SetDefault(logger)
	atexit.Register(func() { _ = closeLog() })

	return nil
}

// Execute adds all child commands to the root command and sets flags
// appropriately. A termination signal cancels the running command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		if logger != nil {
			logger.Error("fatal", "error", err)
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}

		atexit.Exit(1)
	}

	atexit.Exit(0)
}

func openExecutor(path, name string) (*sql.DB, *store.Executor, error) {
	db, err := store.Open(path, cfg.DBDriver)
	if err != nil {
		return nil, nil, err
	}

	exec := store.MakeExecutorBuilder().
		WithTries(cfg.DBTries).
		WithSleepRange(cfg.DBSleepMin, cfg.DBSleepMax).
		WithName(name).
		WithLogger(logger).
		Build(db)

	return db, exec, nil
}

func openSimulationStore() (*sql.DB, *store.Executor, error) {
	return openExecutor(cfg.DBPath, "simulation-store")
}

func openControlStore() (*sql.DB, *store.Executor, error) {
	if cfg.DBControlPath == "" {
		return nil, nil, &config.Error{Key: "db_control_path", Msg: "required"}
	}

	return openExecutor(cfg.DBControlPath, "control-store")
}

// mainBarrier returns the barrier participant processes share.
func mainBarrier(exec *store.Executor) (barrier.Barrier, error) {
	if cfg.Barrier == config.BarrierMemory {
		return nil, &config.Error{
			Key: "barrier",
			Msg: `the memory barrier only works with "cosim run"`,
		}
	}

	return barrier.MakeSQLBuilder().
		WithDriver(config.PhysicalName).
		WithPollInterval(cfg.PollInterval).
		WithLogger(logger).
		Build(exec), nil
}

func controlBarrier(exec *store.Executor) barrier.Barrier {
	return barrier.MakeSQLBuilder().
		WithPollInterval(cfg.PollInterval).
		WithLogger(logger).
		Build(exec)
}

// runActor takes the turns of one participant until the run ends.
func runActor(ctx context.Context, name string, b barrier.Barrier, p barrier.Participant) error {
	a := barrier.NewActor(name, cfg.Next(name), b, p)
	a.AcceptHook(hooking.NewLogHook(logger))

	logger.Info("participant started", "name", name, "next", cfg.Next(name))

	err := a.Run(ctx)

	logger.Info("participant stopped", "name", name, "rounds", a.Rounds())

	return err
}
