package simulation

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/rs/xid"

	"github.com/sarchlab/cosim/barrier"
	"github.com/sarchlab/cosim/bridge"
	"github.com/sarchlab/cosim/config"
	"github.com/sarchlab/cosim/controller"
	"github.com/sarchlab/cosim/datarecording"
	"github.com/sarchlab/cosim/monitoring"
	"github.com/sarchlab/cosim/physical"
	"github.com/sarchlab/cosim/store"
	"github.com/sarchlab/cosim/tags"
)

// Builder can be used to build a simulation.
type Builder struct {
	cfg            *config.Config
	plant          physical.Plant
	policy         bridge.Policy
	storeBarrier   bool
	monitorOn      bool
	monitorPort    int
	outputFileName string
	logger         *slog.Logger
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	return Builder{
		plant: physical.HoldPlant{},
	}
}

// WithConfig sets the run configuration.
func (b Builder) WithConfig(cfg *config.Config) Builder {
	b.cfg = cfg
	return b
}

// WithPlant sets the simulated physical process.
func (b Builder) WithPlant(p physical.Plant) Builder {
	b.plant = p
	return b
}

// WithPolicy replaces the configured agent policy.
func (b Builder) WithPolicy(p bridge.Policy) Builder {
	b.policy = p
	return b
}

// WithStoreBarrier makes the participants take turns through the sync table
// of the simulation store even when the configured barrier is memory.
func (b Builder) WithStoreBarrier() Builder {
	b.storeBarrier = true
	return b
}

// WithMonitorPort serves the monitoring API on the given port. Port 0 picks a
// free port.
func (b Builder) WithMonitorPort(port int) Builder {
	b.monitorOn = true
	b.monitorPort = port
	return b
}

// WithOutputFileName sets the name of the record, without extension.
func (b Builder) WithOutputFileName(filename string) Builder {
	b.outputFileName = filename
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(logger *slog.Logger) Builder {
	b.logger = logger
	return b
}

// Build initializes the stores and creates every participant of the run.
func (b Builder) Build(ctx context.Context) (*Simulation, error) {
	if b.cfg == nil {
		panic("simulation needs a config")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Simulation{
		id:             xid.New().String(),
		cfg:            b.cfg,
		network:        tags.NewNetwork(),
		actorNameIndex: make(map[string]int),
	}
	s.logger = logger.With("simulation", s.id)

	if err := b.build(ctx, s); err != nil {
		_ = s.Terminate()
		return nil, err
	}

	return s, nil
}

func (b Builder) build(ctx context.Context, s *Simulation) error {
	if err := b.buildStores(ctx, s); err != nil {
		return err
	}

	if err := b.buildParticipants(s); err != nil {
		return err
	}

	if err := b.buildMonitor(ctx, s); err != nil {
		return err
	}

	if !b.monitorOn {
		return nil
	}

	s.server = monitoring.NewServer(s.scada, b.monitorPort, s.logger)

	url, err := s.server.Start()
	if err != nil {
		return err
	}
	s.url = url

	return nil
}

func (b Builder) executor(db *sql.DB, name string, logger *slog.Logger) *store.Executor {
	return store.MakeExecutorBuilder().
		WithTries(b.cfg.DBTries).
		WithSleepRange(b.cfg.DBSleepMin, b.cfg.DBSleepMax).
		WithName(name).
		WithLogger(logger).
		Build(db)
}

func (b Builder) openStore(path, name string, s *Simulation) (*store.Executor, error) {
	db, err := store.Open(path, b.cfg.DBDriver)
	if err != nil {
		return nil, err
	}

	// Participants share one connection and take turns on it.
	db.SetMaxOpenConns(1)
	s.dbs = append(s.dbs, db)

	return b.executor(db, name, s.logger), nil
}

func (b Builder) buildStores(ctx context.Context, s *Simulation) error {
	var err error

	s.exec, err = b.openStore(b.cfg.DBPath, "simulation-store", s)
	if err != nil {
		return err
	}

	if err := store.InitSimulation(ctx, s.exec, b.cfg); err != nil {
		return fmt.Errorf("init simulation store: %w", err)
	}

	if b.storeBarrier || b.cfg.Barrier == config.BarrierSQLite {
		s.barrier = barrier.MakeSQLBuilder().
			WithDriver(config.PhysicalName).
			WithPollInterval(b.cfg.PollInterval).
			WithLogger(s.logger).
			Build(s.exec)
	} else {
		s.barrier = barrier.NewPipelineBarrier(config.PhysicalName, b.cfg.Pipeline())
	}

	if !b.cfg.UseControlAgent {
		return nil
	}

	s.controlExec, err = b.openStore(b.cfg.DBControlPath, "control-store", s)
	if err != nil {
		return err
	}

	if err := store.InitControl(ctx, s.controlExec, b.cfg); err != nil {
		return fmt.Errorf("init control store: %w", err)
	}

	s.controlBarrier = barrier.NewMemoryBarrier("", map[string]bool{
		config.ScadaName: true,
		config.AgentName: false,
	})

	return nil
}

func (b Builder) buildParticipants(s *Simulation) error {
	s.driver = physical.MakeDriverBuilder().
		WithExecutor(s.exec).
		WithPlant(b.plant).
		WithSensors(b.cfg.Sensors()).
		WithIterations(b.cfg.Iterations).
		WithLogger(s.logger).
		Build()
	s.RegisterParticipant(config.PhysicalName, s.driver)

	for _, plc := range b.cfg.PLCs {
		table := controller.NewTable(plc)
		s.network.Serve(plc.Name, table)

		logic, err := controller.NewLogic(b.cfg, plc, s.network, s.logger)
		if err != nil {
			return err
		}

		s.RegisterParticipant(plc.Name, controller.MakePLCBuilder().
			WithPLC(plc).
			WithExecutor(s.exec).
			WithLogic(logic).
			WithTable(table).
			WithLogger(s.logger).
			Build())
	}

	for _, a := range b.cfg.NetworkAttacks {
		s.RegisterParticipant(a.Name, controller.NewAttacker(a, s.exec, s.logger))
	}

	return nil
}

func (b Builder) buildMonitor(ctx context.Context, s *Simulation) error {
	commands := monitoring.NewCommandTable(b.cfg)
	s.network.Serve(config.ScadaName, commands)

	name := b.outputFileName
	if name == "" {
		name = datarecording.DefaultName
	}

	recorder, err := datarecording.MakeBuilder().
		WithFormat(b.cfg.OutputFormat).
		WithDir(b.cfg.OutputPath).
		WithName(name).
		WithDriver(b.cfg.DBDriver).
		WithTags(b.cfg.RecordedTags()).
		WithLogger(s.logger).
		Build()
	if err != nil {
		return err
	}

	cache := monitoring.MakeCacheBuilder().
		WithFetcher(s.network).
		WithSources(monitoring.Sources(b.cfg)).
		WithPeriod(b.cfg.Scada.CacheUpdateTime).
		WithLogger(s.logger).
		Build()

	scada := monitoring.MakeScadaBuilder().
		WithConfig(b.cfg).
		WithExecutor(s.exec).
		WithCache(cache).
		WithRecorder(recorder).
		WithCommands(commands).
		WithLogger(s.logger)

	if b.cfg.UseControlAgent {
		scada = scada.WithBridge(
			bridge.NewControlStore(s.controlExec, s.controlBarrier, s.logger))

		if err := b.buildAgent(ctx, s); err != nil {
			recorder.Close()
			return err
		}
	}

	s.scada = scada.Build()
	s.RegisterParticipant(config.ScadaName, s.scada)

	return nil
}

func (b Builder) buildAgent(ctx context.Context, s *Simulation) error {
	env, err := bridge.NewEnvironment(ctx, s.controlExec, s.controlBarrier, b.cfg.Env, s.logger)
	if err != nil {
		return err
	}

	policy := b.policy
	if policy == nil {
		policy, err = bridge.NewPolicy(b.cfg.Agent, env.ActionSpaceSize())
		if err != nil {
			return err
		}
	}

	s.agent = bridge.NewRunner(env, policy, s.logger)

	return nil
}
