// Package monitoring implements the monitor of a run: it caches the tag
// values of every controller, records them once per round, exchanges
// observations and actions with the learning agent and serves its state over
// HTTP.
package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/sarchlab/cosim/config"
	"github.com/sarchlab/cosim/datarecording"
	"github.com/sarchlab/cosim/store"
	"github.com/sarchlab/cosim/tags"
)

// An Exchanger trades an observation for the agent's latest action.
type Exchanger interface {
	Exchange(ctx context.Context, clock int, obs map[string]float64) (map[string]int, error)
}

// Sources returns one source per PLC, reachable at the PLC's public address.
func Sources(cfg *config.Config) []tags.Source {
	sources := make([]tags.Source, 0, len(cfg.PLCs))
	for _, plc := range cfg.PLCs {
		sources = append(sources, tags.Source{
			Name:    plc.Name,
			Address: tags.Address(plc.PublicIP, cfg.TagPort),
			Tags:    plc.Tags(),
		})
	}

	return sources
}

// CommandSource returns the source under which the monitor serves actuator
// commands.
func CommandSource(cfg *config.Config) tags.Source {
	names := make([]string, 0, len(cfg.Actuators))
	for _, a := range cfg.Actuators {
		names = append(names, a.Name)
	}

	return tags.Source{
		Name:    config.ScadaName,
		Address: tags.Address(cfg.Scada.LocalIP, cfg.TagPort),
		Tags:    names,
	}
}

// NewCommandTable creates the actuator command table, seeded with the
// initial actuator states.
func NewCommandTable(cfg *config.Config) *tags.Table {
	initial := make(map[string]string, len(cfg.Actuators))
	for _, a := range cfg.Actuators {
		initial[a.Name] = strconv.Itoa(a.InitialValue())
	}

	return tags.NewTable(initial)
}

// ScadaBuilder can build monitors.
type ScadaBuilder struct {
	cfg      *config.Config
	exec     *store.Executor
	cache    *Cache
	recorder datarecording.Recorder
	bridge   Exchanger
	commands *tags.Table
	logger   *slog.Logger
	now      func() time.Time
}

// MakeScadaBuilder returns a builder with no control bridge.
func MakeScadaBuilder() ScadaBuilder {
	return ScadaBuilder{now: time.Now}
}

// WithConfig sets the run configuration.
func (b ScadaBuilder) WithConfig(cfg *config.Config) ScadaBuilder {
	b.cfg = cfg
	return b
}

// WithExecutor sets the executor of the simulation store.
func (b ScadaBuilder) WithExecutor(e *store.Executor) ScadaBuilder {
	b.exec = e
	return b
}

// WithCache sets the tag cache.
func (b ScadaBuilder) WithCache(c *Cache) ScadaBuilder {
	b.cache = c
	return b
}

// WithRecorder sets the recorder of the rounds.
func (b ScadaBuilder) WithRecorder(r datarecording.Recorder) ScadaBuilder {
	b.recorder = r
	return b
}

// WithBridge enables the exchange with the learning agent.
func (b ScadaBuilder) WithBridge(e Exchanger) ScadaBuilder {
	b.bridge = e
	return b
}

// WithCommands sets the table actuator commands are published to.
func (b ScadaBuilder) WithCommands(t *tags.Table) ScadaBuilder {
	b.commands = t
	return b
}

// WithLogger sets the logger.
func (b ScadaBuilder) WithLogger(logger *slog.Logger) ScadaBuilder {
	b.logger = logger
	return b
}

// WithClock replaces the source of record timestamps.
func (b ScadaBuilder) WithClock(now func() time.Time) ScadaBuilder {
	b.now = now
	return b
}

// Build creates the monitor.
func (b ScadaBuilder) Build() *Scada {
	if b.cfg == nil || b.exec == nil || b.cache == nil || b.recorder == nil {
		panic("scada needs a config, an executor, a cache and a recorder")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	commands := b.commands
	if commands == nil {
		commands = NewCommandTable(b.cfg)
	}

	sensors := b.cfg.Sensors()
	isSensor := make(map[string]bool, len(sensors))
	for _, s := range sensors {
		isSensor[s] = true
	}

	return &Scada{
		exec:           b.exec,
		cache:          b.cache,
		recorder:       b.recorder,
		bridge:         b.bridge,
		commands:       commands,
		isSensor:       isSensor,
		savingInterval: b.cfg.SavingInterval,
		updateEvery:    max(b.cfg.Env.UpdateEvery, 1),
		progress:       NewProgressBar("rounds", uint64(b.cfg.Iterations)),
		logger:         logger.With("component", config.ScadaName),
		now:            b.now,
	}
}

// Scada is the monitor participant of the main barrier.
type Scada struct {
	exec     *store.Executor
	cache    *Cache
	recorder datarecording.Recorder
	bridge   Exchanger
	commands *tags.Table
	isSensor map[string]bool

	savingInterval int
	updateEvery    int

	progress *ProgressBar
	logger   *slog.Logger
	now      func() time.Time

	lock       sync.Mutex
	clock      int
	lastAction map[string]int
	closed     bool
}

// Cache returns the tag cache.
func (s *Scada) Cache() *Cache {
	return s.cache
}

// Commands returns the actuator command table.
func (s *Scada) Commands() *tags.Table {
	return s.commands
}

// Progress returns the round tracker.
func (s *Scada) Progress() *ProgressBar {
	return s.progress
}

// Clock returns the master clock seen by the last round.
func (s *Scada) Clock() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.clock
}

// LastAction returns the last action received from the agent, or nil.
func (s *Scada) LastAction() map[string]int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.lastAction
}

// Round records the current values and, on exchange ticks, trades them with
// the agent.
func (s *Scada) Round(ctx context.Context) error {
	s.cache.Start(ctx)

	clock, err := store.MasterTime(ctx, s.exec)
	if err != nil {
		return err
	}

	snapshot := s.cache.Snapshot()

	row := append([]string{
		strconv.Itoa(clock),
		s.now().Format(time.RFC3339Nano),
	}, s.cache.Flatten(snapshot)...)
	if err := s.recorder.Record(row); err != nil {
		return fmt.Errorf("record round %d: %w", clock, err)
	}

	if s.savingInterval > 0 && clock != 0 && clock%s.savingInterval == 0 {
		if err := s.recorder.Flush(); err != nil {
			return fmt.Errorf("save record: %w", err)
		}
	}

	if s.bridge != nil && clock%s.updateEvery == 0 {
		if err := s.exchange(ctx, clock, snapshot); err != nil {
			return err
		}
	}

	s.lock.Lock()
	s.clock = clock
	s.lock.Unlock()

	s.progress.Finish(clock)

	return nil
}

func (s *Scada) exchange(ctx context.Context, clock int, snapshot map[string][]string) error {
	obs := map[string]float64{}

	for _, src := range s.cache.Sources() {
		values := snapshot[src.Name]
		for i, tag := range src.Tags {
			if !s.isSensor[tag] || i >= len(values) {
				continue
			}

			v, err := strconv.ParseFloat(values[i], 64)
			if err != nil {
				s.logger.Warn("sensor value is not a number",
					"tag", tag, "value", values[i])
				continue
			}

			obs[tag] = v
		}
	}

	action, err := s.bridge.Exchange(ctx, clock, obs)
	if err != nil {
		return fmt.Errorf("exchange with agent: %w", err)
	}

	commands := make(map[string]string, len(action))
	for id, v := range action {
		commands[id] = strconv.Itoa(v)
	}
	s.commands.Set(commands)

	s.lock.Lock()
	s.lastAction = action
	s.lock.Unlock()

	return nil
}

// Close stops the cache and closes the recorder.
func (s *Scada) Close() error {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return nil
	}
	s.closed = true
	s.lock.Unlock()

	s.cache.Stop()

	return s.recorder.Close()
}
