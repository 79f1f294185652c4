// Package physical implements the physical-process driver, the participant
// that owns the master clock and the sensor values of the plant.
package physical

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sarchlab/cosim/barrier"
	"github.com/sarchlab/cosim/config"
	"github.com/sarchlab/cosim/hooking"
	"github.com/sarchlab/cosim/store"
)

// HookPosStepped marks a finished plant step. The item is the clock and the
// detail the written sensor values.
var HookPosStepped = &hooking.HookPos{Name: "Stepped"}

// DriverBuilder can build drivers.
type DriverBuilder struct {
	exec       *store.Executor
	plant      Plant
	sensors    []string
	iterations int
	logger     *slog.Logger
}

// MakeDriverBuilder returns a builder for an unbounded run of a HoldPlant.
func MakeDriverBuilder() DriverBuilder {
	return DriverBuilder{plant: HoldPlant{}}
}

// WithExecutor sets the executor of the simulation store.
func (b DriverBuilder) WithExecutor(e *store.Executor) DriverBuilder {
	b.exec = e
	return b
}

// WithPlant sets the simulated process.
func (b DriverBuilder) WithPlant(p Plant) DriverBuilder {
	b.plant = p
	return b
}

// WithSensors sets the tags the plant may write.
func (b DriverBuilder) WithSensors(sensors []string) DriverBuilder {
	b.sensors = sensors
	return b
}

// WithIterations sets how many rounds the driver runs. Zero means no limit.
func (b DriverBuilder) WithIterations(n int) DriverBuilder {
	b.iterations = n
	return b
}

// WithLogger sets the logger.
func (b DriverBuilder) WithLogger(logger *slog.Logger) DriverBuilder {
	b.logger = logger
	return b
}

// Build creates the driver.
func (b DriverBuilder) Build() *Driver {
	if b.exec == nil {
		panic("driver needs an executor")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	sensors := make(map[string]bool, len(b.sensors))
	for _, s := range b.sensors {
		sensors[s] = true
	}

	return &Driver{
		HookableBase: hooking.NewHookableBase(),
		exec:         b.exec,
		plant:        b.plant,
		sensors:      sensors,
		iterations:   b.iterations,
		logger:       logger.With("component", config.PhysicalName),
	}
}

// Driver advances the master clock and steps the plant once per round.
type Driver struct {
	*hooking.HookableBase

	exec       *store.Executor
	plant      Plant
	sensors    map[string]bool
	iterations int
	logger     *slog.Logger

	rounds int
}

// Rounds returns the number of finished rounds.
func (d *Driver) Rounds() int {
	return d.rounds
}

// Round runs one plant step. The first round steps at the initial clock;
// every later round advances the clock first. Once the configured number of
// rounds is done, Round returns barrier.ErrDone.
func (d *Driver) Round(ctx context.Context) error {
	if d.iterations > 0 && d.rounds >= d.iterations {
		d.logger.Info("run finished", "rounds", d.rounds)
		return barrier.ErrDone
	}

	var (
		t   int
		err error
	)
	if d.rounds == 0 {
		t, err = store.MasterTime(ctx, d.exec)
	} else {
		t, err = store.AdvanceMasterTime(ctx, d.exec)
	}
	if err != nil {
		return err
	}

	values, err := store.AllPlantValues(ctx, d.exec)
	if err != nil {
		return err
	}

	next, err := d.plant.Step(t, values)
	if err != nil {
		return fmt.Errorf("plant step at %d: %w", t, err)
	}

	for name := range next {
		if !d.sensors[name] {
			return fmt.Errorf("plant step at %d: %s is not a sensor", t, name)
		}
	}

	if err := store.SetPlantValues(ctx, d.exec, next); err != nil {
		return err
	}

	d.rounds++
	d.logger.Debug("stepped", "time", t, "values", next)
	d.InvokeHook(hooking.HookCtx{
		Domain: d, Pos: HookPosStepped, Item: t, Detail: next,
	})

	return nil
}
