// Package controller implements the PLC participants of the main barrier and
// the network attackers that take their turn after them.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"

	"github.com/sarchlab/cosim/config"
	"github.com/sarchlab/cosim/hooking"
	"github.com/sarchlab/cosim/store"
	"github.com/sarchlab/cosim/tags"
)

// HookPosControlled marks a finished PLC round. The item is the clock and the
// detail the actuator values written.
var HookPosControlled = &hooking.HookPos{Name: "Controlled"}

// PLCBuilder can build PLCs.
type PLCBuilder struct {
	plc    config.PLC
	exec   *store.Executor
	logic  Logic
	table  *tags.Table
	logger *slog.Logger
}

// MakePLCBuilder returns a builder for a PLC that holds its actuators.
func MakePLCBuilder() PLCBuilder {
	return PLCBuilder{logic: HoldLogic{}}
}

// WithPLC sets the configured PLC.
func (b PLCBuilder) WithPLC(plc config.PLC) PLCBuilder {
	b.plc = plc
	return b
}

// WithExecutor sets the executor of the simulation store.
func (b PLCBuilder) WithExecutor(e *store.Executor) PLCBuilder {
	b.exec = e
	return b
}

// WithLogic sets the control logic.
func (b PLCBuilder) WithLogic(l Logic) PLCBuilder {
	b.logic = l
	return b
}

// WithTable sets the table the PLC publishes its tags to.
func (b PLCBuilder) WithTable(t *tags.Table) PLCBuilder {
	b.table = t
	return b
}

// WithLogger sets the logger.
func (b PLCBuilder) WithLogger(logger *slog.Logger) PLCBuilder {
	b.logger = logger
	return b
}

// Build creates the PLC.
func (b PLCBuilder) Build() *PLC {
	if b.exec == nil || b.plc.Name == "" {
		panic("plc needs a name and an executor")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	table := b.table
	if table == nil {
		table = NewTable(b.plc)
	}

	return &PLC{
		HookableBase: hooking.NewHookableBase(),
		plc:          b.plc,
		exec:         b.exec,
		logic:        b.logic,
		table:        table,
		logger:       logger.With("component", b.plc.Name),
	}
}

// NewTable creates the tag table of a PLC with every tag at "0".
func NewTable(plc config.PLC) *tags.Table {
	initial := map[string]string{}
	for _, tag := range plc.Tags() {
		initial[tag] = "0"
	}

	return tags.NewTable(initial)
}

// PLC reads its sensors, drives its actuators and serves both as tags.
type PLC struct {
	*hooking.HookableBase

	plc    config.PLC
	exec   *store.Executor
	logic  Logic
	table  *tags.Table
	logger *slog.Logger
}

// Name returns the participant name of the PLC.
func (p *PLC) Name() string {
	return p.plc.Name
}

// Table returns the table the PLC serves.
func (p *PLC) Table() *tags.Table {
	return p.table
}

// Round runs the control logic once against the current plant values.
func (p *PLC) Round(ctx context.Context) error {
	t, err := store.MasterTime(ctx, p.exec)
	if err != nil {
		return err
	}

	values, err := store.PlantValues(ctx, p.exec, p.plc.Tags())
	if err != nil {
		return err
	}

	in := Input{
		Time:      t,
		Sensors:   make(map[string]string, len(p.plc.Sensors)),
		Actuators: make(map[string]int, len(p.plc.Actuators)),
		Attacks:   make(map[string]bool, len(p.plc.Attacks)),
	}

	for _, s := range p.plc.Sensors {
		in.Sensors[s] = values[s]
	}

	for _, a := range p.plc.Actuators {
		v, err := strconv.Atoi(values[a])
		if err != nil {
			return fmt.Errorf("actuator %s holds %q: %w", a, values[a], err)
		}
		in.Actuators[a] = v
	}

	for _, a := range p.plc.Attacks {
		active, err := store.AttackFlag(ctx, p.exec, a.Name)
		if err != nil {
			return err
		}
		in.Attacks[a.Name] = active
	}

	out, err := p.logic.Control(ctx, in)
	if err != nil {
		return fmt.Errorf("%s control at %d: %w", p.plc.Name, t, err)
	}

	written := make(map[string]string, len(out))
	for name, v := range out {
		if !slices.Contains(p.plc.Actuators, name) {
			return fmt.Errorf("%s control at %d: %s is not an actuator of the PLC",
				p.plc.Name, t, name)
		}
		written[name] = strconv.Itoa(v)
	}

	if err := store.SetPlantValues(ctx, p.exec, written); err != nil {
		return err
	}

	published := maps.Clone(values)
	maps.Copy(published, written)
	p.table.Set(published)

	p.logger.Debug("controlled", "time", t, "actuators", out)
	p.InvokeHook(hooking.HookCtx{
		Domain: p, Pos: HookPosControlled, Item: t, Detail: out,
	})

	return nil
}
