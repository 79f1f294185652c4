package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"sort"
	"strconv"
	"sync"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/sarchlab/cosim/config"
	"github.com/sarchlab/cosim/tags"
)

// Control logic names accepted in the control key of a PLC. Any other value
// is the path of a Starlark script.
const (
	LogicHold  = "hold"
	LogicScada = "scada"
)

// Input is what a PLC knows when it computes its actuators.
type Input struct {
	Time      int
	Sensors   map[string]string
	Actuators map[string]int
	Attacks   map[string]bool
}

// Logic computes the actuator values of a PLC for one round.
type Logic interface {
	Control(ctx context.Context, in Input) (map[string]int, error)
}

// HoldLogic keeps every actuator as it is.
type HoldLogic struct{}

// Control returns the current actuator values.
func (HoldLogic) Control(_ context.Context, in Input) (map[string]int, error) {
	return maps.Clone(in.Actuators), nil
}

// ScadaLogic follows the actuator commands served by the monitor.
type ScadaLogic struct {
	fetcher tags.Fetcher
	source  tags.Source
	logger  *slog.Logger

	lock sync.Mutex
	last map[string]int
}

// NewScadaLogic creates a logic that fetches the commands for actuators from
// the command source of the monitor.
func NewScadaLogic(
	fetcher tags.Fetcher,
	commands tags.Source,
	actuators []string,
	logger *slog.Logger,
) *ScadaLogic {
	if logger == nil {
		logger = slog.Default()
	}

	source := commands
	source.Tags = actuators

	return &ScadaLogic{
		fetcher: fetcher,
		source:  source,
		logger:  logger,
	}
}

// Control fetches the commands. If the monitor cannot be reached, the
// previous commands stay in force.
func (l *ScadaLogic) Control(ctx context.Context, in Input) (map[string]int, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.last == nil {
		l.last = maps.Clone(in.Actuators)
	}

	if len(l.source.Tags) == 0 {
		return maps.Clone(l.last), nil
	}

	values, err := l.fetcher.Fetch(ctx, l.source)
	if err == nil && len(values) != len(l.source.Tags) {
		err = &tags.TransportError{
			Source: l.source.Name,
			Err:    fmt.Errorf("fetched %d commands, want %d", len(values), len(l.source.Tags)),
		}
	}
	if err != nil {
		if !errors.Is(err, tags.ErrTransport) {
			return nil, err
		}

		l.logger.Warn("keeping previous commands", "error", err)

		return maps.Clone(l.last), nil
	}

	next := make(map[string]int, len(values))
	for i, tag := range l.source.Tags {
		v, err := strconv.Atoi(values[i])
		if err != nil {
			return nil, fmt.Errorf("command %s: %w", tag, err)
		}
		next[tag] = v
	}

	l.last = next

	return maps.Clone(next), nil
}

// StarlarkLogic runs a script that defines
//
//	def control(t, sensors, actuators, attacks):
//	    return {"P1": 1}
//
// Sensors that parse as numbers are passed as floats. The returned dict
// maps actuator names to ints or bools.
type StarlarkLogic struct {
	name    string
	control starlark.Callable
	logger  *slog.Logger
}

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
}

// LoadStarlarkLogic reads the script at path.
func LoadStarlarkLogic(path string, logger *slog.Logger) (*StarlarkLogic, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read control script: %w", err)
	}

	return NewStarlarkLogic(path, src, logger)
}

// NewStarlarkLogic executes src once and keeps its control function.
func NewStarlarkLogic(name string, src []byte, logger *slog.Logger) (*StarlarkLogic, error) {
	if logger == nil {
		logger = slog.Default()
	}

	l := &StarlarkLogic{name: name, logger: logger}

	globals, err := starlark.ExecFileOptions(fileOptions, l.thread(), name, src, nil)
	if err != nil {
		return nil, fmt.Errorf("load control script %s: %w", name, err)
	}

	fn, ok := globals["control"].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("control script %s does not define control", name)
	}
	l.control = fn

	return l, nil
}

func (l *StarlarkLogic) thread() *starlark.Thread {
	return &starlark.Thread{
		Name: l.name,
		Print: func(_ *starlark.Thread, msg string) {
			l.logger.Info(msg, "script", l.name)
		},
	}
}

// Control calls the control function of the script.
func (l *StarlarkLogic) Control(ctx context.Context, in Input) (map[string]int, error) {
	thread := l.thread()
	stop := context.AfterFunc(ctx, func() { thread.Cancel(ctx.Err().Error()) })
	defer stop()

	args := starlark.Tuple{
		starlark.MakeInt(in.Time),
		sensorDict(in.Sensors),
		intDict(in.Actuators),
		boolDict(in.Attacks),
	}

	ret, err := starlark.Call(thread, l.control, args, nil)
	if err != nil {
		return nil, fmt.Errorf("control script %s: %w", l.name, err)
	}

	dict, ok := ret.(*starlark.Dict)
	if !ok {
		return nil, fmt.Errorf("control script %s returned %s, want dict",
			l.name, ret.Type())
	}

	out := make(map[string]int, dict.Len())
	for _, item := range dict.Items() {
		name, ok := starlark.AsString(item[0])
		if !ok {
			return nil, fmt.Errorf("control script %s: key %s is not a string",
				l.name, item[0])
		}

		v, err := actuatorValue(item[1])
		if err != nil {
			return nil, fmt.Errorf("control script %s: %s: %w", l.name, name, err)
		}
		out[name] = v
	}

	return out, nil
}

func actuatorValue(v starlark.Value) (int, error) {
	if b, ok := v.(starlark.Bool); ok {
		if b {
			return 1, nil
		}
		return 0, nil
	}

	return starlark.AsInt32(v)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}

// setKey fills a dict created here. SetKey only fails on frozen dicts or
// unhashable keys, neither of which can happen with string keys on a new dict.
func setKey(d *starlark.Dict, k string, v starlark.Value) {
	if err := d.SetKey(starlark.String(k), v); err != nil {
		panic(err)
	}
}

func sensorDict(values map[string]string) *starlark.Dict {
	d := starlark.NewDict(len(values))
	for _, k := range sortedKeys(values) {
		var v starlark.Value = starlark.String(values[k])
		if f, err := strconv.ParseFloat(values[k], 64); err == nil {
			v = starlark.Float(f)
		}
		setKey(d, k, v)
	}

	return d
}

func intDict(values map[string]int) *starlark.Dict {
	d := starlark.NewDict(len(values))
	for _, k := range sortedKeys(values) {
		setKey(d, k, starlark.MakeInt(values[k]))
	}

	return d
}

func boolDict(values map[string]bool) *starlark.Dict {
	d := starlark.NewDict(len(values))
	for _, k := range sortedKeys(values) {
		setKey(d, k, starlark.Bool(values[k]))
	}

	return d
}

// NewLogic creates the control logic configured for plc.
func NewLogic(
	cfg *config.Config,
	plc config.PLC,
	fetcher tags.Fetcher,
	logger *slog.Logger,
) (Logic, error) {
	switch plc.Control {
	case "", LogicHold:
		return HoldLogic{}, nil
	case LogicScada:
		if fetcher == nil {
			return nil, errors.New("scada control needs a tag fetcher")
		}
		return NewScadaLogic(fetcher, scadaCommands(cfg), plc.Actuators, logger), nil
	default:
		return LoadStarlarkLogic(plc.Control, logger)
	}
}

func scadaCommands(cfg *config.Config) tags.Source {
	return tags.Source{
		Name:    config.ScadaName,
		Address: tags.Address(cfg.Scada.LocalIP, cfg.TagPort),
	}
}
