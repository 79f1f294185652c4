// Package config defines the typed model of a co-simulation run and loads it
// from a YAML document.
package config

import (
	"strings"
	"time"
)

// Names of the fixed participants of the main barrier and the control
// barrier.
const (
	ScadaName    = "scada"
	AgentName    = "agent"
	PhysicalName = "physical"
)

// Turn-taking backends accepted in the barrier key.
const (
	BarrierSQLite = "sqlite"
	BarrierMemory = "memory"
)

// MaxActionVars is the largest number of actuators an agent can drive. Every
// discrete action index must fit in an int.
const MaxActionVars = 62

// Default values applied by Default.
const (
	DefaultDBTries         = 10
	DefaultDBSleepMin      = 10 * time.Millisecond
	DefaultDBSleepMax      = 100 * time.Millisecond
	DefaultCacheUpdateTime = 2 * time.Second
	DefaultTagPort         = 44818
	DefaultUpdateEvery     = 1
)

// Config is the validated model of one run.
type Config struct {
	LogLevel   string `yaml:"log_level"`
	LogFile    string `yaml:"log_file"`
	LogJournal bool   `yaml:"log_journal"`

	DBPath        string        `yaml:"db_path"`
	DBControlPath string        `yaml:"db_control_path"`
	DBDriver      string        `yaml:"db_driver"`
	DBTries       int           `yaml:"db_tries"`
	DBSleepMin    time.Duration `yaml:"db_sleep_min"`
	DBSleepMax    time.Duration `yaml:"db_sleep_max"`

	// Barrier selects the turn-taking backend: "sqlite" or "memory".
	Barrier      string        `yaml:"barrier"`
	PollInterval time.Duration `yaml:"poll_interval"`

	UseControlAgent bool `yaml:"use_control_agent"`
	SavingInterval  int  `yaml:"saving_interval"`
	Iterations      int  `yaml:"iterations"`

	OutputPath   string `yaml:"output_path"`
	OutputFormat string `yaml:"output_format"`

	TagPort int `yaml:"tag_port"`

	PLCs           []PLC           `yaml:"plcs"`
	Actuators      []Actuator      `yaml:"actuators"`
	NetworkAttacks []NetworkAttack `yaml:"network_attacks"`

	Scada Scada `yaml:"scada"`
	Env   Env   `yaml:"env"`
	Agent Agent `yaml:"agent"`
}

// PLC is one controller and the tags it owns.
type PLC struct {
	Name      string   `yaml:"name"`
	Sensors   []string `yaml:"sensors"`
	Actuators []string `yaml:"actuators"`
	Attacks   []Attack `yaml:"attacks"`
	PublicIP  string   `yaml:"public_ip"`

	// Control is an optional path to a Starlark control script. The special
	// value "scada" makes the PLC follow actuator commands from the monitor.
	Control string `yaml:"control"`
}

// Tags returns the sensors followed by the actuators of the PLC, the order in
// which its values are served and recorded.
func (p PLC) Tags() []string {
	tags := make([]string, 0, len(p.Sensors)+len(p.Actuators))
	tags = append(tags, p.Sensors...)
	tags = append(tags, p.Actuators...)

	return tags
}

// Attack is a device attack attached to a PLC.
type Attack struct {
	Name string `yaml:"name"`
}

// Actuator declares an actuator and its state at time zero.
type Actuator struct {
	Name         string `yaml:"name"`
	InitialState string `yaml:"initial_state"`
}

// InitialValue returns 1 for an open actuator and 0 for a closed one.
func (a Actuator) InitialValue() int {
	if strings.EqualFold(a.InitialState, "open") {
		return 1
	}

	return 0
}

// NetworkAttack is an attacker participant of the main barrier.
type NetworkAttack struct {
	Name    string  `yaml:"name"`
	Trigger Trigger `yaml:"trigger"`
}

// Trigger is a half-open iteration window [Start, End). An End of zero means
// the attack never ends.
type Trigger struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

// Active tells whether the window covers iteration t.
func (t Trigger) Active(iteration int) bool {
	if iteration < t.Start {
		return false
	}

	return t.End == 0 || iteration < t.End
}

// Scada configures the monitor.
type Scada struct {
	LocalIP         string        `yaml:"local_ip"`
	MonitorPort     int           `yaml:"monitor_port"`
	CacheUpdateTime time.Duration `yaml:"cache_update_time"`
	OpenBrowser     bool          `yaml:"open_browser"`
}

// Env configures the control bridge.
type Env struct {
	StateVars   []string         `yaml:"state_vars"`
	ActionVars  []string         `yaml:"action_vars"`
	Bounds      map[string]Bound `yaml:"bounds"`
	UpdateEvery int              `yaml:"update_every"`
}

// ActionSpaceSize is 2^|action_vars|.
func (e Env) ActionSpaceSize() int {
	return 1 << len(e.ActionVars)
}

// Bound is the observation range of one state variable.
type Bound struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Agent selects the policy driving the learning agent process.
type Agent struct {
	Policy string `yaml:"policy"`
	Seed   uint64 `yaml:"seed"`
	Action int    `yaml:"action"`
}

// Default returns a configuration with every optional key set.
func Default() *Config {
	return &Config{
		LogLevel:     "info",
		DBDriver:     "sqlite3",
		DBTries:      DefaultDBTries,
		DBSleepMin:   DefaultDBSleepMin,
		DBSleepMax:   DefaultDBSleepMax,
		Barrier:      BarrierSQLite,
		OutputPath:   ".",
		OutputFormat: "csv",
		TagPort:      DefaultTagPort,
		Scada: Scada{
			CacheUpdateTime: DefaultCacheUpdateTime,
		},
		Env: Env{
			UpdateEvery: DefaultUpdateEvery,
		},
		Agent: Agent{
			Policy: "random",
		},
	}
}

// Sensors lists every sensor in declared PLC order.
func (c *Config) Sensors() []string {
	var sensors []string
	for _, plc := range c.PLCs {
		sensors = append(sensors, plc.Sensors...)
	}

	return sensors
}

// RecordedTags lists the recorded columns after iteration and timestamp:
// each PLC's sensors then actuators, in declared PLC order.
func (c *Config) RecordedTags() []string {
	var tags []string
	for _, plc := range c.PLCs {
		tags = append(tags, plc.Tags()...)
	}

	return tags
}

// Pipeline returns the order in which participants take their turn after the
// physical process: PLCs, network attackers, then the monitor.
func (c *Config) Pipeline() []string {
	names := make([]string, 0, len(c.PLCs)+len(c.NetworkAttacks)+1)
	for _, plc := range c.PLCs {
		names = append(names, plc.Name)
	}

	for _, attack := range c.NetworkAttacks {
		names = append(names, attack.Name)
	}

	names = append(names, ScadaName)

	return names
}

// Next returns the participant that follows name in the pipeline. The
// monitor is followed by the physical process.
func (c *Config) Next(name string) string {
	pipeline := c.Pipeline()
	if name == PhysicalName {
		return pipeline[0]
	}

	for i, n := range pipeline {
		if n == name && i+1 < len(pipeline) {
			return pipeline[i+1]
		}
	}

	return PhysicalName
}

// FindPLC returns the PLC with the given name.
func (c *Config) FindPLC(name string) (PLC, bool) {
	for _, plc := range c.PLCs {
		if plc.Name == name {
			return plc, true
		}
	}

	return PLC{}, false
}

// FindNetworkAttack returns the network attack with the given name.
func (c *Config) FindNetworkAttack(name string) (NetworkAttack, bool) {
	for _, a := range c.NetworkAttacks {
		if a.Name == name {
			return a, true
		}
	}

	return NetworkAttack{}, false
}

// AttackNames lists device attacks in PLC order followed by network attacks.
func (c *Config) AttackNames() []string {
	var names []string
	for _, plc := range c.PLCs {
		for _, a := range plc.Attacks {
			names = append(names, a.Name)
		}
	}

	for _, a := range c.NetworkAttacks {
		names = append(names, a.Name)
	}

	return names
}
