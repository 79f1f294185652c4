package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override keys of the document.
const (
	EnvLogLevel      = "COSIM_LOG_LEVEL"
	EnvDBPath        = "COSIM_DB_PATH"
	EnvDBControlPath = "COSIM_DB_CONTROL_PATH"
	EnvOutputPath    = "COSIM_OUTPUT_PATH"
)

// Load reads the document at path. If envFile is empty, a ".env" next to the
// document is loaded when present. Variables already set in the process
// environment win over the file.
func Load(path, envFile string) (*Config, error) {
	if envFile == "" {
		envFile = filepath.Join(filepath.Dir(path), ".env")
		if _, err := os.Stat(envFile); errors.Is(err, fs.ErrNotExist) {
			envFile = ""
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, &Error{Msg: "failed to load " + envFile, Err: err}
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Msg: "failed to read " + path, Err: err}
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Parse decodes a document, applies environment overrides and validates the
// result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(cfg); err != nil {
		return nil, &Error{Msg: "failed to parse document", Err: err}
	}

	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	overrides := []struct {
		name string
		dst  *string
	}{
		{EnvLogLevel, &c.LogLevel},
		{EnvDBPath, &c.DBPath},
		{EnvDBControlPath, &c.DBControlPath},
		{EnvOutputPath, &c.OutputPath},
	}

	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.name); ok && v != "" {
			*o.dst = v
		}
	}
}

func (c *Config) normalize() {
	c.LogLevel = strings.ToLower(c.LogLevel)

	if c.PollInterval == 0 {
		c.PollInterval = c.DBSleepMin
	}

	for i := range c.PLCs {
		c.PLCs[i].Sensors = dropEmpty(c.PLCs[i].Sensors)
		c.PLCs[i].Actuators = dropEmpty(c.PLCs[i].Actuators)
	}
}

func dropEmpty(names []string) []string {
	return slices.DeleteFunc(names, func(s string) bool { return s == "" })
}

// Validate checks every structural assumption the stores and the barrier rely
// on.
func (c *Config) Validate() error {
	checks := []func() error{
		c.validateGeneral,
		c.validatePLCs,
		c.validateActuators,
		c.validateAttacks,
		c.validateEnv,
	}

	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) validateGeneral() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return errorf("log_level", "unknown level %q", c.LogLevel)
	}

	if c.DBPath == "" {
		return errorf("db_path", "required")
	}

	if c.DBDriver != "sqlite3" && c.DBDriver != "sqlite" {
		return errorf("db_driver", "unknown driver %q", c.DBDriver)
	}

	if c.Barrier != BarrierSQLite && c.Barrier != BarrierMemory {
		return errorf("barrier", "unknown backend %q", c.Barrier)
	}

	if c.OutputFormat != "csv" && c.OutputFormat != "sqlite" {
		return errorf("output_format", "unknown format %q", c.OutputFormat)
	}

	if c.DBTries < 1 {
		return errorf("db_tries", "must be at least 1")
	}

	if c.DBSleepMin <= 0 || c.DBSleepMax < c.DBSleepMin {
		return errorf("db_sleep_min", "need 0 < db_sleep_min <= db_sleep_max")
	}

	if c.SavingInterval < 0 {
		return errorf("saving_interval", "must not be negative")
	}

	if c.Iterations < 0 {
		return errorf("iterations", "must not be negative")
	}

	if c.Scada.CacheUpdateTime <= 0 {
		return errorf("scada.cache_update_time", "must be positive")
	}

	return nil
}

func (c *Config) validatePLCs() error {
	if len(c.PLCs) == 0 {
		return errorf("plcs", "at least one PLC is required")
	}

	names := map[string]bool{ScadaName: true, PhysicalName: true}
	tags := map[string]string{}

	for i, plc := range c.PLCs {
		key := fmt.Sprintf("plcs[%d]", i)
		if plc.Name == "" {
			return errorf(key+".name", "required")
		}

		if names[plc.Name] {
			return errorf(key+".name", "duplicate or reserved name %q", plc.Name)
		}
		names[plc.Name] = true

		for _, tag := range plc.Tags() {
			if owner, ok := tags[tag]; ok {
				return errorf(key, "tag %q already owned by %s", tag, owner)
			}
			tags[tag] = plc.Name
		}
	}

	return nil
}

func (c *Config) validateActuators() error {
	seen := map[string]bool{}

	for i, a := range c.Actuators {
		key := fmt.Sprintf("actuators[%d]", i)
		if a.Name == "" {
			return errorf(key+".name", "required")
		}

		if seen[a.Name] {
			return errorf(key+".name", "duplicate actuator %q", a.Name)
		}
		seen[a.Name] = true

		state := strings.ToLower(a.InitialState)
		if state != "open" && state != "closed" {
			return errorf(key+".initial_state",
				"must be open or closed, got %q", a.InitialState)
		}
	}

	for i, plc := range c.PLCs {
		for _, a := range plc.Actuators {
			if !seen[a] {
				return errorf(fmt.Sprintf("plcs[%d].actuators", i),
					"actuator %q is not declared in actuators", a)
			}
		}
	}

	return nil
}

func (c *Config) validateAttacks() error {
	names := map[string]bool{ScadaName: true, PhysicalName: true}
	for _, plc := range c.PLCs {
		names[plc.Name] = true
	}

	for i, a := range c.NetworkAttacks {
		key := fmt.Sprintf("network_attacks[%d]", i)
		if a.Name == "" {
			return errorf(key+".name", "required")
		}

		if names[a.Name] {
			return errorf(key+".name", "duplicate or reserved name %q", a.Name)
		}
		names[a.Name] = true

		if a.Trigger.End != 0 && a.Trigger.End <= a.Trigger.Start {
			return errorf(key+".trigger", "end must be after start")
		}
	}

	attacks := map[string]bool{}
	for _, name := range c.AttackNames() {
		if attacks[name] {
			return errorf("attacks", "duplicate attack %q", name)
		}
		attacks[name] = true
	}

	return nil
}

func (c *Config) validateEnv() error {
	if !c.UseControlAgent {
		return nil
	}

	if c.DBControlPath == "" {
		return errorf("db_control_path", "required when use_control_agent is set")
	}

	sensors := map[string]bool{}
	for _, s := range c.Sensors() {
		sensors[s] = true
	}

	actuators := map[string]bool{}
	for _, a := range c.Actuators {
		actuators[a.Name] = true
	}

	if len(c.Env.StateVars) == 0 {
		return errorf("env.state_vars", "required")
	}

	for _, v := range c.Env.StateVars {
		if !sensors[v] {
			return errorf("env.state_vars", "unknown sensor %q", v)
		}

		b, ok := c.Env.Bounds[v]
		if !ok {
			return errorf("env.bounds", "missing bounds for %q", v)
		}

		if b.Min > b.Max {
			return errorf("env.bounds."+v, "min is greater than max")
		}
	}

	if len(c.Env.ActionVars) == 0 {
		return errorf("env.action_vars", "required")
	}

	if len(c.Env.ActionVars) > MaxActionVars {
		return errorf("env.action_vars", "at most %d actuators, got %d",
			MaxActionVars, len(c.Env.ActionVars))
	}

	seen := make(map[string]bool, len(c.Env.ActionVars))
	for _, v := range c.Env.ActionVars {
		if !actuators[v] {
			return errorf("env.action_vars", "unknown actuator %q", v)
		}

		if seen[v] {
			return errorf("env.action_vars", "duplicate actuator %q", v)
		}
		seen[v] = true
	}

	if c.Env.UpdateEvery < 1 {
		return errorf("env.update_every", "must be at least 1")
	}

	return nil
}
