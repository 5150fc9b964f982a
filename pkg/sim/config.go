package sim

import (
	"os"
	"strconv"

	"github.com/amirkhaki/dettrace/pkg/sched"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Environment variables read by ApplyEnv.
const (
	EnvSeed  = "DETTRACE_SEED"
	EnvProcs = "DETTRACE_PROCS"
)

// Config describes a simulated workload.
type Config struct {
	// Seed drives workload generation; equal seeds give equal runs.
	Seed int64 `yaml:"seed"`
	// RootPid is the pid of the traced root program.
	RootPid sched.Pid `yaml:"root_pid"`
	// Processes is the number of children the root spawns before anything else.
	Processes int `yaml:"processes"`
	// Steps is the number of operations in each process script.
	Steps int `yaml:"steps"`
	// BlockProbability is the chance a syscall would block.
	BlockProbability float64 `yaml:"block_probability"`
	// MaxRetries bounds how many times a would-block syscall is deferred.
	MaxRetries int `yaml:"max_retries"`
	// SpawnProbability is the chance an operation creates a child.
	SpawnProbability float64 `yaml:"spawn_probability"`
	// KillProbability is the chance an operation terminates another process.
	KillProbability float64 `yaml:"kill_probability"`
	// MaxProcesses caps the total number of processes created.
	MaxProcesses int `yaml:"max_processes"`
	// MaxIterations aborts a run that fails to drain the scheduler.
	MaxIterations int `yaml:"max_iterations"`
}

// DefaultConfig returns a small workload with every kind of decision.
func DefaultConfig() Config {
	return Config{
		RootPid:          1,
		Processes:        4,
		Steps:            8,
		BlockProbability: 0.25,
		MaxRetries:       3,
		SpawnProbability: 0.1,
		KillProbability:  0.02,
		MaxProcesses:     32,
		MaxIterations:    100000,
	}
}

// LoadConfig reads a YAML workload on top of DefaultConfig.
func LoadConfig(filename string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(filename)
	if err != nil {
		return cfg, errors.Wrap(err, "failed to read workload config")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "failed to decode workload config %s", filename)
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides cfg from DETTRACE_* variables found by lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvSeed); ok && v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid %s %q", EnvSeed, v)
		}
		cfg.Seed = seed
	}
	if v, ok := lookup(EnvProcs); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "invalid %s %q", EnvProcs, v)
		}
		cfg.Processes = n
	}
	return nil
}

// Validate checks that the workload can be simulated.
func (c Config) Validate() error {
	switch {
	case c.RootPid <= 0:
		return errors.Errorf("root_pid must be positive, got %d", c.RootPid)
	case c.Processes < 0:
		return errors.Errorf("processes must not be negative, got %d", c.Processes)
	case c.Steps < 0:
		return errors.Errorf("steps must not be negative, got %d", c.Steps)
	case c.MaxRetries < 0:
		return errors.Errorf("max_retries must not be negative, got %d", c.MaxRetries)
	case c.MaxProcesses < c.Processes+1:
		return errors.Errorf("max_processes (%d) must allow the root and %d children", c.MaxProcesses, c.Processes)
	case c.MaxIterations <= 0:
		return errors.Errorf("max_iterations must be positive, got %d", c.MaxIterations)
	}
	for _, p := range []struct {
		name string
		v    float64
	}{
		{"block_probability", c.BlockProbability},
		{"spawn_probability", c.SpawnProbability},
		{"kill_probability", c.KillProbability},
	} {
		if p.v < 0 || p.v > 1 {
			return errors.Errorf("%s must be within [0, 1], got %v", p.name, p.v)
		}
	}
	return nil
}
