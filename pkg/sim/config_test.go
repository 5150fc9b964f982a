package sim_test

import (
	"testing"

	"github.com/amirkhaki/dettrace/pkg/sched"
	"github.com/amirkhaki/dettrace/pkg/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigAppliesDefaults(t *testing.T) {
	cfg, err := sim.LoadConfig("../../testdata/blocking.yaml")
	require.NoError(t, err)

	assert.Equal(t, int64(42), cfg.Seed)
	assert.Equal(t, sched.Pid(1), cfg.RootPid)
	assert.Equal(t, 3, cfg.Processes)
	assert.Equal(t, 1.0, cfg.BlockProbability)
	// not set in the file
	assert.Equal(t, sim.DefaultConfig().MaxProcesses, cfg.MaxProcesses)
	assert.Equal(t, sim.DefaultConfig().MaxIterations, cfg.MaxIterations)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := sim.LoadConfig("../../testdata/invalid.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "block_probability")

	_, err = sim.LoadConfig("../../testdata/missing.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read workload config")
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		sim.EnvSeed:  "99",
		sim.EnvProcs: "7",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	cfg := sim.DefaultConfig()
	require.NoError(t, sim.ApplyEnv(&cfg, lookup))
	assert.Equal(t, int64(99), cfg.Seed)
	assert.Equal(t, 7, cfg.Processes)

	env[sim.EnvSeed] = "nope"
	err := sim.ApplyEnv(&cfg, lookup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), sim.EnvSeed)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*sim.Config)
		errMsg string
	}{
		{"default", func(*sim.Config) {}, ""},
		{"root pid", func(c *sim.Config) { c.RootPid = 0 }, "root_pid"},
		{"negative processes", func(c *sim.Config) { c.Processes = -1 }, "processes"},
		{"negative retries", func(c *sim.Config) { c.MaxRetries = -1 }, "max_retries"},
		{"process cap", func(c *sim.Config) { c.MaxProcesses = c.Processes }, "max_processes"},
		{"iterations", func(c *sim.Config) { c.MaxIterations = 0 }, "max_iterations"},
		{"spawn probability", func(c *sim.Config) { c.SpawnProbability = -0.1 }, "spawn_probability"},
		{"kill probability", func(c *sim.Config) { c.KillProbability = 2 }, "kill_probability"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := sim.DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
