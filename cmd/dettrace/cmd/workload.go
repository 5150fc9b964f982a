package cmd

import (
	"context"
	"os"

	"github.com/amirkhaki/dettrace/pkg/ctxlog"
	"github.com/amirkhaki/dettrace/pkg/sim"
	"github.com/amirkhaki/dettrace/pkg/tracing"
	"github.com/spf13/pflag"
)

// EnvTrace names the default trace file.
const EnvTrace = "DETTRACE_TRACE"

const defaultTraceFile = "dettrace.trace"

// workloadFlags are shared by the commands that run a simulation.
type workloadFlags struct {
	config    string
	seed      int64
	procs     int
	traceFile string
	otelOut   string
}

func (w *workloadFlags) bind(fs *pflag.FlagSet) {
	fs.StringVarP(&w.config, "config", "c", "", "path of a YAML workload (defaults apply when empty)")
	fs.Int64Var(&w.seed, "seed", 0, "workload seed, overrides config and "+sim.EnvSeed)
	fs.IntVar(&w.procs, "procs", 0, "children spawned by the root, overrides config and "+sim.EnvProcs)
	fs.StringVarP(&w.traceFile, "trace", "t", "", "trace file (default $"+EnvTrace+" or "+defaultTraceFile+")")
	fs.StringVar(&w.otelOut, "otel-out", "", "write OpenTelemetry spans to this file")
}

// load resolves the workload: defaults, then the config file, then the
// environment, then flags that were set explicitly.
func (w *workloadFlags) load(fs *pflag.FlagSet) (sim.Config, error) {
	cfg := sim.DefaultConfig()
	if w.config != "" {
		var err error
		if cfg, err = sim.LoadConfig(w.config); err != nil {
			return cfg, err
		}
	}
	if err := sim.ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	if fs.Changed("seed") {
		cfg.Seed = w.seed
	}
	if fs.Changed("procs") {
		cfg.Processes = w.procs
	}
	return cfg, cfg.Validate()
}

func (w *workloadFlags) tracePath() string {
	if w.traceFile != "" {
		return w.traceFile
	}
	if v := os.Getenv(EnvTrace); v != "" {
		return v
	}
	return defaultTraceFile
}

// startTracing installs the span exporter when --otel-out is set and returns
// the matching shutdown function.
func (w *workloadFlags) startTracing(ctx context.Context) func() {
	if w.otelOut == "" {
		return func() {}
	}
	log := ctxlog.FromContext(ctx)
	if err := tracing.Init(serviceName, serviceVersion, w.otelOut); err != nil {
		log.Warn("tracing disabled", "error", err)
		return func() {}
	}
	return func() {
		if err := tracing.Shutdown(ctx); err != nil {
			log.Warn("failed to flush spans", "error", err)
		}
	}
}
