// Package sim stands in for the syscall-interception control loop: it
// generates a seeded multi-process workload and drives the scheduler with
// it, querying the queue fronts before every transition as the real loop
// does. Runs with equal configs produce identical decision traces.
package sim

import (
	"context"
	"log/slog"
	"math/rand"

	"github.com/amirkhaki/dettrace/pkg/ctxlog"
	"github.com/amirkhaki/dettrace/pkg/sched"
	"github.com/amirkhaki/dettrace/pkg/trace"
	"github.com/amirkhaki/dettrace/pkg/tracing"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrIterationLimit is returned when a run does not drain the scheduler
// within Config.MaxIterations.
var ErrIterationLimit = errors.New("iteration limit reached")

// Result summarises a finished run.
type Result struct {
	RunID      string
	Seed       int64
	Iterations int
	Processes  int
	Events     []sched.Event
	Final      sched.Snapshot
}

// Simulator runs a workload against a fresh scheduler on every Run.
type Simulator struct {
	cfg       Config
	listeners []sched.Listener
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithListener attaches l to the scheduler of every run.
func WithListener(l sched.Listener) Option {
	return func(s *Simulator) {
		s.listeners = append(s.listeners, l)
	}
}

// New creates a simulator for cfg.
func New(cfg Config, opts ...Option) *Simulator {
	s := &Simulator{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run simulates the workload until every process has exited. The logger is
// taken from ctx; cancellation is checked between iterations.
func (sim *Simulator) Run(ctx context.Context) (*Result, error) {
	if err := sim.cfg.Validate(); err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	log := ctxlog.FromContext(ctx).With("run_id", runID)

	ctx, span := tracing.StartSpan(ctx, "sim.run")
	span.WithAttributes(map[string]string{"run.id": runID}).SetInt("sim.seed", sim.cfg.Seed)

	rec := trace.NewRecorder("")
	s := sched.New(sim.cfg.RootPid, sched.WithLogger(log), sched.WithListener(rec))
	for _, l := range sim.listeners {
		s.AddListener(l)
	}
	r := &run{
		cfg:     sim.cfg,
		rng:     rand.New(rand.NewSource(sim.cfg.Seed)),
		s:       s,
		procs:   make(map[sched.Pid]*process),
		nextPid: sim.cfg.RootPid + 1,
		log:     log,
	}
	r.addProcess(sim.cfg.RootPid, sim.cfg.Processes)

	log.Debug("simulation started", "seed", sim.cfg.Seed, "root_pid", sim.cfg.RootPid)
	iterations, err := r.loop(ctx)

	res := &Result{
		RunID:      runID,
		Seed:       sim.cfg.Seed,
		Iterations: iterations,
		Processes:  len(r.procs),
		Events:     rec.Events(),
		Final:      r.s.Snapshot(),
	}
	span.SetInt("sim.iterations", int64(res.Iterations)).SetInt("sim.decisions", int64(len(res.Events)))
	tracing.EndSpan(span, err)
	if err != nil {
		r.s.Dump(log)
		return res, err
	}
	log.Info("simulation finished",
		"iterations", res.Iterations,
		"processes", res.Processes,
		"decisions", len(res.Events))
	return res, nil
}

type opKind uint8

const (
	opSyscall opKind = iota
	opSpawn
	opKill
	opExit
)

type op struct {
	kind opKind
	// retries is the number of turns left in the blocked queue before a
	// would-block syscall completes.
	retries int
}

type process struct {
	pid sched.Pid
	ops []op
	pc  int
}

func (p *process) current() *op {
	return &p.ops[p.pc]
}

// run is the state of a single simulation.
type run struct {
	cfg     Config
	rng     *rand.Rand
	s       *sched.Scheduler
	procs   map[sched.Pid]*process
	nextPid sched.Pid
	log     *slog.Logger
}

// addProcess generates the script of pid: spawns leading child creations,
// cfg.Steps random operations, then exit.
func (r *run) addProcess(pid sched.Pid, spawns int) *process {
	p := &process{pid: pid}
	for i := 0; i < spawns; i++ {
		p.ops = append(p.ops, op{kind: opSpawn})
	}
	for i := 0; i < r.cfg.Steps; i++ {
		x := r.rng.Float64()
		switch {
		case x < r.cfg.SpawnProbability:
			p.ops = append(p.ops, op{kind: opSpawn})
		case x < r.cfg.SpawnProbability+r.cfg.KillProbability:
			p.ops = append(p.ops, op{kind: opKill})
		default:
			o := op{kind: opSyscall}
			if r.cfg.MaxRetries > 0 && r.rng.Float64() < r.cfg.BlockProbability {
				o.retries = 1 + r.rng.Intn(r.cfg.MaxRetries)
			}
			p.ops = append(p.ops, o)
		}
	}
	p.ops = append(p.ops, op{kind: opExit})
	r.procs[pid] = p
	return p
}

func (r *run) loop(ctx context.Context) (int, error) {
	iterations := 0
	for !r.s.Empty() {
		if iterations == r.cfg.MaxIterations {
			return iterations, errors.Wrapf(ErrIterationLimit, "%d processes still scheduled",
				r.s.NumberParallel()+r.s.NumberRunnable()+r.s.NumberBlocked())
		}
		if err := ctx.Err(); err != nil {
			return iterations, errors.Wrap(err, "simulation cancelled")
		}
		iterations++
		if err := r.step(); err != nil {
			return iterations, errors.Wrapf(err, "iteration %d", iterations)
		}
	}
	return iterations, nil
}

// step lets every free-running process reach its next point of interest,
// then serves exactly one deterministic turn: the runnable front if there
// is one, otherwise the blocked front.
func (r *run) step() error {
	for _, pid := range r.s.Snapshot().Parallel {
		if err := r.s.AddToRunnableQueue(pid); err != nil {
			return err
		}
	}
	if pid := r.s.NextRunnable(); pid != sched.NoPid {
		return r.serveRunnable(r.procs[pid])
	}
	if pid := r.s.NextBlocked(); pid != sched.NoPid {
		return r.serveBlocked(r.procs[pid])
	}
	return nil
}

func (r *run) serveRunnable(p *process) error {
	o := p.current()
	switch o.kind {
	case opExit:
		p.pc++
		r.s.RemoveFromScheduler(p.pid)
		return nil
	case opSpawn:
		if len(r.procs) < r.cfg.MaxProcesses {
			child := r.addProcess(r.nextPid, 0)
			r.nextPid++
			if err := r.s.AddToParallelSet(child.pid); err != nil {
				return err
			}
			r.log.Debug("process spawned", "parent", p.pid, "pid", child.pid)
		}
	case opKill:
		if victim := r.victim(p.pid); victim != sched.NoPid {
			r.s.RemoveFromScheduler(victim)
			r.log.Debug("process killed", "by", p.pid, "pid", victim)
		}
	case opSyscall:
		if o.retries > 0 {
			return r.s.PreemptSyscall(p.pid)
		}
	}
	p.pc++
	return r.s.ResumeParallel(p.pid)
}

func (r *run) serveBlocked(p *process) error {
	o := p.current()
	o.retries--
	if o.retries > 0 {
		return r.s.ResumeRetry(p.pid)
	}
	p.pc++
	return r.s.ResumeParallel(p.pid)
}

// victim picks the process a kill operation terminates: the back of the
// blocked queue, else the back of the runnable queue, never the killer.
func (r *run) victim(killer sched.Pid) sched.Pid {
	snap := r.s.Snapshot()
	for _, q := range [][]sched.Pid{snap.Blocked, snap.Runnable} {
		for i := len(q) - 1; i >= 0; i-- {
			if q[i] != killer {
				return q[i]
			}
		}
	}
	return sched.NoPid
}
