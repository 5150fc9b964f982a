package sched

import (
	"fmt"
	"log/slog"
)

// Snapshot is a copy of the complete scheduler state. Queues are listed
// front first; the parallel and finished sets are sorted ascending.
type Snapshot struct {
	StartingPid Pid    `json:"starting_pid" yaml:"starting_pid"`
	Parallel    []Pid  `json:"parallel" yaml:"parallel"`
	Runnable    []Pid  `json:"runnable" yaml:"runnable"`
	Blocked     []Pid  `json:"blocked" yaml:"blocked"`
	Finished    []Pid  `json:"finished" yaml:"finished"`
	Seq         uint64 `json:"seq" yaml:"seq"`
}

// Snapshot returns the current state. It does not mutate the scheduler.
func (s *Scheduler) Snapshot() Snapshot {
	return Snapshot{
		StartingPid: s.startingPid,
		Parallel:    sortedPids(s.parallel),
		Runnable:    s.runnable.Slice(),
		Blocked:     s.blocked.Slice(),
		Finished:    sortedPids(s.finished),
		Seq:         s.seq,
	}
}

// Dump logs the three live collections at debug level. A nil logger uses
// the scheduler's own.
func (s *Scheduler) Dump(log *slog.Logger) {
	if log == nil {
		log = s.log
	}
	snap := s.Snapshot()
	log.Debug("scheduler state",
		slog.Any(Parallel.String(), snap.Parallel),
		slog.Any(Runnable.String(), snap.Runnable),
		slog.Any(Blocked.String(), snap.Blocked),
	)
	for _, pid := range snap.Runnable {
		log.Debug("queued process", "pid", pid, "collection", Runnable)
	}
	for _, pid := range snap.Blocked {
		log.Debug("queued process", "pid", pid, "collection", Blocked)
	}
}

func (snap Snapshot) String() string {
	return fmt.Sprintf("parallel=%v runnable=%v blocked=%v finished=%v",
		snap.Parallel, snap.Runnable, snap.Blocked, snap.Finished)
}
