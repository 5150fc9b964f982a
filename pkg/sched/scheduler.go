// Package sched implements the process scheduler of the deterministic
// execution wrapper: it classifies every tracked process as parallel,
// runnable, blocked or finished and hands the control loop one process at a
// time in a reproducible order.
//
// A Scheduler is owned by a single control goroutine. It performs no
// locking, no blocking and no I/O besides optional logging.
package sched

import (
	"io"
	"log/slog"
	"sort"
)

const (
	opAddToParallelSet    = "AddToParallelSet"
	opAddToRunnableQueue  = "AddToRunnableQueue"
	opPreemptSyscall      = "PreemptSyscall"
	opResumeRetry         = "ResumeRetry"
	opResumeParallel      = "ResumeParallel"
	opRemoveFromScheduler = "RemoveFromScheduler"
)

// Scheduler tracks processes across the parallel set, the runnable and
// blocked queues, and the finished set.
type Scheduler struct {
	startingPid Pid

	parallel map[Pid]struct{}
	runnable pidQueue
	blocked  pidQueue
	finished map[Pid]struct{}

	log       *slog.Logger
	listeners []Listener
	seq       uint64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger transitions are traced to.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithListener registers a listener notified after every transition.
func WithListener(l Listener) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.listeners = append(s.listeners, l)
		}
	}
}

// New creates a scheduler whose parallel set holds startingPid.
func New(startingPid Pid, opts ...Option) *Scheduler {
	s := newScheduler(startingPid, opts)
	s.parallel[startingPid] = struct{}{}
	return s
}

func newScheduler(startingPid Pid, opts []Option) *Scheduler {
	s := &Scheduler{
		startingPid: startingPid,
		parallel:    make(map[Pid]struct{}),
		finished:    make(map[Pid]struct{}),
		log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "scheduler")
	return s
}

// AddListener registers l after construction.
func (s *Scheduler) AddListener(l Listener) {
	s.listeners = append(s.listeners, l)
}

// StartingPid returns the root process recorded at construction.
func (s *Scheduler) StartingPid() Pid {
	return s.startingPid
}

// AddToParallelSet inserts pid into the parallel set. Adding a pid that is
// already parallel is a no-op. A pid that is queued or finished is rejected.
func (s *Scheduler) AddToParallelSet(pid Pid) error {
	switch st := s.StateOf(pid); st {
	case Parallel:
		return nil
	case Runnable, Blocked, Finished:
		return stateConflict(opAddToParallelSet, pid, st)
	}
	s.parallel[pid] = struct{}{}
	s.log.Debug("process added", "pid", pid, "collection", Parallel)
	s.emit(Event{Pid: pid, Kind: KindSpawn})
	return nil
}

// AddToRunnableQueue moves pid out of the parallel set (if present) and onto
// the back of the runnable queue.
func (s *Scheduler) AddToRunnableQueue(pid Pid) error {
	switch st := s.StateOf(pid); st {
	case Runnable, Blocked, Finished:
		return stateConflict(opAddToRunnableQueue, pid, st)
	}
	delete(s.parallel, pid)
	s.runnable.PushBack(pid)
	s.log.Debug("process queued", "pid", pid, "collection", Runnable)
	s.emit(Event{Pid: pid, Kind: KindRunnable})
	return nil
}

// PreemptSyscall moves the front of the runnable queue to the back of the
// blocked queue. pid must be that front.
func (s *Scheduler) PreemptSyscall(pid Pid) error {
	if s.runnable.Len() == 0 || s.runnable.Front() != pid {
		return frontMismatch(opPreemptSyscall, s.runnable.Front(), pid)
	}
	s.runnable.PopFront()
	s.blocked.PushBack(pid)
	s.log.Debug("syscall preempted", "pid", pid, "collection", Blocked)
	s.emit(Event{Pid: pid, Kind: KindPreempt})
	return nil
}

// ResumeRetry rotates the blocked queue by one so other blocked processes
// get a turn before pid retries. pid must be the front of the blocked queue.
func (s *Scheduler) ResumeRetry(pid Pid) error {
	if s.blocked.Len() == 0 || s.blocked.Front() != pid {
		return frontMismatch(opResumeRetry, s.blocked.Front(), pid)
	}
	s.blocked.PopFront()
	s.blocked.PushBack(pid)
	s.log.Debug("syscall retry deferred", "pid", pid, "collection", Blocked)
	s.emit(Event{Pid: pid, Kind: KindRetry})
	return nil
}

// ResumeParallel returns pid to the parallel set. pid must be the front of
// the blocked queue or, failing that, of the runnable queue.
func (s *Scheduler) ResumeParallel(pid Pid) error {
	switch {
	case s.blocked.Len() > 0 && s.blocked.Front() == pid:
		s.blocked.PopFront()
	case s.runnable.Len() > 0 && s.runnable.Front() == pid:
		s.runnable.PopFront()
	default:
		return &InvariantViolationError{
			Op:        opResumeParallel,
			Actual:    pid,
			Expected:  s.blocked.Front(),
			Alternate: s.runnable.Front(),
		}
	}
	s.parallel[pid] = struct{}{}
	s.log.Debug("process resumed", "pid", pid, "collection", Parallel)
	s.emit(Event{Pid: pid, Kind: KindResume})
	return nil
}

// RemoveFromScheduler retires pid into the finished set from wherever it is.
// Live collections are searched in the order parallel, blocked, runnable.
// It returns the collection pid was removed from; Unknown (or Finished, for
// a repeated exit) means no live collection held it, which is tolerated.
func (s *Scheduler) RemoveFromScheduler(pid Pid) State {
	from := Unknown
	switch {
	case s.inParallel(pid):
		delete(s.parallel, pid)
		from = Parallel
	case s.blocked.Remove(pid):
		from = Blocked
	case s.runnable.Remove(pid):
		from = Runnable
	case s.IsFinished(pid):
		from = Finished
	}
	if from.Live() {
		s.log.Debug("process removed", "pid", pid, "collection", from)
	} else {
		s.log.Warn("removed process not found in live collections", "op", opRemoveFromScheduler, "pid", pid, "state", from)
	}
	s.finished[pid] = struct{}{}
	s.emit(Event{Pid: pid, Kind: KindExit, From: from})
	return from
}

// IsInParallel reports whether pid is free-running.
func (s *Scheduler) IsInParallel(pid Pid) bool {
	return s.inParallel(pid)
}

// IsFinished reports whether pid has been retired.
func (s *Scheduler) IsFinished(pid Pid) bool {
	_, ok := s.finished[pid]
	return ok
}

// IsAlive reports whether pid is in the parallel set or anywhere in either
// queue.
func (s *Scheduler) IsAlive(pid Pid) bool {
	return s.StateOf(pid).Live()
}

// StateOf returns the collection holding pid, searching parallel, blocked,
// runnable and finished in that order.
func (s *Scheduler) StateOf(pid Pid) State {
	switch {
	case s.inParallel(pid):
		return Parallel
	case s.blocked.Contains(pid):
		return Blocked
	case s.runnable.Contains(pid):
		return Runnable
	case s.IsFinished(pid):
		return Finished
	}
	return Unknown
}

// NumberBlocked returns the length of the blocked queue.
func (s *Scheduler) NumberBlocked() int { return s.blocked.Len() }

// NumberRunnable returns the length of the runnable queue.
func (s *Scheduler) NumberRunnable() int { return s.runnable.Len() }

// NumberParallel returns the size of the parallel set.
func (s *Scheduler) NumberParallel() int { return len(s.parallel) }

// NextRunnable peeks at the front of the runnable queue. It returns NoPid if
// the queue is empty.
func (s *Scheduler) NextRunnable() Pid {
	return s.runnable.Front()
}

// NextBlocked peeks at the front of the blocked queue. It returns NoPid if
// the queue is empty.
func (s *Scheduler) NextBlocked() Pid {
	return s.blocked.Front()
}

// Empty reports whether no process is left to schedule. Finished processes
// do not count.
func (s *Scheduler) Empty() bool {
	return len(s.parallel) == 0 && s.runnable.Len() == 0 && s.blocked.Len() == 0
}

func (s *Scheduler) inParallel(pid Pid) bool {
	_, ok := s.parallel[pid]
	return ok
}

func (s *Scheduler) emit(e Event) {
	s.seq++
	e.Seq = s.seq
	for _, l := range s.listeners {
		l.OnEvent(e)
	}
}

func sortedPids(set map[Pid]struct{}) []Pid {
	out := make([]Pid, 0, len(set))
	for pid := range set {
		out = append(out, pid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
