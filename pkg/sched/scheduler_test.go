package sched_test

import (
	"bytes"
	"errors"
	"log/slog"
	"math/rand"
	"strings"
	"testing"

	"github.com/amirkhaki/dettrace/pkg/sched"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newQueued builds a scheduler with the given pids queued as runnable, in
// order, and the root retired.
func newQueued(t *testing.T, root sched.Pid, pids ...sched.Pid) *sched.Scheduler {
	t.Helper()
	s := sched.New(root)
	s.RemoveFromScheduler(root)
	for _, pid := range pids {
		require.NoError(t, s.AddToParallelSet(pid))
		require.NoError(t, s.AddToRunnableQueue(pid))
	}
	return s
}

// newBlocked builds a scheduler with the given pids in the blocked queue.
func newBlocked(t *testing.T, pids ...sched.Pid) *sched.Scheduler {
	t.Helper()
	s := newQueued(t, 1, pids...)
	for _, pid := range pids {
		require.NoError(t, s.PreemptSyscall(pid))
	}
	return s
}

func TestNewSeedsParallel(t *testing.T) {
	s := sched.New(100)

	assert.Equal(t, sched.Pid(100), s.StartingPid())
	assert.True(t, s.IsInParallel(100))
	assert.True(t, s.IsAlive(100))
	assert.False(t, s.IsFinished(100))
	assert.False(t, s.Empty())
	assert.Equal(t, sched.NoPid, s.NextRunnable())
	assert.Equal(t, sched.NoPid, s.NextBlocked())
}

func TestFullLifecycle(t *testing.T) {
	s := sched.New(100)

	require.NoError(t, s.AddToRunnableQueue(100))
	assert.Equal(t, []sched.Pid{100}, s.Snapshot().Runnable)
	assert.False(t, s.IsInParallel(100))

	require.NoError(t, s.PreemptSyscall(100))
	snap := s.Snapshot()
	assert.Empty(t, snap.Runnable)
	assert.Equal(t, []sched.Pid{100}, snap.Blocked)

	require.NoError(t, s.ResumeParallel(100))
	snap = s.Snapshot()
	assert.Empty(t, snap.Blocked)
	assert.Equal(t, []sched.Pid{100}, snap.Parallel)

	assert.Equal(t, sched.Parallel, s.RemoveFromScheduler(100))
	snap = s.Snapshot()
	assert.Empty(t, snap.Parallel)
	assert.Equal(t, []sched.Pid{100}, snap.Finished)
	assert.True(t, s.IsFinished(100))
	assert.False(t, s.IsAlive(100))
	assert.True(t, s.Empty())
}

func TestResumeRetryRoundRobin(t *testing.T) {
	s := newBlocked(t, 10, 20, 30)
	require.Equal(t, []sched.Pid{10, 20, 30}, s.Snapshot().Blocked)

	require.NoError(t, s.ResumeRetry(10))
	assert.Equal(t, []sched.Pid{20, 30, 10}, s.Snapshot().Blocked)

	require.NoError(t, s.ResumeRetry(s.NextBlocked()))
	require.NoError(t, s.ResumeRetry(s.NextBlocked()))
	assert.Equal(t, []sched.Pid{10, 20, 30}, s.Snapshot().Blocked)
	assert.Equal(t, sched.Pid(10), s.NextBlocked())
}

func TestFrontGuards(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(t *testing.T) *sched.Scheduler
		op       func(s *sched.Scheduler) error
		expected sched.Pid
	}{
		{
			name:     "preempt not at runnable front",
			setup:    func(t *testing.T) *sched.Scheduler { return newQueued(t, 1, 10, 20) },
			op:       func(s *sched.Scheduler) error { return s.PreemptSyscall(20) },
			expected: 10,
		},
		{
			name:     "preempt with empty runnable queue",
			setup:    func(t *testing.T) *sched.Scheduler { return sched.New(1) },
			op:       func(s *sched.Scheduler) error { return s.PreemptSyscall(1) },
			expected: sched.NoPid,
		},
		{
			name:     "preempt sentinel with empty runnable queue",
			setup:    func(t *testing.T) *sched.Scheduler { return sched.New(1) },
			op:       func(s *sched.Scheduler) error { return s.PreemptSyscall(sched.NoPid) },
			expected: sched.NoPid,
		},
		{
			name:     "retry not at blocked front",
			setup:    func(t *testing.T) *sched.Scheduler { return newBlocked(t, 10, 20) },
			op:       func(s *sched.Scheduler) error { return s.ResumeRetry(20) },
			expected: 10,
		},
		{
			name:     "retry with empty blocked queue",
			setup:    func(t *testing.T) *sched.Scheduler { return newQueued(t, 1, 10) },
			op:       func(s *sched.Scheduler) error { return s.ResumeRetry(10) },
			expected: sched.NoPid,
		},
		{
			name:     "resume parallel at neither front",
			setup:    func(t *testing.T) *sched.Scheduler { return newQueued(t, 1, 10, 20) },
			op:       func(s *sched.Scheduler) error { return s.ResumeParallel(20) },
			expected: sched.NoPid,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.setup(t)
			before := s.Snapshot()

			err := tt.op(s)
			require.Error(t, err)
			assert.True(t, errors.Is(err, sched.ErrInvariantViolation))

			var iv *sched.InvariantViolationError
			require.True(t, errors.As(err, &iv))
			assert.Equal(t, tt.expected, iv.Expected)

			if diff := cmp.Diff(before, s.Snapshot()); diff != "" {
				t.Errorf("failed transition mutated scheduler (-before +after):\n%s", diff)
			}
		})
	}
}

func TestPreemptWrongPidLeavesRunnableUnchanged(t *testing.T) {
	s := newQueued(t, 1, 10, 20)

	err := s.PreemptSyscall(20)
	require.ErrorIs(t, err, sched.ErrInvariantViolation)
	assert.Contains(t, err.Error(), "expected pid 10")
	assert.Equal(t, []sched.Pid{10, 20}, s.Snapshot().Runnable)
}

func TestResumeParallelPrefersBlockedFront(t *testing.T) {
	s := newQueued(t, 1, 10, 20)
	require.NoError(t, s.PreemptSyscall(10))
	require.NoError(t, s.AddToParallelSet(30))
	require.NoError(t, s.AddToRunnableQueue(30))

	// blocked = [10], runnable = [20 30]
	require.NoError(t, s.ResumeParallel(10))
	assert.True(t, s.IsInParallel(10))
	assert.Equal(t, []sched.Pid{20, 30}, s.Snapshot().Runnable)

	require.NoError(t, s.ResumeParallel(20))
	assert.True(t, s.IsInParallel(20))
	assert.Equal(t, []sched.Pid{30}, s.Snapshot().Runnable)

	err := s.ResumeParallel(10)
	var iv *sched.InvariantViolationError
	require.ErrorAs(t, err, &iv)
	assert.Equal(t, sched.NoPid, iv.Expected)
	assert.Equal(t, sched.Pid(30), iv.Alternate)
	assert.Contains(t, err.Error(), "either queue")
}

func TestRemoveFromMiddleOfQueue(t *testing.T) {
	s := newQueued(t, 1, 10, 20, 30)

	assert.Equal(t, sched.Runnable, s.RemoveFromScheduler(20))
	assert.Equal(t, []sched.Pid{10, 30}, s.Snapshot().Runnable)
	assert.True(t, s.IsFinished(20))
	assert.Equal(t, sched.Pid(10), s.NextRunnable())
}

func TestRemoveFromBlockedQueue(t *testing.T) {
	s := newBlocked(t, 10, 20, 30)

	assert.Equal(t, sched.Blocked, s.RemoveFromScheduler(30))
	assert.Equal(t, []sched.Pid{10, 20}, s.Snapshot().Blocked)
	assert.Equal(t, sched.Blocked, s.RemoveFromScheduler(10))
	assert.Equal(t, sched.Pid(20), s.NextBlocked())
}

func TestRemoveUnknownIsTolerated(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := sched.New(1, sched.WithLogger(log))

	assert.Equal(t, sched.Unknown, s.RemoveFromScheduler(99))
	assert.True(t, s.IsFinished(99))
	assert.Equal(t, sched.Finished, s.RemoveFromScheduler(99))
	assert.True(t, s.IsInParallel(1))
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "pid=99")
}

func TestFinishedIsPermanent(t *testing.T) {
	s := sched.New(1)
	s.RemoveFromScheduler(1)

	require.ErrorIs(t, s.AddToParallelSet(1), sched.ErrInvariantViolation)
	require.ErrorIs(t, s.AddToRunnableQueue(1), sched.ErrInvariantViolation)
	assert.Equal(t, sched.Finished, s.StateOf(1))
	assert.True(t, s.Empty())
}

func TestQueuedPidCannotBeReAdded(t *testing.T) {
	s := newQueued(t, 1, 10)

	err := s.AddToRunnableQueue(10)
	var iv *sched.InvariantViolationError
	require.ErrorAs(t, err, &iv)
	assert.Equal(t, sched.Runnable, iv.State)
	require.ErrorIs(t, s.AddToParallelSet(10), sched.ErrInvariantViolation)
	assert.Equal(t, []sched.Pid{10}, s.Snapshot().Runnable)
}

func TestAddToParallelSetIsIdempotent(t *testing.T) {
	var events []sched.Event
	s := sched.New(1, sched.WithListener(sched.ListenerFunc(func(e sched.Event) {
		events = append(events, e)
	})))

	require.NoError(t, s.AddToParallelSet(2))
	require.NoError(t, s.AddToParallelSet(2))
	require.NoError(t, s.AddToParallelSet(1))
	assert.Equal(t, []sched.Pid{1, 2}, s.Snapshot().Parallel)
	assert.Len(t, events, 1)
}

func TestEmptyIgnoresFinished(t *testing.T) {
	s := sched.New(1)
	require.NoError(t, s.AddToParallelSet(2))
	s.RemoveFromScheduler(1)
	assert.False(t, s.Empty())
	s.RemoveFromScheduler(2)
	assert.True(t, s.Empty())
	assert.Equal(t, []sched.Pid{1, 2}, s.Snapshot().Finished)
}

func TestCountsAndIsAliveScanWholeQueues(t *testing.T) {
	s := newQueued(t, 1, 10, 20, 30, 40)
	require.NoError(t, s.PreemptSyscall(10))
	require.NoError(t, s.PreemptSyscall(20))

	assert.Equal(t, 2, s.NumberBlocked())
	assert.Equal(t, 2, s.NumberRunnable())
	for _, pid := range []sched.Pid{10, 20, 30, 40} {
		assert.True(t, s.IsAlive(pid), "pid %d", pid)
	}
	assert.Equal(t, sched.Blocked, s.StateOf(20))
	assert.Equal(t, sched.Runnable, s.StateOf(40))
	assert.Equal(t, sched.Unknown, s.StateOf(50))
}

func TestListenerSeesTransitionsInOrder(t *testing.T) {
	var got []string
	s := sched.New(7, sched.WithListener(sched.ListenerFunc(func(e sched.Event) {
		got = append(got, e.String())
	})))

	require.NoError(t, s.AddToRunnableQueue(7))
	require.NoError(t, s.PreemptSyscall(7))
	require.NoError(t, s.ResumeRetry(7))
	require.NoError(t, s.ResumeParallel(7))
	require.Error(t, s.ResumeParallel(7))
	s.RemoveFromScheduler(7)

	want := []string{
		"#1 runnable pid=7",
		"#2 preempt pid=7",
		"#3 retry pid=7",
		"#4 resume pid=7",
		"#5 exit pid=7",
	}
	assert.Equal(t, want, got)
}

func TestDumpDoesNotMutate(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := newQueued(t, 1, 10, 20, 30)
	require.NoError(t, s.PreemptSyscall(10))
	require.NoError(t, s.AddToParallelSet(5))
	before := s.Snapshot()

	s.Dump(log)
	s.Dump(nil)

	assert.Equal(t, before, s.Snapshot())
	out := buf.String()
	assert.Contains(t, out, "scheduler state")
	assert.Contains(t, out, "runnable=\"[20 30]\"")
	assert.Equal(t, 3, strings.Count(out, "queued process"))
}

// TestRandomTransitionsKeepInvariants drives the scheduler the way a control
// loop would, with a seeded random choice of event at each step, and checks
// disjointness and finished permanence after every transition.
func TestRandomTransitionsKeepInvariants(t *testing.T) {
	for seed := int64(0); seed < 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		s := sched.New(1)
		next := sched.Pid(2)
		finished := map[sched.Pid]bool{}

		for step := 0; step < 500; step++ {
			snap := s.Snapshot()
			switch rng.Intn(7) {
			case 0:
				require.NoError(t, s.AddToParallelSet(next))
				next++
			case 1:
				if len(snap.Parallel) > 0 {
					require.NoError(t, s.AddToRunnableQueue(snap.Parallel[rng.Intn(len(snap.Parallel))]))
				}
			case 2:
				if pid := s.NextRunnable(); pid != sched.NoPid {
					require.NoError(t, s.PreemptSyscall(pid))
				}
			case 3:
				if pid := s.NextBlocked(); pid != sched.NoPid {
					require.NoError(t, s.ResumeRetry(pid))
				}
			case 4:
				pid := s.NextBlocked()
				if pid == sched.NoPid {
					pid = s.NextRunnable()
				}
				if pid != sched.NoPid {
					require.NoError(t, s.ResumeParallel(pid))
				}
			case 5:
				live := append(append(snap.Parallel, snap.Runnable...), snap.Blocked...)
				if len(live) > 0 {
					pid := live[rng.Intn(len(live))]
					s.RemoveFromScheduler(pid)
					finished[pid] = true
				}
			case 6:
				// Out-of-order requests must be rejected without effect.
				if len(snap.Runnable) > 1 {
					require.Error(t, s.PreemptSyscall(snap.Runnable[1]))
					require.Equal(t, snap, s.Snapshot())
				}
			}
			checkInvariants(t, s, finished)
		}
	}
}

func checkInvariants(t *testing.T, s *sched.Scheduler, finished map[sched.Pid]bool) {
	t.Helper()
	snap := s.Snapshot()
	seen := map[sched.Pid]string{}
	for name, pids := range map[string][]sched.Pid{
		"parallel": snap.Parallel,
		"runnable": snap.Runnable,
		"blocked":  snap.Blocked,
	} {
		for _, pid := range pids {
			if prev, ok := seen[pid]; ok {
				t.Fatalf("pid %d in both %s and %s", pid, prev, name)
			}
			seen[pid] = name
			if finished[pid] {
				t.Fatalf("finished pid %d re-entered %s", pid, name)
			}
		}
	}
	for pid := range finished {
		require.True(t, s.IsFinished(pid))
	}
	require.Equal(t, len(seen) == 0, s.Empty())
}

func TestAddListenerAfterConstruction(t *testing.T) {
	var early, late []sched.Kind
	s := sched.New(1, sched.WithListener(sched.ListenerFunc(func(e sched.Event) {
		early = append(early, e.Kind)
	})))
	require.NoError(t, s.AddToRunnableQueue(1))

	s.AddListener(sched.ListenerFunc(func(e sched.Event) {
		late = append(late, e.Kind)
	}))
	require.NoError(t, s.PreemptSyscall(1))

	assert.Equal(t, []sched.Kind{sched.KindRunnable, sched.KindPreempt}, early)
	assert.Equal(t, []sched.Kind{sched.KindPreempt}, late)
}
