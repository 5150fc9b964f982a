package sched

import (
	"errors"
	"fmt"
)

// ErrInvariantViolation is matched by every *InvariantViolationError.
var ErrInvariantViolation = errors.New("scheduler invariant violation")

// InvariantViolationError reports a transition the control loop was not
// allowed to make. The scheduler is left unchanged when one is returned.
type InvariantViolationError struct {
	// Op is the rejected operation.
	Op string
	// Actual is the pid the caller named.
	Actual Pid
	// Expected is the queue front the operation required (NoPid if the
	// queue was empty or no front applies).
	Expected Pid
	// Alternate is the second acceptable front, used by ResumeParallel
	// which accepts either queue.
	Alternate Pid
	// State is the collection Actual was found in when the violation is a
	// membership conflict rather than a front mismatch.
	State State
}

func (e *InvariantViolationError) Error() string {
	switch {
	case e.State != Unknown:
		return fmt.Sprintf("%s: pid %v is %v", e.Op, e.Actual, e.State)
	case e.Alternate != NoPid || e.Op == opResumeParallel:
		return fmt.Sprintf("%s: pid %v is not at the front of either queue (blocked front %v, runnable front %v)",
			e.Op, e.Actual, e.Expected, e.Alternate)
	default:
		return fmt.Sprintf("%s: expected pid %v at queue front, got %v", e.Op, e.Expected, e.Actual)
	}
}

func (e *InvariantViolationError) Is(target error) bool {
	return target == ErrInvariantViolation
}

func frontMismatch(op string, expected, actual Pid) error {
	return &InvariantViolationError{Op: op, Actual: actual, Expected: expected, Alternate: NoPid}
}

func stateConflict(op string, pid Pid, state State) error {
	return &InvariantViolationError{Op: op, Actual: pid, Expected: NoPid, Alternate: NoPid, State: state}
}
