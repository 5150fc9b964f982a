package trace

import (
	"fmt"

	"github.com/amirkhaki/dettrace/pkg/sched"
	"github.com/pkg/errors"
)

// ErrDiverged is matched by every *DivergenceError.
var ErrDiverged = errors.New("scheduling diverged from trace")

// DivergenceError describes the first decision that differs from the
// expected trace. Expected is nil when the run made more decisions than the
// trace holds; Actual is nil when the run stopped early.
type DivergenceError struct {
	Index    int
	Expected *sched.Event
	Actual   *sched.Event
}

func (e *DivergenceError) Error() string {
	switch {
	case e.Expected == nil:
		return fmt.Sprintf("decision %d: unexpected %s pid=%v past end of trace", e.Index, e.Actual.Kind, e.Actual.Pid)
	case e.Actual == nil:
		return fmt.Sprintf("decision %d: run ended, trace expects %s pid=%v", e.Index, e.Expected.Kind, e.Expected.Pid)
	default:
		return fmt.Sprintf("decision %d: expected %s pid=%v, got %s pid=%v",
			e.Index, e.Expected.Kind, e.Expected.Pid, e.Actual.Kind, e.Actual.Pid)
	}
}

func (e *DivergenceError) Is(target error) bool {
	return target == ErrDiverged
}

// Verifier checks a run's decisions against a previously recorded trace.
// Only the first divergence is kept.
type Verifier struct {
	expected []sched.Event
	idx      int
	err      *DivergenceError
}

// NewVerifier creates a verifier expecting exactly the given events.
func NewVerifier(expected []sched.Event) *Verifier {
	return &Verifier{expected: expected}
}

// OnEvent compares e with the next expected decision.
func (v *Verifier) OnEvent(e sched.Event) {
	if v.err != nil {
		return
	}
	actual := e
	if v.idx >= len(v.expected) {
		v.err = &DivergenceError{Index: v.idx, Actual: &actual}
		return
	}
	want := v.expected[v.idx]
	if want.Pid != e.Pid || want.Kind != e.Kind || want.From != e.From {
		v.err = &DivergenceError{Index: v.idx, Expected: &want, Actual: &actual}
		return
	}
	v.idx++
}

// Err returns the first divergence seen so far, if any.
func (v *Verifier) Err() error {
	if v.err == nil {
		return nil
	}
	return v.err
}

// Finish reports the first divergence, or a trace that was not fully
// consumed by the run.
func (v *Verifier) Finish() error {
	if v.err != nil {
		return v.err
	}
	if v.idx < len(v.expected) {
		want := v.expected[v.idx]
		return &DivergenceError{Index: v.idx, Expected: &want}
	}
	return nil
}

// Matched returns the number of decisions that agreed with the trace.
func (v *Verifier) Matched() int {
	return v.idx
}
