package sched

import (
	"fmt"
	"strconv"
	"strings"
)

// Pid identifies a tracked process. The scheduler treats it as an opaque,
// equality-comparable handle supplied by the interception mechanism.
type Pid int

// NoPid is returned by queries when there is no such process.
const NoPid Pid = -1

func (p Pid) String() string {
	if p == NoPid {
		return "none"
	}
	return strconv.Itoa(int(p))
}

// State represents the collection a process currently belongs to
type State uint8

const (
	Unknown State = iota
	Parallel
	Runnable
	Blocked
	Finished
)

func (s State) String() string {
	switch s {
	case Parallel:
		return "parallel"
	case Runnable:
		return "runnable"
	case Blocked:
		return "blocked"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// Live reports whether the state is still subject to scheduling.
func (s State) Live() bool {
	return s == Parallel || s == Runnable || s == Blocked
}

// ParseState is the inverse of State.String.
func ParseState(s string) (State, error) {
	for st := Unknown; st <= Finished; st++ {
		if st.String() == strings.ToLower(s) {
			return st, nil
		}
	}
	return Unknown, fmt.Errorf("unknown process state %q", s)
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	v, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
