package sched

import (
	"fmt"
	"strings"
)

// Kind represents the type of scheduling decision
type Kind uint8

const (
	KindSpawn Kind = iota + 1
	KindRunnable
	KindPreempt
	KindRetry
	KindResume
	KindExit
)

func (k Kind) String() string {
	switch k {
	case KindSpawn:
		return "spawn"
	case KindRunnable:
		return "runnable"
	case KindPreempt:
		return "preempt"
	case KindRetry:
		return "retry"
	case KindResume:
		return "resume"
	case KindExit:
		return "exit"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k := KindSpawn; k <= KindExit; k++ {
		if k.String() == strings.ToLower(s) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Event records a single successful transition.
type Event struct {
	Seq  uint64 `json:"seq"`
	Pid  Pid    `json:"pid"`
	Kind Kind   `json:"kind"`
	// From is the collection the pid left, for exit events.
	From State `json:"from,omitempty"`
}

func (e Event) String() string {
	return fmt.Sprintf("#%d %s pid=%v", e.Seq, e.Kind, e.Pid)
}

// Listener observes scheduling decisions. Listeners run synchronously on the
// control goroutine and must not call back into the scheduler.
type Listener interface {
	OnEvent(e Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(e Event)

func (f ListenerFunc) OnEvent(e Event) { f(e) }
