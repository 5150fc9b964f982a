package trace

import (
	"sync"

	"github.com/amirkhaki/dettrace/pkg/sched"
)

// Recorder records every scheduling decision it observes.
// It doesn't influence the scheduler - just observes.
type Recorder struct {
	events    []sched.Event
	mu        sync.Mutex
	traceFile string
}

// NewRecorder creates a recorder that saves to traceFile. An empty name
// keeps the trace in memory only.
func NewRecorder(traceFile string) *Recorder {
	return &Recorder{traceFile: traceFile}
}

// OnEvent records the event without blocking.
func (r *Recorder) OnEvent(e sched.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the events recorded so far.
func (r *Recorder) Events() []sched.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]sched.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Save writes the recorded trace to the recorder's file.
func (r *Recorder) Save() error {
	if r.traceFile == "" {
		return nil
	}
	return Save(r.traceFile, r.Events())
}
