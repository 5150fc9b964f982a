// Package trace records the scheduling decisions of a run and checks later
// runs against them. Traces are stored as JSON lines, one event per line.
package trace

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"

	"github.com/amirkhaki/dettrace/pkg/sched"
	"github.com/pkg/errors"
)

// Load reads a trace from a JSON-lines file.
func Load(filename string) ([]sched.Event, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open trace file")
	}
	defer f.Close()
	events, err := Read(f)
	return events, errors.Wrapf(err, "failed to read trace %s", filename)
}

// Read decodes JSON-lines events until EOF.
func Read(r io.Reader) ([]sched.Event, error) {
	var events []sched.Event
	dec := json.NewDecoder(bufio.NewReader(r))
	for dec.More() {
		var e sched.Event
		if err := dec.Decode(&e); err != nil {
			return nil, errors.Wrapf(err, "failed to decode event %d", len(events)+1)
		}
		events = append(events, e)
	}
	return events, nil
}

// Save writes a trace to a JSON-lines file.
func Save(filename string, events []sched.Event) error {
	f, err := os.Create(filename)
	if err != nil {
		return errors.Wrap(err, "failed to create trace file")
	}
	if err := Write(f, events); err != nil {
		f.Close()
		return err
	}
	return errors.Wrap(f.Close(), "failed to close trace file")
}

// Write encodes events as JSON lines.
func Write(w io.Writer, events []sched.Event) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return errors.Wrap(err, "failed to encode event")
		}
	}
	return errors.Wrap(bw.Flush(), "failed to flush trace")
}

// CountByKind groups events by kind.
func CountByKind(events []sched.Event) map[sched.Kind]int {
	counts := make(map[sched.Kind]int)
	for _, e := range events {
		counts[e.Kind]++
	}
	return counts
}

// ByPid groups events by pid, preserving order within each group.
func ByPid(events []sched.Event) map[sched.Pid][]sched.Event {
	grouped := make(map[sched.Pid][]sched.Event)
	for _, e := range events {
		grouped[e.Pid] = append(grouped[e.Pid], e)
	}
	return grouped
}

// Pids returns the distinct pids of a trace in order of first appearance.
func Pids(events []sched.Event) []sched.Pid {
	var out []sched.Pid
	seen := make(map[sched.Pid]bool)
	for _, e := range events {
		if !seen[e.Pid] {
			seen[e.Pid] = true
			out = append(out, e.Pid)
		}
	}
	return out
}

// Digest returns the hex SHA-256 of the JSON-lines encoding of events. Two
// runs made the same decisions exactly when their digests match.
func Digest(events []sched.Event) (string, error) {
	h := sha256.New()
	if err := Write(h, events); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
