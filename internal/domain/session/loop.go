package session

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
)

// Verdict is the outcome of a loop check over recent invocations.
type Verdict int

const (
	VerdictNone Verdict = iota
	VerdictWarn
	VerdictFatal
)

// call identifies one invocation for loop detection: the capability name
// plus a fingerprint of its arguments.
type call struct {
	name        string
	fingerprint uint64
}

// LoopTracker watches the ordered invocation history of one session and
// flags repeated or alternating patterns. Not safe for concurrent use;
// each session owns exactly one tracker.
type LoopTracker struct {
	window         int
	warnThreshold  int
	fatalThreshold int
	history        []call
}

// NewLoopTracker creates a tracker over a sliding window of recent calls.
// A (name, fingerprint) pair seen fatalThreshold times inside the window is
// fatal; warnThreshold times is a warning.
func NewLoopTracker(window, warnThreshold, fatalThreshold int) *LoopTracker {
	if window <= 0 {
		window = 20
	}
	if warnThreshold <= 0 {
		warnThreshold = 3
	}
	if fatalThreshold <= warnThreshold {
		fatalThreshold = warnThreshold + 2
	}
	return &LoopTracker{
		window:         window,
		warnThreshold:  warnThreshold,
		fatalThreshold: fatalThreshold,
	}
}

// Record appends one invocation to the history, trimming to the window.
func (t *LoopTracker) Record(name string, args map[string]any) {
	t.history = append(t.history, call{name: name, fingerprint: fingerprint(args)})
	if len(t.history) > t.window {
		t.history = t.history[len(t.history)-t.window:]
	}
}

// Check inspects the current history and returns a verdict with a
// human-readable detail. Fatal repeats take precedence over warnings;
// nothing fires below the warning-threshold entry count.
func (t *LoopTracker) Check() (Verdict, string) {
	if len(t.history) < t.warnThreshold {
		return VerdictNone, ""
	}

	counts := make(map[call]int, len(t.history))
	var top call
	var topCount int
	for _, c := range t.history {
		counts[c]++
		if counts[c] > topCount {
			top, topCount = c, counts[c]
		}
	}

	if topCount >= t.fatalThreshold {
		return VerdictFatal, fmt.Sprintf("capability %q invoked %d times with identical arguments", top.name, topCount)
	}
	if topCount >= t.warnThreshold {
		return VerdictWarn, fmt.Sprintf("capability %q invoked %d times with identical arguments", top.name, topCount)
	}
	if a, b, ok := t.pingPong(); ok {
		return VerdictWarn, fmt.Sprintf("alternating between %q and %q", a, b)
	}
	return VerdictNone, ""
}

// pingPong reports whether the last four entries alternate strictly
// between exactly two distinct capability names.
func (t *LoopTracker) pingPong() (string, string, bool) {
	if len(t.history) < 4 {
		return "", "", false
	}
	tail := t.history[len(t.history)-4:]
	a, b := tail[0].name, tail[1].name
	if a == b {
		return "", "", false
	}
	if tail[2].name == a && tail[3].name == b {
		return a, b, true
	}
	return "", "", false
}

// fingerprint derives an approximate identity for an argument map.
// json.Marshal sorts map keys, so equal maps hash equally.
func fingerprint(args map[string]any) uint64 {
	h := fnv.New64a()
	if data, err := json.Marshal(args); err == nil {
		_, _ = h.Write(data)
	}
	return h.Sum64()
}
