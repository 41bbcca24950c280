package traffic

import (
	"sync"
	"time"
)

// Outcome classifies a finished request on the rate-limited API path.
type Outcome int

const (
	Success Outcome = iota
	Failure
	Denied
)

// retention bounds how far back windows can reach.
const retention = 5 * time.Minute

var defaultTracker = &Tracker{}

// Record records an outcome on the process-wide tracker.
func Record(o Outcome) {
	defaultTracker.Record(o)
}

// RequestCount returns the number of outcomes (success + failure + denied) within the window.
func RequestCount(window time.Duration) int {
	return defaultTracker.Snapshot(window).Total()
}

// DenialCount returns the number of rate-limit denials within the window.
func DenialCount(window time.Duration) int {
	return defaultTracker.Snapshot(window).Denied
}

// ErrorRate returns (failures, successes+failures) within the window. Denials are excluded.
func ErrorRate(window time.Duration) (errors, total int) {
	s := defaultTracker.Snapshot(window)
	return s.Failures, s.Failures + s.Successes
}

// Snapshot returns the process-wide counts within the window.
func Snapshot(window time.Duration) Counts {
	return defaultTracker.Snapshot(window)
}

// Reset clears the process-wide tracker. Used by tests and the testing-mode reset endpoint.
func Reset() {
	defaultTracker.Reset()
}

// Counts is a windowed tally of outcomes.
type Counts struct {
	Successes int
	Failures  int
	Denied    int
}

// Total returns all outcomes in the window.
func (c Counts) Total() int {
	return c.Successes + c.Failures + c.Denied
}

type event struct {
	at      time.Time
	outcome Outcome
}

// Tracker keeps a time-ordered log of outcomes for health and overload decisions.
type Tracker struct {
	mu     sync.Mutex
	events []event
	now    func() time.Time
}

func (t *Tracker) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

// Record appends an outcome stamped with the current time.
func (t *Tracker) Record(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	t.events = append(t.events, event{at: now, outcome: o})
	t.pruneLocked(now)
}

// Snapshot tallies outcomes not older than window.
func (t *Tracker) Snapshot(window time.Duration) Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock().Add(-window)
	var c Counts
	for i := len(t.events) - 1; i >= 0 && !t.events[i].at.Before(cutoff); i-- {
		switch t.events[i].outcome {
		case Success:
			c.Successes++
		case Failure:
			c.Failures++
		case Denied:
			c.Denied++
		}
	}
	return c
}

// Reset drops all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
}

// pruneLocked drops events older than retention. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	i := 0
	for ; i < len(t.events) && t.events[i].at.Before(cutoff); i++ {
	}
	if i > 0 {
		t.events = append(t.events[:0], t.events[i:]...)
	}
}
