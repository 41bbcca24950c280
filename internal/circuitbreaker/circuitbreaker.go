// Package circuitbreaker stops calling a failing dependency for a cooldown and
// probes it again before resuming normal traffic.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Do without calling fn while the breaker is open.
var ErrOpen = errors.New("circuit breaker open")

// State is the breaker state (Closed, Open, HalfOpen).
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds breaker parameters. Zero values fall back to 5 failures,
// 2 probe successes and a 30s cooldown.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
	// OnStateChange is called after each transition, outside the lock.
	OnStateChange func(from, to State)
}

// Breaker opens after FailureThreshold consecutive failures, rejects calls for
// Cooldown, then lets calls through half-open until SuccessThreshold of them
// succeed. Any half-open failure reopens it.
type Breaker struct {
	mu        sync.Mutex
	cfg       Config
	state     State
	failures  int
	successes int
	openedAt  time.Time
	now       func() time.Time
}

// New creates a closed Breaker.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Do runs fn unless the breaker is open and returns fn's error.
func (b *Breaker) Do(fn func() error) error {
	if !b.allow() {
		return ErrOpen
	}
	err := fn()
	b.record(err)
	return err
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	if b.state != StateOpen {
		b.mu.Unlock()
		return true
	}
	if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
		b.mu.Unlock()
		return false
	}
	b.state = StateHalfOpen
	b.successes = 0
	b.mu.Unlock()
	b.notify(StateOpen, StateHalfOpen)
	return true
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	from := b.state
	to := from
	if err != nil {
		b.failures++
		if from == StateHalfOpen || b.failures >= b.cfg.FailureThreshold {
			to = StateOpen
			b.failures = 0
			b.openedAt = b.now()
		}
	} else {
		b.failures = 0
		if from == StateHalfOpen {
			b.successes++
			if b.successes >= b.cfg.SuccessThreshold {
				to = StateClosed
				b.successes = 0
			}
		}
	}
	b.state = to
	b.mu.Unlock()
	if to != from {
		b.notify(from, to)
	}
}

func (b *Breaker) notify(from, to State) {
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}
