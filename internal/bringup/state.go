package bringup

import (
	"errors"
	"fmt"
	"sync"
)

// State is a bring-up lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateConfigured
	StateDriverStarted
	StateAwaitingLink
	StateAwaitingLease
	StateReady
	StateMonitoring
	StateFailed
)

var stateNames = [...]string{
	StateUninitialized: "uninitialized",
	StateConfigured:    "configured",
	StateDriverStarted: "driver-started",
	StateAwaitingLink:  "awaiting-link",
	StateAwaitingLease: "awaiting-lease",
	StateReady:         "ready",
	StateMonitoring:    "monitoring",
	StateFailed:        "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateFailed
}

var ErrInvalidTransition = errors.New("invalid state transition")

// Tracker enforces the forward-only bring-up sequence. Failed is reachable
// from every non-terminal state; Monitoring only leads to Failed.
type Tracker struct {
	mu       sync.Mutex
	state    State
	history  []State
	onChange func(from, to State)
}

// NewTracker starts in StateUninitialized. onChange may be nil.
func NewTracker(onChange func(from, to State)) *Tracker {
	return &Tracker{
		state:    StateUninitialized,
		history:  []State{StateUninitialized},
		onChange: onChange,
	}
}

// State returns the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// History returns every state entered, in order.
func (t *Tracker) History() []State {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]State, len(t.history))
	copy(out, t.history)
	return out
}

// FailedIn returns the state Failed was entered from, or the current state
// while the run has not failed.
func (t *Tracker) FailedIn() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateFailed && len(t.history) > 1 {
		return t.history[len(t.history)-2]
	}
	return t.state
}

// Advance moves to the next state. Skips and backward moves are rejected.
func (t *Tracker) Advance(to State) error {
	t.mu.Lock()
	from := t.state
	if !validTransition(from, to) {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	t.state = to
	t.history = append(t.history, to)
	cb := t.onChange
	t.mu.Unlock()

	if cb != nil {
		cb(from, to)
	}
	return nil
}

// Fail moves to StateFailed unless already there.
func (t *Tracker) Fail() {
	if t.State() != StateFailed {
		_ = t.Advance(StateFailed)
	}
}

func validTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return to == from+1 && to <= StateMonitoring
}
