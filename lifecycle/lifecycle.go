// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package lifecycle

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Kind enumerates the lobby session lifecycle states.
type Kind int

const (
	Initializing Kind = iota
	Connecting
	Connected
	WaitingForReady
	StartingCountdown
	Transitioning
	Closed
	Error
)

func (k Kind) String() string {
	switch k {
	case Initializing:
		return "initializing"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case WaitingForReady:
		return "waitingForReady"
	case StartingCountdown:
		return "startingCountdown"
	case Transitioning:
		return "transitioning"
	case Closed:
		return "closed"
	case Error:
		return "error"
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// State is a lifecycle state plus its payload: the countdown value for
// StartingCountdown, the reason for Error.
type State struct {
	Kind      Kind
	Countdown int
	Reason    string
}

func (s State) String() string {
	switch s.Kind {
	case StartingCountdown:
		return fmt.Sprintf("startingCountdown(%d)", s.Countdown)
	case Error:
		return fmt.Sprintf("error(%s)", s.Reason)
	}
	return s.Kind.String()
}

// Record is one logged transition.
type Record struct {
	From State
	To   State
	At   time.Time
}

const historyCap = 64

// Machine validates lobby session state transitions and keeps a bounded
// transition history for diagnostics. Safe for concurrent use.
type Machine struct {
	mu      sync.Mutex
	current State
	history []Record
	now     func() time.Time
	log     *slog.Logger
}

// New returns a Machine in the Initializing state.
func New(log *slog.Logger) *Machine {
	if log == nil {
		log = slog.Default()
	}
	return &Machine{
		current: State{Kind: Initializing},
		now:     time.Now,
		log:     log,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Transition moves the machine to the given state if the transition is valid.
// Invalid transitions are a no-op and return false.
func (m *Machine) Transition(to State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !allowed(m.current.Kind, to.Kind) {
		m.log.Warn("invalid lifecycle transition",
			"from", m.current.String(), "to", to.String())
		return false
	}

	rec := Record{From: m.current, To: to, At: m.now()}
	m.history = append(m.history, rec)
	if len(m.history) > historyCap {
		m.history = m.history[len(m.history)-historyCap:]
	}

	m.log.Info("lifecycle transition", "from", m.current.String(), "to", to.String())
	m.current = to
	return true
}

// History returns a copy of the bounded transition log.
func (m *Machine) History() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.history))
	copy(out, m.history)
	return out
}

// allowed encodes the transition table. Error and Closed are reachable from
// anywhere; StartingCountdown may re-enter itself to update the count.
func allowed(from, to Kind) bool {
	if to == Error || to == Closed {
		return true
	}

	switch from {
	case Initializing:
		return to == Connecting
	case Connecting:
		return to == Connected
	case Connected:
		return to == Connecting || to == WaitingForReady ||
			to == StartingCountdown || to == Transitioning
	case WaitingForReady:
		return to == Connecting || to == StartingCountdown || to == Transitioning
	case StartingCountdown:
		return to == Connecting || to == StartingCountdown ||
			to == WaitingForReady || to == Transitioning
	case Transitioning:
		return to == Connecting
	case Closed:
		return to == Initializing
	case Error:
		return to == Initializing || to == Connecting
	}
	return false
}
