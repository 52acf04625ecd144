package lifecycle

import "testing"

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		name string
		from Kind
		to   Kind
		ok   bool
	}{
		{"init to connecting", Initializing, Connecting, true},
		{"init to connected skips", Initializing, Connected, false},
		{"connecting to connected", Connecting, Connected, true},
		{"connecting to error", Connecting, Error, true},
		{"connected to waiting", Connected, WaitingForReady, true},
		{"connected to countdown", Connected, StartingCountdown, true},
		{"connected to transitioning", Connected, Transitioning, true},
		{"connected reconnect", Connected, Connecting, true},
		{"waiting to countdown", WaitingForReady, StartingCountdown, true},
		{"waiting to connected backwards", WaitingForReady, Connected, false},
		{"countdown re-enter", StartingCountdown, StartingCountdown, true},
		{"countdown back to waiting", StartingCountdown, WaitingForReady, true},
		{"countdown to transitioning", StartingCountdown, Transitioning, true},
		{"transitioning to connecting", Transitioning, Connecting, true},
		{"transitioning to waiting", Transitioning, WaitingForReady, false},
		{"closed resets", Closed, Initializing, true},
		{"closed to connecting", Closed, Connecting, false},
		{"error retry init", Error, Initializing, true},
		{"error retry connecting", Error, Connecting, true},
		{"anything to closed", WaitingForReady, Closed, true},
		{"anything to error", Transitioning, Error, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(nil)
			m.current = State{Kind: tt.from}
			got := m.Transition(State{Kind: tt.to})
			if got != tt.ok {
				t.Errorf("Transition(%v -> %v) = %v, want %v", tt.from, tt.to, got, tt.ok)
			}
			if tt.ok && m.Current().Kind != tt.to {
				t.Errorf("state after transition = %v, want %v", m.Current().Kind, tt.to)
			}
			if !tt.ok && m.Current().Kind != tt.from {
				t.Error("invalid transition must be a no-op")
			}
		})
	}
}

func TestCountdownUpdates(t *testing.T) {
	m := New(nil)
	m.Transition(State{Kind: Connecting})
	m.Transition(State{Kind: Connected})
	m.Transition(State{Kind: StartingCountdown, Countdown: 3})

	for _, n := range []int{2, 1} {
		if !m.Transition(State{Kind: StartingCountdown, Countdown: n}) {
			t.Fatalf("countdown update to %d rejected", n)
		}
		if got := m.Current().Countdown; got != n {
			t.Errorf("countdown = %d, want %d", got, n)
		}
	}
}

func TestHistoryBounded(t *testing.T) {
	m := New(nil)
	m.Transition(State{Kind: Connecting})
	for i := 0; i < historyCap+20; i++ {
		m.Transition(State{Kind: Connected})
		m.Transition(State{Kind: Connecting})
	}

	h := m.History()
	if len(h) != historyCap {
		t.Errorf("history length = %d, want %d", len(h), historyCap)
	}
	last := h[len(h)-1]
	if last.To.Kind != m.Current().Kind {
		t.Error("last history entry should match current state")
	}
	if last.At.IsZero() {
		t.Error("history entries must be timestamped")
	}
}
