package playback

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestGuard_AcquireOncePerHash(t *testing.T) {
	var g Guard

	if !g.Acquire("h1") {
		t.Fatal("first acquire should succeed")
	}
	if g.Acquire("h1") {
		t.Error("same hash must never start twice")
	}
	if !g.Acquire("h2") {
		t.Error("a different hash is a fresh start")
	}
	if g.LastHash() != "h2" {
		t.Errorf("LastHash = %q", g.LastHash())
	}
}

func TestGuard_JoinSafety(t *testing.T) {
	var g Guard
	base := time.Now()

	if g.JoinedWithin(base, 10*time.Second) {
		t.Error("unset join time should not arm the safety delay")
	}

	g.MarkJoined(base)
	if !g.JoinedWithin(base.Add(5*time.Second), 10*time.Second) {
		t.Error("join 5s ago should be within a 10s window")
	}
	if g.JoinedWithin(base.Add(11*time.Second), 10*time.Second) {
		t.Error("join 11s ago should be outside a 10s window")
	}
}

func TestCountdown_TicksDown(t *testing.T) {
	mck := clock.NewMock()
	c := NewCountdown(mck)

	var ticks []int
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(context.Background(), 3, func(n int) { ticks = append(ticks, n) })
	}()

	for i := 0; i < 10; i++ {
		select {
		case <-done:
		default:
			time.Sleep(time.Millisecond)
			mck.Add(time.Second)
		}
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("countdown never finished")
	}

	if len(ticks) != 3 || ticks[0] != 3 || ticks[2] != 1 {
		t.Errorf("ticks = %v, want [3 2 1]", ticks)
	}
	if c.Value() != 0 {
		t.Errorf("value after finish = %d, want 0", c.Value())
	}
}

func TestCountdown_Cancel(t *testing.T) {
	mck := clock.NewMock()
	c := NewCountdown(mck)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, 3, nil) }()

	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Error("cancelled run should return the context error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled countdown never returned")
	}
	if c.Value() != 0 {
		t.Error("value should reset on cancel")
	}
}
