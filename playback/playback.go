// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package playback

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/danielhkuo/watchlobby/models"
)

// Player abstracts the media pipeline. Prepare pre-resolves and pre-buffers a
// stream; Start actually begins playback. Both are stubs for the proprietary
// resolver upstream.
type Player interface {
	Prepare(ctx context.Context, s models.StreamDescriptor) error
	Start(ctx context.Context, s models.StreamDescriptor, offset float64) error
}

// Guard is the idempotency lock against double playback starts, shared by the
// realtime handshake path and the polling fallback path. The hash must be
// acquired before invoking playback, not after, to close the race window.
type Guard struct {
	mu       sync.Mutex
	lastHash string
	endedAt  time.Time
	joinedAt time.Time
}

// Acquire records hash as started and returns true, unless the same hash was
// already started this session.
func (g *Guard) Acquire(hash string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if hash != "" && hash == g.lastHash {
		return false
	}
	g.lastHash = hash
	return true
}

// LastHash returns the most recently started stream hash.
func (g *Guard) LastHash() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastHash
}

// MarkEnded records the moment local playback ended.
func (g *Guard) MarkEnded(t time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.endedAt = t
}

// EndedAt returns when local playback last ended (zero if never).
func (g *Guard) EndedAt() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.endedAt
}

// MarkJoined records the local join time, arming the post-join safety delay.
func (g *Guard) MarkJoined(t time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.joinedAt = t
}

// JoinedWithin reports whether the local user joined less than window ago.
func (g *Guard) JoinedWithin(now time.Time, window time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.joinedAt.IsZero() && now.Sub(g.joinedAt) < window
}

// Countdown runs the shared visual countdown. Tick cadence comes from the
// injected clock so tests can drive it with a mock.
type Countdown struct {
	clk clock.Clock

	mu    sync.Mutex
	value int
}

// NewCountdown returns a countdown driven by clk.
func NewCountdown(clk clock.Clock) *Countdown {
	return &Countdown{clk: clk}
}

// Value returns the currently displayed countdown second, 0 when idle.
func (c *Countdown) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Run counts down from seconds to zero, one tick per second, invoking onTick
// (if non-nil) with each displayed value. Returns ctx.Err() if cancelled.
func (c *Countdown) Run(ctx context.Context, seconds int, onTick func(int)) error {
	for i := seconds; i > 0; i-- {
		c.mu.Lock()
		c.value = i
		c.mu.Unlock()
		if onTick != nil {
			onTick(i)
		}

		t := c.clk.Timer(time.Second)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			c.reset()
			return ctx.Err()
		}
	}
	c.reset()
	return nil
}

func (c *Countdown) reset() {
	c.mu.Lock()
	c.value = 0
	c.mu.Unlock()
}
