// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/danielhkuo/watchlobby/models"
	"github.com/danielhkuo/watchlobby/playback"
)

// RoomStore fetches persisted room state.
type RoomStore interface {
	RoomState(ctx context.Context, roomID string) (*models.Room, error)
}

// Session receives authoritative metadata overlays.
type Session interface {
	ApplyRoomMeta(room *models.Room)
}

// Config tunes the polling fallback. Zero values take the defaults.
type Config struct {
	RoomID    string
	Broadcast bool

	Interval         time.Duration // poll cadence, default 2s
	EndGrace         time.Duration // suppress triggers after local playback end, default 5s
	EndBuffer        time.Duration // extra margin against teardown-adjacent updates, default 3s
	StaleAfter       time.Duration // is_playing older than this is a stuck host, default 60s
	JoinSafety       time.Duration // no auto-join right after our own join, default 10s
	Tolerance        time.Duration // clock skew allowance for causality, default 1s
	CountdownSeconds int           // default 3
}

func (c *Config) defaults() {
	if c.Interval == 0 {
		c.Interval = 2 * time.Second
	}
	if c.EndGrace == 0 {
		c.EndGrace = 5 * time.Second
	}
	if c.EndBuffer == 0 {
		c.EndBuffer = 3 * time.Second
	}
	if c.StaleAfter == 0 {
		c.StaleAfter = 60 * time.Second
	}
	if c.JoinSafety == 0 {
		c.JoinSafety = 10 * time.Second
	}
	if c.Tolerance == 0 {
		c.Tolerance = time.Second
	}
	if c.CountdownSeconds == 0 {
		c.CountdownSeconds = 3
	}
}

// Poller is the guest-only fallback reconciler: a fixed-interval poll of
// persisted room state that keeps display metadata correct and detects
// playback starts independently of the realtime channel.
type Poller struct {
	cfg     Config
	clk     clock.Clock
	log     *slog.Logger
	store   RoomStore
	session Session
	player  playback.Player
	guard   *playback.Guard
	count   *playback.Countdown
}

// New builds a poller.
func New(cfg Config, clk clock.Clock, log *slog.Logger, store RoomStore,
	session Session, player playback.Player, guard *playback.Guard,
	count *playback.Countdown) *Poller {

	cfg.defaults()
	if log == nil {
		log = slog.Default()
	}
	return &Poller{
		cfg:     cfg,
		clk:     clk,
		log:     log,
		store:   store,
		session: session,
		player:  player,
		guard:   guard,
		count:   count,
	}
}

// Run polls until ctx is cancelled or a playback start commits; the loop
// stops itself for the session once it has triggered playback.
func (p *Poller) Run(ctx context.Context) {
	t := p.clk.Ticker(p.cfg.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			started, err := p.Tick(ctx)
			if err != nil {
				// Transport errors are transient; the next tick retries.
				p.log.Warn("room poll failed", "error", err)
				continue
			}
			if started {
				return
			}
		}
	}
}

// Tick performs one poll: always overlays authoritative metadata, then runs
// the trigger guards in order and, if all pass, commits a playback start.
func (p *Poller) Tick(ctx context.Context) (bool, error) {
	room, err := p.store.RoomState(ctx, p.cfg.RoomID)
	if err != nil {
		return false, fmt.Errorf("room state: %w", err)
	}
	if room == nil {
		return false, nil
	}

	// Metadata reconciliation happens regardless of any trigger so the UI
	// stays correct even when the channel is healthy.
	p.session.ApplyRoomMeta(room)

	if room.State != models.RoomStatePlaying || room.Stream == nil {
		return false, nil
	}
	if !p.shouldTrigger(room) {
		return false, nil
	}

	return p.commit(ctx, room)
}

// shouldTrigger applies the guards in order: end-grace suppression,
// idempotency, causality, staleness, post-join safety delay.
func (p *Poller) shouldTrigger(room *models.Room) bool {
	now := p.clk.Now()
	ended := p.guard.EndedAt()

	if !p.cfg.Broadcast && !ended.IsZero() &&
		now.Sub(ended) < p.cfg.EndGrace+p.cfg.EndBuffer {
		p.log.Debug("trigger suppressed: local playback just ended")
		return false
	}

	if room.Stream.Hash == p.guard.LastHash() {
		p.log.Debug("trigger suppressed: stream already started", "hash", room.Stream.Hash)
		return false
	}

	if !ended.IsZero() && !room.LastActivity.After(ended.Add(-p.cfg.Tolerance)) {
		p.log.Debug("trigger suppressed: store activity predates local end")
		return false
	}

	if now.Sub(room.LastActivity) > p.cfg.StaleAfter {
		p.log.Debug("trigger suppressed: stale is_playing signal",
			"last_activity", room.LastActivity)
		return false
	}

	if !p.cfg.Broadcast && p.guard.JoinedWithin(now, p.cfg.JoinSafety) {
		p.log.Debug("trigger suppressed: post-join safety delay")
		return false
	}

	return true
}

// commit runs the countdown, re-verifies the room is still playing, and
// starts playback from the store's descriptor (without the host's unlock URL)
// at the store's reported position.
func (p *Poller) commit(ctx context.Context, room *models.Room) (bool, error) {
	if err := p.count.Run(ctx, p.cfg.CountdownSeconds, nil); err != nil {
		return false, nil
	}

	// The host may have stopped during the countdown.
	fresh, err := p.store.RoomState(ctx, p.cfg.RoomID)
	if err != nil {
		return false, fmt.Errorf("re-verify room state: %w", err)
	}
	if fresh == nil || fresh.State != models.RoomStatePlaying || fresh.Stream == nil {
		p.log.Info("playback trigger abandoned, room no longer playing")
		return false, nil
	}

	stream := *fresh.Stream
	stream.URL = "" // unlock URLs are session-bound, resolve our own

	// The hash guard is the sole protection against double starts and must
	// be taken before playback is invoked.
	if !p.guard.Acquire(stream.Hash) {
		return false, nil
	}

	p.session.ApplyRoomMeta(fresh)

	p.log.Info("fallback playback start",
		"hash", stream.Hash, "offset", fresh.Position)
	if err := p.player.Start(ctx, stream, fresh.Position); err != nil {
		p.log.Error("fallback playback start failed", "hash", stream.Hash, "error", err)
		return true, nil
	}
	return true, nil
}
