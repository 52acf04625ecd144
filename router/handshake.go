// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package router

import (
	"context"
	"fmt"

	"github.com/danielhkuo/watchlobby/lifecycle"
	"github.com/danielhkuo/watchlobby/models"
)

// The playback-start handshake. The host is authoritative; guests are passive
// followers and never start playback purely from the countdown:
//
//	1. host -> START_COUNTDOWN   guest refreshes room state, clears cached
//	                             unlock URL, runs a visual countdown
//	2. host -> PREPARE_PLAYBACK  guest pre-resolves/pre-buffers the stream and
//	                             answers READY_FOR_PLAYBACK
//	3. host waits for all required guests (or a bounded timeout)
//	4. host -> PLAYBACK_STARTED  guest invokes playback from the pre-resolved
//	                             stream, gated by the hash idempotency guard
//
// Broadcast-style rooms skip all of this: they are wall-clock driven.

// handleStartCountdown is step 1 on the guest side.
func (r *Router) handleStartCountdown(ctx context.Context, msg models.SyncMessage) {
	if r.cfg.Broadcast || models.SameID(msg.SenderID, r.cfg.SelfID) {
		return
	}

	// Fresh authoritative state: media/season/episode may have changed since
	// we joined. The cached unlock URL is revoked; it belonged to a previous
	// unlock session and must never carry over.
	room, err := r.store.RoomState(ctx, r.cfg.RoomID)
	if err != nil {
		r.log.Warn("room state fetch on countdown failed", "error", err)
	} else if room != nil {
		r.session.ApplyRoomMeta(room)
	}
	r.session.RevokeStreamURL()

	r.chat.AddSystemMessage(models.NoticeCountdown, "Playback starting soon")
	r.machine.Transition(lifecycle.State{Kind: lifecycle.StartingCountdown, Countdown: r.cfg.CountdownSeconds})

	cctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	if r.countdownGo != nil {
		r.countdownGo()
	}
	r.countdownGo = cancel
	r.mu.Unlock()

	go func() {
		err := r.count.Run(cctx, r.cfg.CountdownSeconds, func(n int) {
			r.machine.Transition(lifecycle.State{Kind: lifecycle.StartingCountdown, Countdown: n})
		})
		if err != nil {
			return
		}
		// The countdown is purely visual. The real trigger is step 4; until
		// PLAYBACK_STARTED arrives we sit in waitingForReady.
		if r.machine.Current().Kind == lifecycle.StartingCountdown {
			r.machine.Transition(lifecycle.State{Kind: lifecycle.WaitingForReady})
		}
	}()
}

// handlePreparePlayback is step 2 on the guest side: pre-resolve the stream
// from the inline metadata fast path and report readiness.
func (r *Router) handlePreparePlayback(ctx context.Context, msg models.SyncMessage, stream *models.StreamDescriptor) {
	if r.cfg.Broadcast || models.SameID(msg.SenderID, r.cfg.SelfID) {
		return
	}

	if stream == nil {
		// Slow path: no inline metadata, fall back to the store's descriptor.
		room, err := r.store.RoomState(ctx, r.cfg.RoomID)
		if err != nil || room == nil || room.Stream == nil {
			r.log.Warn("prepare playback without stream metadata", "error", err)
			return
		}
		s := *room.Stream
		s.URL = "" // never inherit another user's unlock URL
		stream = &s
	}

	if err := r.send(models.WireResolving); err != nil {
		r.log.Warn("resolving broadcast failed", "error", err)
	}
	r.chat.AddSystemMessage(models.NoticePreparing,
		fmt.Sprintf("Preparing %s (%s)", stream.Title, sizeLabel(stream.Size)))

	if err := r.player.Prepare(ctx, *stream); err != nil {
		r.log.Warn("stream pre-resolution failed", "hash", stream.Hash, "error", err)
		return
	}

	r.mu.Lock()
	r.pending = stream
	r.mu.Unlock()

	if err := r.send(models.WireReadyForPlayback); err != nil {
		r.log.Warn("ready-for-playback send failed", "error", err)
	}
}

// handleGuestReady is step 3 on the host side: collect readiness reports and
// commit once every required guest has answered.
func (r *Router) handleGuestReady(ctx context.Context, msg models.SyncMessage) {
	if !r.cfg.IsHost || models.SameID(msg.SenderID, r.cfg.SelfID) {
		return
	}

	r.mu.Lock()
	if !r.awaiting {
		r.mu.Unlock()
		return
	}
	r.guestReady[models.NormalizeID(msg.SenderID)] = true
	all := true
	for id := range r.required {
		if !r.guestReady[id] {
			all = false
			break
		}
	}
	r.mu.Unlock()

	if all {
		r.commitStart(ctx)
	}
}

// handlePlaybackStarted is step 4 on the guest side: the only signal that
// actually starts playback.
func (r *Router) handlePlaybackStarted(ctx context.Context, msg models.SyncMessage) {
	if r.cfg.Broadcast || models.SameID(msg.SenderID, r.cfg.SelfID) {
		return
	}

	r.mu.Lock()
	stream := r.pending
	r.mu.Unlock()
	if stream == nil {
		r.log.Warn("playback started signal without a prepared stream")
		return
	}

	// Idempotency lock, taken before invoking playback: a repeated
	// now-playing signal must never restart the same stream.
	if !r.guard.Acquire(stream.Hash) {
		r.log.Debug("ignoring repeated playback start", "hash", stream.Hash)
		return
	}

	r.cancelCountdown()
	r.machine.Transition(lifecycle.State{Kind: lifecycle.Transitioning})

	if err := r.player.Start(ctx, *stream, 0); err != nil {
		// Undefined upstream; we surface it and fall back to the lobby
		// without retrying.
		r.log.Error("playback start failed", "hash", stream.Hash, "error", err)
		r.chat.AddSystemMessage(models.NoticeStartFailed, "Playback failed to start")
		r.machine.Transition(lifecycle.State{Kind: lifecycle.Connecting})
		r.machine.Transition(lifecycle.State{Kind: lifecycle.Connected})
		r.machine.Transition(lifecycle.State{Kind: lifecycle.WaitingForReady})
	}
}

// HostStartPlayback runs steps 1-4 from the host side: announce the
// countdown, publish stream metadata, wait for every required guest (or the
// ready timeout), then commit.
func (r *Router) HostStartPlayback(ctx context.Context, stream models.StreamDescriptor, guestIDs []string) error {
	if !r.cfg.IsHost {
		return fmt.Errorf("only the host starts playback")
	}

	r.mu.Lock()
	r.hostStream = &stream
	r.awaiting = true
	r.required = make(map[string]bool, len(guestIDs))
	r.guestReady = make(map[string]bool)
	for _, id := range guestIDs {
		if !models.SameID(id, r.cfg.SelfID) {
			r.required[models.NormalizeID(id)] = true
		}
	}
	noGuests := len(r.required) == 0
	r.mu.Unlock()

	r.machine.Transition(lifecycle.State{Kind: lifecycle.StartingCountdown, Countdown: r.cfg.CountdownSeconds})

	if err := r.send(models.WireStartCountdown); err != nil {
		return fmt.Errorf("start countdown broadcast: %w", err)
	}
	if err := r.send(models.EncodePreparePlayback(&stream)); err != nil {
		return fmt.Errorf("prepare playback broadcast: %w", err)
	}

	if noGuests {
		r.commitStart(ctx)
		return nil
	}

	r.mu.Lock()
	r.readyTimer = r.clk.AfterFunc(r.cfg.ReadyTimeout, func() {
		r.log.Warn("guest readiness timeout, committing anyway")
		r.commitStart(context.Background())
	})
	r.mu.Unlock()
	return nil
}

// commitStart is the host's step 4: broadcast PLAYBACK_STARTED and start the
// local player. Idempotent per stream hash.
func (r *Router) commitStart(ctx context.Context) {
	r.mu.Lock()
	if !r.awaiting {
		r.mu.Unlock()
		return
	}
	r.awaiting = false
	if r.readyTimer != nil {
		r.readyTimer.Stop()
		r.readyTimer = nil
	}
	stream := r.hostStream
	r.mu.Unlock()

	if stream == nil {
		return
	}
	if !r.guard.Acquire(stream.Hash) {
		return
	}

	if err := r.send(models.WirePlaybackStarted); err != nil {
		r.log.Warn("playback started broadcast failed", "error", err)
	}

	r.machine.Transition(lifecycle.State{Kind: lifecycle.Transitioning})
	if err := r.player.Start(ctx, *stream, 0); err != nil {
		r.log.Error("host playback start failed", "hash", stream.Hash, "error", err)
		r.chat.AddSystemMessage(models.NoticeStartFailed, "Playback failed to start")
	}
}
