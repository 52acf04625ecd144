// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package session

import (
	"context"

	"github.com/danielhkuo/watchlobby/lifecycle"
	"github.com/danielhkuo/watchlobby/models"
	"github.com/danielhkuo/watchlobby/store"
)

// Snapshot is the immutable presentation-facing view of the session.
type Snapshot struct {
	Room        models.Room             `json:"room"`
	Roster      []models.Participant    `json:"roster"`
	Votes       map[string]int          `json:"votes"`
	Timeline    []models.UnifiedMessage `json:"timeline"`
	Status      models.ConnStatus       `json:"status"`
	Lifecycle   string                  `json:"lifecycle"`
	Countdown   int                     `json:"countdown"`
	PublicRooms []models.RoomSummary    `json:"public_rooms,omitempty"`
}

// Snapshot assembles the current observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	room := s.room
	status := s.status
	rooms := make([]models.RoomSummary, len(s.pubRooms))
	copy(rooms, s.pubRooms)
	s.mu.Unlock()

	return Snapshot{
		Room:        room,
		Roster:      s.pres.Roster(),
		Votes:       s.pres.Votes().Tally(),
		Timeline:    s.timeline.Messages(),
		Status:      status,
		Lifecycle:   s.machine.Current().String(),
		Countdown:   s.count.Value(),
		PublicRooms: rooms,
	}
}

// SetStatus records the channel connection status; wired as the channel's
// status callback.
func (s *Session) SetStatus(status models.ConnStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// ApplyRoomMeta overlays authoritative persisted room state onto the local
// view: media identity, season/episode, playlist, current index, playback
// state. The local unlock URL survives only while the stream hash matches.
func (s *Session) ApplyRoomMeta(room *models.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()

	localURL := ""
	if s.room.Stream != nil && room.Stream != nil && s.room.Stream.Hash == room.Stream.Hash {
		localURL = s.room.Stream.URL
	}

	s.room.MediaID = room.MediaID
	s.room.Season = room.Season
	s.room.Episode = room.Episode
	s.room.State = room.State
	s.room.HostID = room.HostID
	s.room.LastActivity = room.LastActivity
	s.room.IsPrivate = room.IsPrivate
	s.room.IsBroadcast = room.IsBroadcast
	s.room.Playlist = room.Playlist
	s.room.CurrentIndex = room.CurrentIndex
	s.room.Position = room.Position

	if room.Stream == nil {
		s.room.Stream = nil
	} else {
		desc := *room.Stream
		desc.URL = localURL
		s.room.Stream = &desc
	}
}

// RevokeStreamURL drops any cached unlock URL. Unlock URLs are bound to the
// unlock session that produced them and must never be replayed.
func (s *Session) RevokeStreamURL() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room.Stream != nil {
		s.room.Stream.URL = ""
	}
}

// ReturnedToLobby resets local playback state after a host-forced return.
func (s *Session) ReturnedToLobby() {
	s.guard.MarkEnded(s.clk.Now())
	s.mu.Lock()
	s.room.State = models.RoomStateLobby
	s.mu.Unlock()
}

// Teardown ends the session exactly once: loops stop, timers die, the channel
// closes, and the exit callback fires with the reason.
func (s *Session) Teardown(reason string) {
	s.closeOnce.Do(func() {
		s.log.Info("session teardown", "reason", reason)

		s.mu.Lock()
		s.closed = true
		ch := s.ch
		s.mu.Unlock()

		if s.cancel != nil {
			s.cancel()
		}
		s.pres.Close()
		if ch != nil {
			ch.Close()
		}
		s.wg.Wait()

		s.machine.Transition(lifecycle.State{Kind: lifecycle.Closed})
		if s.onExit != nil {
			s.onExit(reason)
		}
	})
}

// HandleRoomChange reacts to a store row-change notification: a DELETE for
// our room ends the session, an UPDATE nudges an immediate reconcile instead
// of waiting out the poll interval.
func (s *Session) HandleRoomChange(ch store.RoomChange) {
	if ch.RoomID != s.cfg.RoomID {
		return
	}
	switch ch.Op {
	case "DELETE":
		s.timeline.AddSystemMessage(models.NoticeRoomClosed, "The room was deleted")
		s.Teardown("room deleted")
	case "UPDATE":
		if !s.cfg.IsHost {
			go func() {
				if _, err := s.poll.Tick(context.Background()); err != nil {
					s.log.Warn("room change reconcile failed", "error", err)
				}
			}()
		}
	}
}

// Leave is a voluntary exit: the store row is removed and no self-heal fires.
func (s *Session) Leave(ctx context.Context) {
	s.pres.SetLeaving()
	if err := s.st.LeaveRoom(ctx, s.cfg.RoomID, s.cfg.SelfID); err != nil {
		s.log.Warn("leave room failed", "error", err)
	}
	s.Teardown("left room")
}

// wrappedPlayer decorates the injected player so every successful start also
// lands in the canonical room state.
type wrappedPlayer struct {
	s *Session
}

func (w wrappedPlayer) Prepare(ctx context.Context, desc models.StreamDescriptor) error {
	return w.s.player.Prepare(ctx, desc)
}

func (w wrappedPlayer) Start(ctx context.Context, desc models.StreamDescriptor, offset float64) error {
	if err := w.s.player.Start(ctx, desc, offset); err != nil {
		return err
	}
	w.s.mu.Lock()
	w.s.room.State = models.RoomStatePlaying
	w.s.room.Stream = &desc
	w.s.room.Position = offset
	w.s.mu.Unlock()
	return nil
}
