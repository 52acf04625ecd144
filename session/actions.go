// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/danielhkuo/watchlobby/models"
)

// User-initiated lobby actions. All are optimistic: local state mutates
// immediately, the broadcast follows.

// SendChat posts a chat message.
func (s *Session) SendChat(text string) {
	s.timeline.Send(text, s.cfg.SelfID, s.cfg.SelfName)
}

// SetReady toggles the local ready flag.
func (s *Session) SetReady(ready bool) {
	s.pres.SetReady(ready)
}

// CastVote votes for a playlist item.
func (s *Session) CastVote(itemID string) {
	s.pres.CastVote(itemID)
}

// RetractVote withdraws the local vote.
func (s *Session) RetractVote() {
	s.pres.RetractVote()
}

// Kick removes a participant (host only).
func (s *Session) Kick(targetID string) {
	s.pres.Kick(targetID)
}

// SetMuted mutes or unmutes a participant locally.
func (s *Session) SetMuted(id string, muted bool) {
	s.pres.SetMuted(id, muted)
}

// HostStartPlayback publishes the resolved stream to the store, then runs the
// host side of the start handshake against the current roster.
func (s *Session) HostStartPlayback(ctx context.Context, stream models.StreamDescriptor) error {
	if !s.cfg.IsHost {
		return fmt.Errorf("only the host starts playback")
	}

	if err := s.st.UpdateRoomStream(ctx, s.cfg.RoomID, &stream); err != nil {
		return fmt.Errorf("publish stream: %w", err)
	}
	if err := s.st.UpdateRoomPlayback(ctx, s.cfg.RoomID, models.RoomStatePlaying, 0); err != nil {
		return fmt.Errorf("publish playback state: %w", err)
	}

	var guests []string
	for _, p := range s.pres.Roster() {
		if !p.IsHost {
			guests = append(guests, p.ID)
		}
	}
	return s.route.HostStartPlayback(ctx, stream, guests)
}

// ReturnAllToLobby forces every client back to the lobby (host only). The
// roster is marked transitioning first so the connection reset does not read
// as a wave of departures.
func (s *Session) ReturnAllToLobby(ctx context.Context) error {
	if !s.cfg.IsHost {
		return fmt.Errorf("only the host returns the room to the lobby")
	}

	s.pres.MarkAllUsersAsTransitioning()
	if err := s.st.UpdateRoomPlayback(ctx, s.cfg.RoomID, models.RoomStateLobby, 0); err != nil {
		return fmt.Errorf("publish lobby state: %w", err)
	}

	err := s.sendSync(models.SyncMessage{
		ID:         uuid.NewString(),
		Event:      models.EventReturnToLobby,
		SenderID:   s.cfg.SelfID,
		SenderName: s.cfg.SelfName,
		SentAt:     s.clk.Now(),
	})
	if err != nil {
		return fmt.Errorf("return-to-lobby broadcast: %w", err)
	}

	s.ReturnedToLobby()
	return nil
}

// SetPrivacy toggles room privacy (host only).
func (s *Session) SetPrivacy(ctx context.Context, private bool) error {
	if !s.cfg.IsHost {
		return fmt.Errorf("only the host changes privacy")
	}
	if err := s.st.UpdateRoomPrivacy(ctx, s.cfg.RoomID, private); err != nil {
		return err
	}
	s.mu.Lock()
	s.room.IsPrivate = private
	s.mu.Unlock()
	return nil
}

// SetMedia points the room at different media (host only). Season/episode are
// zero for non-episodic media.
func (s *Session) SetMedia(ctx context.Context, mediaID string, season, episode int) error {
	if !s.cfg.IsHost {
		return fmt.Errorf("only the host changes the media")
	}
	if err := s.st.UpdateRoomMetadata(ctx, s.cfg.RoomID, mediaID, season, episode); err != nil {
		return err
	}
	s.mu.Lock()
	s.room.MediaID = mediaID
	s.room.Season = season
	s.room.Episode = episode
	s.mu.Unlock()
	return nil
}

// UpdatePlaylist replaces the room playlist (host only).
func (s *Session) UpdatePlaylist(ctx context.Context, items []models.PlaylistItem) error {
	if !s.cfg.IsHost {
		return fmt.Errorf("only the host edits the playlist")
	}
	if err := s.st.UpdateRoomPlaylist(ctx, s.cfg.RoomID, items); err != nil {
		return err
	}
	s.mu.Lock()
	s.room.Playlist = items
	s.mu.Unlock()
	return nil
}
