// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/danielhkuo/watchlobby/models"
)

// Client is the relational-store collaborator: CRUD over rooms, participants
// and playlists. It is the slower authoritative backstop behind the realtime
// channel.
type Client struct {
	db *sql.DB
}

// New wraps an open database handle.
func New(db *sql.DB) *Client {
	return &Client{db: db}
}

// RoomState fetches persisted room state, nil if the room does not exist.
func (c *Client) RoomState(ctx context.Context, roomID string) (*models.Room, error) {
	var (
		r                    models.Room
		isPrivate, isBcast   int
		hash, title, quality sql.NullString
		provider             sql.NullString
		fileIdx              sql.NullInt64
		size                 sql.NullInt64
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT id, media_id, season, episode, state, host_id, created_at,
		       last_activity, is_private, is_broadcast, current_index, position,
		       stream_hash, stream_file_index, stream_title, stream_quality,
		       stream_size, stream_provider
		FROM room WHERE id = $1
	`, roomID).Scan(&r.ID, &r.MediaID, &r.Season, &r.Episode, &r.State, &r.HostID,
		&r.CreatedAt, &r.LastActivity, &isPrivate, &isBcast, &r.CurrentIndex,
		&r.Position, &hash, &fileIdx, &title, &quality, &size, &provider)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query room: %w", err)
	}

	r.IsPrivate = isPrivate != 0
	r.IsBroadcast = isBcast != 0
	if hash.Valid && hash.String != "" {
		r.Stream = &models.StreamDescriptor{
			Hash:      hash.String,
			FileIndex: int(fileIdx.Int64),
			Title:     title.String,
			Quality:   quality.String,
			Size:      size.Int64,
			Provider:  provider.String,
		}
	}

	playlist, err := c.playlist(ctx, roomID)
	if err != nil {
		return nil, err
	}
	r.Playlist = playlist

	return &r, nil
}

func (c *Client) playlist(ctx context.Context, roomID string) ([]models.PlaylistItem, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT item_id, title, media_id
		FROM room_playlist_item WHERE room_id = $1 ORDER BY ordinal
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query playlist: %w", err)
	}
	defer rows.Close()

	var out []models.PlaylistItem
	for rows.Next() {
		var item models.PlaylistItem
		if err := rows.Scan(&item.ID, &item.Title, &item.MediaID); err != nil {
			return nil, fmt.Errorf("scan playlist item: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// JoinRoom upserts the user's participant row. A foreign-key violation means
// the room row is gone and maps to models.ErrRoomDeleted.
func (c *Client) JoinRoom(ctx context.Context, roomID, userID string, isHost bool) error {
	now := time.Now()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO room_participant (room_id, user_id, username, is_host, joined_at, last_seen)
		VALUES ($1, $2, '', $3, $4, $4)
		ON CONFLICT (room_id, user_id) DO UPDATE SET last_seen = $4
	`, roomID, userID, btoi(isHost), now)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("join room %s: %w", roomID, models.ErrRoomDeleted)
		}
		return fmt.Errorf("join room: %w", err)
	}
	return nil
}

// LeaveRoom deletes the user's participant row.
func (c *Client) LeaveRoom(ctx context.Context, roomID, userID string) error {
	_, err := c.db.ExecContext(ctx, `
		DELETE FROM room_participant WHERE room_id = $1 AND user_id = $2
	`, roomID, userID)
	if err != nil {
		return fmt.Errorf("leave room: %w", err)
	}
	return nil
}

// RoomParticipants lists persisted participant rows for a room.
func (c *Client) RoomParticipants(ctx context.Context, roomID string) ([]models.ParticipantRow, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT user_id, username, is_host, joined_at, last_seen
		FROM room_participant WHERE room_id = $1
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	var out []models.ParticipantRow
	for rows.Next() {
		var (
			row    models.ParticipantRow
			isHost int
		)
		if err := rows.Scan(&row.UserID, &row.Username, &isHost, &row.JoinedAt, &row.LastSeen); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		row.IsHost = isHost != 0
		out = append(out, row)
	}
	return out, rows.Err()
}

// UserByID fetches an account record, nil if absent.
func (c *Client) UserByID(ctx context.Context, userID string) (*models.User, error) {
	var (
		u       models.User
		premium int
		until   sql.NullTime
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT id, username, is_premium, premium_until FROM account WHERE id = $1
	`, userID).Scan(&u.ID, &u.Username, &premium, &until)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	u.IsPremium = premium != 0
	if until.Valid {
		u.PremiumUntil = &until.Time
	}
	return &u, nil
}

// SendHeartbeat refreshes the user's last_seen.
func (c *Client) SendHeartbeat(ctx context.Context, roomID, userID string) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE room_participant SET last_seen = $1 WHERE room_id = $2 AND user_id = $3
	`, time.Now(), roomID, userID)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// UpdateRoomStream publishes the resolved stream descriptor. The unlock URL
// is deliberately not a column: it never leaves the resolving client.
func (c *Client) UpdateRoomStream(ctx context.Context, roomID string, s *models.StreamDescriptor) error {
	var (
		hash, title, quality, provider any
		fileIdx, size                  any
	)
	if s != nil {
		hash, fileIdx, title = s.Hash, s.FileIndex, s.Title
		quality, size, provider = s.Quality, s.Size, s.Provider
	}
	_, err := c.db.ExecContext(ctx, `
		UPDATE room SET stream_hash = $1, stream_file_index = $2, stream_title = $3,
		       stream_quality = $4, stream_size = $5, stream_provider = $6,
		       last_activity = $7
		WHERE id = $8
	`, hash, fileIdx, title, quality, size, provider, time.Now(), roomID)
	if err != nil {
		return fmt.Errorf("update room stream: %w", err)
	}
	return nil
}

// UpdateRoomPlayback sets playback state and position.
func (c *Client) UpdateRoomPlayback(ctx context.Context, roomID, state string, position float64) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE room SET state = $1, position = $2, last_activity = $3 WHERE id = $4
	`, state, position, time.Now(), roomID)
	if err != nil {
		return fmt.Errorf("update room playback: %w", err)
	}
	return nil
}

// UpdateRoomMetadata sets the media reference and season/episode.
func (c *Client) UpdateRoomMetadata(ctx context.Context, roomID, mediaID string, season, episode int) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE room SET media_id = $1, season = $2, episode = $3, last_activity = $4
		WHERE id = $5
	`, mediaID, season, episode, time.Now(), roomID)
	if err != nil {
		return fmt.Errorf("update room metadata: %w", err)
	}
	return nil
}

// UpdateRoomPlaylist replaces the room playlist.
func (c *Client) UpdateRoomPlaylist(ctx context.Context, roomID string, items []models.PlaylistItem) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin playlist update: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM room_playlist_item WHERE room_id = $1`, roomID); err != nil {
		return fmt.Errorf("clear playlist: %w", err)
	}
	for i, item := range items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO room_playlist_item (room_id, item_id, ordinal, title, media_id)
			VALUES ($1, $2, $3, $4, $5)
		`, roomID, item.ID, i, item.Title, item.MediaID)
		if err != nil {
			return fmt.Errorf("insert playlist item: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit playlist update: %w", err)
	}
	return nil
}

// UpdateRoomPrivacy toggles the room privacy flag.
func (c *Client) UpdateRoomPrivacy(ctx context.Context, roomID string, private bool) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE room SET is_private = $1, last_activity = $2 WHERE id = $3
	`, btoi(private), time.Now(), roomID)
	if err != nil {
		return fmt.Errorf("update room privacy: %w", err)
	}
	return nil
}

// CreateRoom inserts a new room row plus the host participant row.
func (c *Client) CreateRoom(ctx context.Context, room *models.Room) error {
	now := time.Now()
	if room.CreatedAt.IsZero() {
		room.CreatedAt = now
	}
	if room.LastActivity.IsZero() {
		room.LastActivity = now
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO room (id, media_id, season, episode, state, host_id,
		       created_at, last_activity, is_private, is_broadcast, current_index, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, room.ID, room.MediaID, room.Season, room.Episode, room.State, room.HostID,
		room.CreatedAt, room.LastActivity, btoi(room.IsPrivate), btoi(room.IsBroadcast),
		room.CurrentIndex, room.Position)
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	return c.JoinRoom(ctx, room.ID, room.HostID, true)
}

// DeleteRoom removes a room; participant and playlist rows cascade.
func (c *Client) DeleteRoom(ctx context.Context, roomID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM room WHERE id = $1`, roomID)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return nil
}

// ListPublicRooms returns non-private rooms with their participant counts,
// most recently active first.
func (c *Client) ListPublicRooms(ctx context.Context, limit int) ([]models.RoomSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT r.id, r.media_id, r.host_id, r.state, r.last_activity,
		       (SELECT COUNT(*) FROM room_participant p WHERE p.room_id = r.id)
		FROM room r WHERE r.is_private = 0
		ORDER BY r.last_activity DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var out []models.RoomSummary
	for rows.Next() {
		var s models.RoomSummary
		if err := rows.Scan(&s.ID, &s.MediaID, &s.HostID, &s.State, &s.LastActivity, &s.Participants); err != nil {
			return nil, fmt.Errorf("scan room summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isForeignKeyViolation recognizes a missing-parent-row failure on either
// backend (Postgres in production, sqlite in tests).
func isForeignKeyViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23503"
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
