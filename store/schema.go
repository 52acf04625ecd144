// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package store

import (
	"database/sql"
	"fmt"
)

// CreateSchema creates all tables the lobby engine reads and writes.
// Safe to call multiple times - uses IF NOT EXISTS. Flag columns are INTEGER
// 0/1 and timestamps travel from Go so the same statements run on Postgres
// and on the in-memory sqlite used in tests.
func CreateSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

const schema = `
-- Accounts
CREATE TABLE IF NOT EXISTS account (
    id TEXT PRIMARY KEY,
    username TEXT NOT NULL,
    is_premium INTEGER NOT NULL DEFAULT 0,
    premium_until TIMESTAMP
);

-- Rooms
CREATE TABLE IF NOT EXISTS room (
    id TEXT PRIMARY KEY,
    media_id TEXT NOT NULL,
    season INTEGER NOT NULL DEFAULT 0,
    episode INTEGER NOT NULL DEFAULT 0,
    state TEXT NOT NULL DEFAULT 'lobby' CHECK (state IN ('lobby', 'playing', 'paused')),
    host_id TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    last_activity TIMESTAMP NOT NULL,
    is_private INTEGER NOT NULL DEFAULT 0,
    is_broadcast INTEGER NOT NULL DEFAULT 0,
    current_index INTEGER NOT NULL DEFAULT 0,
    position REAL NOT NULL DEFAULT 0,
    stream_hash TEXT,
    stream_file_index INTEGER,
    stream_title TEXT,
    stream_quality TEXT,
    stream_size BIGINT,
    stream_provider TEXT
);

CREATE INDEX IF NOT EXISTS idx_room_state ON room(state);
CREATE INDEX IF NOT EXISTS idx_room_private ON room(is_private);

-- Room participants
CREATE TABLE IF NOT EXISTS room_participant (
    room_id TEXT NOT NULL REFERENCES room(id) ON DELETE CASCADE,
    user_id TEXT NOT NULL,
    username TEXT NOT NULL DEFAULT '',
    is_host INTEGER NOT NULL DEFAULT 0,
    joined_at TIMESTAMP NOT NULL,
    last_seen TIMESTAMP NOT NULL,
    PRIMARY KEY (room_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_room_participant_room ON room_participant(room_id);

-- Playlist
CREATE TABLE IF NOT EXISTS room_playlist_item (
    room_id TEXT NOT NULL REFERENCES room(id) ON DELETE CASCADE,
    item_id TEXT NOT NULL,
    ordinal INTEGER NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    media_id TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (room_id, item_id)
);

CREATE INDEX IF NOT EXISTS idx_playlist_room ON room_playlist_item(room_id, ordinal);
`
