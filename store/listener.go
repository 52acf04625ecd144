// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// RoomChange is one row-change notification for a room.
type RoomChange struct {
	Op     string `json:"op"` // "UPDATE" or "DELETE"
	RoomID string `json:"room_id"`
}

const roomChangesChannel = "room_changes"

// Listener delivers room UPDATE/DELETE notifications over Postgres
// LISTEN/NOTIFY. A backend trigger publishes JSON payloads on the
// room_changes channel; missed notifications are harmless because the polling
// reconciler covers the same ground more slowly.
type Listener struct {
	pl  *pq.Listener
	log *slog.Logger
}

// NewListener connects a LISTEN session on the given DSN.
func NewListener(dsn string, log *slog.Logger) (*Listener, error) {
	if log == nil {
		log = slog.Default()
	}
	pl := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warn("room listener event", "type", int(ev), "error", err)
		}
	})
	if err := pl.Listen(roomChangesChannel); err != nil {
		pl.Close()
		return nil, err
	}
	return &Listener{pl: pl, log: log}, nil
}

// Run dispatches notifications to fn until ctx is cancelled. Periodic pings
// keep the connection from going stale behind quiet channels.
func (l *Listener) Run(ctx context.Context, fn func(RoomChange)) {
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-l.pl.Notify:
			if n == nil {
				// Connection reset; pq re-establishes LISTEN on its own.
				continue
			}
			var ch RoomChange
			if err := json.Unmarshal([]byte(n.Extra), &ch); err != nil {
				l.log.Warn("bad room change payload", "payload", n.Extra, "error", err)
				continue
			}
			fn(ch)
		case <-ping.C:
			if err := l.pl.Ping(); err != nil {
				l.log.Warn("room listener ping failed", "error", err)
			}
		}
	}
}

// Close tears the LISTEN session down.
func (l *Listener) Close() error {
	return l.pl.Close()
}
