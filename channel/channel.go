// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package channel

import (
	"time"

	"github.com/danielhkuo/watchlobby/models"
)

// Action is a presence event kind.
type Action string

const (
	ActionJoin  Action = "join"
	ActionLeave Action = "leave"
)

// Meta is presence metadata attached to a join/leave frame. Fields may be
// sparse on reconnect churn.
type Meta struct {
	UserID       string     `json:"user_id,omitempty"`
	Username     string     `json:"username,omitempty"`
	IsHost       bool       `json:"is_host,omitempty"`
	Premium      bool       `json:"premium,omitempty"`
	PremiumUntil *time.Time `json:"premium_until,omitempty"`
}

// PresenceHandler receives join/leave events. meta may be nil.
type PresenceHandler func(action Action, connRef string, meta *Meta)

// MessageHandler receives inbound sync messages.
type MessageHandler func(msg models.SyncMessage)

// StatusHandler receives connection status changes.
type StatusHandler func(status models.ConnStatus)

// Channel is the low-latency push collaborator. It is assumed unreliable: it
// may duplicate, drop, or reorder events; the reconcilers above compensate.
type Channel interface {
	RegisterObserver(onPresence PresenceHandler, onMessage MessageHandler)
	Send(msg models.SyncMessage) error
	Connected() bool
	Close() error
}

// frame is the wire envelope. This codec is the only place the transport
// shape exists; everything inward works with typed values.
type frame struct {
	Action  string              `json:"action"` // join | leave | message
	ConnRef string              `json:"conn_ref,omitempty"`
	Meta    *Meta               `json:"meta,omitempty"`
	Message *models.SyncMessage `json:"message,omitempty"`
}
