package models

import (
	"strings"
	"time"
)

// Room playback state constants
const (
	RoomStateLobby   = "lobby"
	RoomStatePlaying = "playing"
	RoomStatePaused  = "paused"
)

// ConnStatus is the realtime channel status surfaced to the UI.
type ConnStatus string

const (
	ConnConnected    ConnStatus = "connected"
	ConnConnecting   ConnStatus = "connecting"
	ConnFailed       ConnStatus = "failed"
	ConnDisconnected ConnStatus = "disconnected"
)

// Participant is one user in the lobby roster. A participant may hold several
// simultaneous realtime connections (tabs, reconnects); it is logically online
// while Conns is non-empty.
type Participant struct {
	ID           string              `json:"id"`
	Username     string              `json:"username"`
	IsHost       bool                `json:"is_host"`
	IsReady      bool                `json:"is_ready"`
	IsMuted      bool                `json:"is_muted"`
	IsPremium    bool                `json:"is_premium"`
	PremiumUntil *time.Time          `json:"premium_until,omitempty"`
	JoinedAt     time.Time           `json:"joined_at"`
	Conns        map[string]struct{} `json:"-"`
}

// Online reports whether the participant holds at least one live connection.
func (p *Participant) Online() bool {
	return len(p.Conns) > 0
}

// NormalizeID canonicalizes a participant identity for comparison.
// Identities are compared case-insensitively and whitespace-trimmed.
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// SameID reports whether two participant identities refer to the same user.
func SameID(a, b string) bool {
	return NormalizeID(a) == NormalizeID(b)
}

// StreamDescriptor pins every client in a room to the same underlying source
// file. URL is an unlock-session-bound link and must never be copied between
// users; only the hash/index fields travel.
type StreamDescriptor struct {
	Hash      string `json:"hash"`
	FileIndex int    `json:"file_index"`
	Title     string `json:"title"`
	Quality   string `json:"quality"`
	Size      int64  `json:"size"`
	Provider  string `json:"provider"`
	URL       string `json:"-"`
}

// PlaylistItem is one voteable entry in a room playlist.
type PlaylistItem struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	MediaID string `json:"media_id"`
}

// Room is the shared watch-party state, merged from the realtime channel and
// the persisted store.
type Room struct {
	ID           string            `json:"id"`
	MediaID      string            `json:"media_id"`
	Season       int               `json:"season,omitempty"`
	Episode      int               `json:"episode,omitempty"`
	State        string            `json:"state"`
	HostID       string            `json:"host_id"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActivity time.Time         `json:"last_activity"`
	IsPrivate    bool              `json:"is_private"`
	IsBroadcast  bool              `json:"is_broadcast"`
	Playlist     []PlaylistItem    `json:"playlist,omitempty"`
	CurrentIndex int               `json:"current_index"`
	Stream       *StreamDescriptor `json:"stream,omitempty"`
	Position     float64           `json:"position"`
}

// ParticipantRow is a persisted participant record from the store.
type ParticipantRow struct {
	UserID   string    `json:"user_id"`
	Username string    `json:"username"`
	IsHost   bool      `json:"is_host"`
	JoinedAt time.Time `json:"joined_at"`
	LastSeen time.Time `json:"last_seen"`
}

// User is a persisted account record.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	IsPremium    bool       `json:"is_premium"`
	PremiumUntil *time.Time `json:"premium_until,omitempty"`
}

// EventType tags a SyncMessage envelope. Typed events must be checked before
// text-command parsing: some legacy commands overlap in shape with chat.
type EventType string

const (
	EventChat          EventType = "chat"
	EventRoomClosed    EventType = "room_closed"
	EventReturnToLobby EventType = "return_to_lobby"
)

// SyncMessage is the envelope carried over the realtime channel: either a
// structured event or a free-text chat/command payload.
type SyncMessage struct {
	ID         string    `json:"id"`
	Event      EventType `json:"event"`
	Text       string    `json:"text,omitempty"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	SentAt     time.Time `json:"sent_at"`
	Premium    bool      `json:"premium,omitempty"`
}

// UnifiedMessage kind constants
const (
	MessageKindChat   = "chat"
	MessageKindSystem = "system"
)

// System notice type constants
const (
	NoticeJoined      = "joined"
	NoticeLeft        = "left"
	NoticeReady       = "ready"
	NoticeUnready     = "unready"
	NoticeVote        = "vote"
	NoticeKicked      = "kicked"
	NoticeRoomClosed  = "room_closed"
	NoticeCountdown   = "countdown"
	NoticePreparing   = "preparing"
	NoticeStartFailed = "start_failed"
)

// UnifiedMessage is one entry in the merged chat/notice timeline.
type UnifiedMessage struct {
	Kind     string    `json:"kind"`
	Type     string    `json:"type,omitempty"`
	Text     string    `json:"text"`
	SenderID string    `json:"sender_id,omitempty"`
	Username string    `json:"username,omitempty"`
	Premium  bool      `json:"premium,omitempty"`
	At       time.Time `json:"at"`
}

// RoomSummary is a public room-list entry for the lobby browser.
type RoomSummary struct {
	ID           string    `json:"id"`
	MediaID      string    `json:"media_id"`
	HostID       string    `json:"host_id"`
	State        string    `json:"state"`
	Participants int       `json:"participants"`
	LastActivity time.Time `json:"last_activity"`
}
