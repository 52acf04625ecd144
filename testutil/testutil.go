// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	_ "modernc.org/sqlite"

	"github.com/danielhkuo/watchlobby/channel"
	"github.com/danielhkuo/watchlobby/models"
	"github.com/danielhkuo/watchlobby/store"
)

// SetupTestDB opens a fresh in-memory sqlite database with the full schema.
// The same SQL the Postgres client runs in production runs here.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	// In-memory sqlite lives per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}
	if err := store.CreateSchema(db); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	return db
}

// CreateTestRoom inserts a room plus its host participant row.
func CreateTestRoom(t *testing.T, c *store.Client, roomID, hostID string) *models.Room {
	t.Helper()

	room := &models.Room{
		ID:      roomID,
		MediaID: "media-1",
		State:   models.RoomStateLobby,
		HostID:  hostID,
	}
	if err := c.CreateRoom(context.Background(), room); err != nil {
		t.Fatalf("Failed to create test room: %v", err)
	}
	return room
}

// FakeStore is an in-memory stand-in for the persisted store.
type FakeStore struct {
	mu sync.Mutex

	Room      *models.Room
	Rows      []models.ParticipantRow
	JoinErr   error
	StateErr  error
	JoinCalls []string
	Rooms     []models.RoomSummary

	Heartbeats int
}

func (f *FakeStore) RoomState(_ context.Context, _ string) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StateErr != nil {
		return nil, f.StateErr
	}
	if f.Room == nil {
		return nil, nil
	}
	room := *f.Room
	if f.Room.Stream != nil {
		s := *f.Room.Stream
		room.Stream = &s
	}
	return &room, nil
}

func (f *FakeStore) JoinRoom(_ context.Context, _, userID string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.JoinCalls = append(f.JoinCalls, userID)
	return f.JoinErr
}

func (f *FakeStore) LeaveRoom(_ context.Context, _, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.Rows[:0]
	for _, r := range f.Rows {
		if !models.SameID(r.UserID, userID) {
			kept = append(kept, r)
		}
	}
	f.Rows = kept
	return nil
}

func (f *FakeStore) RoomParticipants(_ context.Context, _ string) ([]models.ParticipantRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.ParticipantRow, len(f.Rows))
	copy(out, f.Rows)
	return out, nil
}

func (f *FakeStore) SendHeartbeat(_ context.Context, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Heartbeats++
	return nil
}

// HeartbeatCount returns how many heartbeats were sent.
func (f *FakeStore) HeartbeatCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Heartbeats
}

func (f *FakeStore) ListPublicRooms(_ context.Context, _ int) ([]models.RoomSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.RoomSummary(nil), f.Rooms...), nil
}

func (f *FakeStore) UpdateRoomStream(_ context.Context, _ string, s *models.StreamDescriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Room != nil {
		f.Room.Stream = s
	}
	return nil
}

func (f *FakeStore) UpdateRoomPlayback(_ context.Context, _, state string, position float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Room != nil {
		f.Room.State = state
		f.Room.Position = position
	}
	return nil
}

func (f *FakeStore) UpdateRoomPlaylist(_ context.Context, _ string, items []models.PlaylistItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Room != nil {
		f.Room.Playlist = items
	}
	return nil
}

func (f *FakeStore) UpdateRoomPrivacy(_ context.Context, _ string, private bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Room != nil {
		f.Room.IsPrivate = private
	}
	return nil
}

func (f *FakeStore) UpdateRoomMetadata(_ context.Context, _, mediaID string, season, episode int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Room != nil {
		f.Room.MediaID = mediaID
		f.Room.Season = season
		f.Room.Episode = episode
	}
	return nil
}

// FakeChannel is an in-process presence channel for tests.
type FakeChannel struct {
	mu         sync.Mutex
	onPresence channel.PresenceHandler
	onMessage  channel.MessageHandler
	Sent       []models.SyncMessage
	Healthy    bool
	SendErr    error
}

func NewFakeChannel() *FakeChannel {
	return &FakeChannel{Healthy: true}
}

func (f *FakeChannel) RegisterObserver(p channel.PresenceHandler, m channel.MessageHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onPresence = p
	f.onMessage = m
}

func (f *FakeChannel) Send(msg models.SyncMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return f.SendErr
	}
	f.Sent = append(f.Sent, msg)
	return nil
}

func (f *FakeChannel) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Healthy
}

func (f *FakeChannel) Close() error { return nil }

// InjectPresence delivers a presence event to the registered observer.
func (f *FakeChannel) InjectPresence(action channel.Action, connRef string, meta *channel.Meta) {
	f.mu.Lock()
	h := f.onPresence
	f.mu.Unlock()
	if h != nil {
		h(action, connRef, meta)
	}
}

// InjectMessage delivers a sync message to the registered observer.
func (f *FakeChannel) InjectMessage(msg models.SyncMessage) {
	f.mu.Lock()
	h := f.onMessage
	f.mu.Unlock()
	if h != nil {
		h(msg)
	}
}

// SentTexts returns the text payloads of all sent messages.
func (f *FakeChannel) SentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.Sent))
	for _, m := range f.Sent {
		out = append(out, m.Text)
	}
	return out
}

// FakePlayer records prepare/start calls.
type FakePlayer struct {
	mu         sync.Mutex
	Prepared   []models.StreamDescriptor
	Started    []models.StreamDescriptor
	Offsets    []float64
	PrepareErr error
	StartErr   error
}

func (f *FakePlayer) Prepare(_ context.Context, s models.StreamDescriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PrepareErr != nil {
		return f.PrepareErr
	}
	f.Prepared = append(f.Prepared, s)
	return nil
}

func (f *FakePlayer) Start(_ context.Context, s models.StreamDescriptor, offset float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartErr != nil {
		return f.StartErr
	}
	f.Started = append(f.Started, s)
	f.Offsets = append(f.Offsets, offset)
	return nil
}

// StartCount returns how many times playback started.
func (f *FakePlayer) StartCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Started)
}

// AdvanceUntil steps the mock clock until done closes or the deadline of
// steps is exhausted. Used when the code under test runs mock-clock timers on
// another goroutine.
func AdvanceUntil(t *testing.T, mck *clock.Mock, done <-chan struct{}, step time.Duration, steps int) {
	t.Helper()
	for i := 0; i < steps; i++ {
		select {
		case <-done:
			return
		default:
			mck.Add(step)
		}
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for mock-clock work to finish")
	}
}

// ChatMessage builds a chat-typed sync message.
func ChatMessage(senderID, text string) models.SyncMessage {
	return models.SyncMessage{
		ID:         fmt.Sprintf("msg-%s-%s", senderID, text),
		Event:      models.EventChat,
		Text:       text,
		SenderID:   senderID,
		SenderName: senderID,
		SentAt:     time.Now(),
	}
}
