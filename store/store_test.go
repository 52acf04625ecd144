// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/danielhkuo/watchlobby/models"
	"github.com/danielhkuo/watchlobby/store"
	"github.com/danielhkuo/watchlobby/testutil"
)

func TestRoomState_MissingRoomIsNil(t *testing.T) {
	c := store.New(testutil.SetupTestDB(t))

	room, err := c.RoomState(context.Background(), "nope")
	if err != nil {
		t.Fatal(err)
	}
	if room != nil {
		t.Errorf("room = %+v, want nil for a missing room", room)
	}
}

func TestCreateRoom_InsertsHostParticipant(t *testing.T) {
	c := store.New(testutil.SetupTestDB(t))
	testutil.CreateTestRoom(t, c, "room-1", "host-1")

	room, err := c.RoomState(context.Background(), "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if room == nil || room.HostID != "host-1" || room.State != models.RoomStateLobby {
		t.Fatalf("room = %+v", room)
	}

	rows, err := c.RoomParticipants(context.Background(), "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].UserID != "host-1" || !rows[0].IsHost {
		t.Errorf("participants = %+v, want the host row", rows)
	}
}

func TestJoinRoom_UpsertRefreshesLastSeen(t *testing.T) {
	c := store.New(testutil.SetupTestDB(t))
	testutil.CreateTestRoom(t, c, "room-1", "host-1")

	if err := c.JoinRoom(context.Background(), "room-1", "guest-1", false); err != nil {
		t.Fatal(err)
	}
	// Repeat join is an upsert, not a duplicate row.
	if err := c.JoinRoom(context.Background(), "room-1", "guest-1", false); err != nil {
		t.Fatal(err)
	}

	rows, err := c.RoomParticipants(context.Background(), "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Errorf("participant rows = %d, want 2", len(rows))
	}
}

func TestJoinRoom_DeletedRoom(t *testing.T) {
	c := store.New(testutil.SetupTestDB(t))

	err := c.JoinRoom(context.Background(), "gone", "guest-1", false)
	if !errors.Is(err, models.ErrRoomDeleted) {
		t.Errorf("err = %v, want ErrRoomDeleted", err)
	}
}

func TestLeaveRoom_RemovesRow(t *testing.T) {
	c := store.New(testutil.SetupTestDB(t))
	testutil.CreateTestRoom(t, c, "room-1", "host-1")

	if err := c.JoinRoom(context.Background(), "room-1", "guest-1", false); err != nil {
		t.Fatal(err)
	}
	if err := c.LeaveRoom(context.Background(), "room-1", "guest-1"); err != nil {
		t.Fatal(err)
	}

	rows, err := c.RoomParticipants(context.Background(), "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].UserID != "host-1" {
		t.Errorf("participants = %+v, want only the host", rows)
	}
}

func TestDeleteRoom_CascadesParticipants(t *testing.T) {
	c := store.New(testutil.SetupTestDB(t))
	testutil.CreateTestRoom(t, c, "room-1", "host-1")

	if err := c.DeleteRoom(context.Background(), "room-1"); err != nil {
		t.Fatal(err)
	}
	rows, err := c.RoomParticipants(context.Background(), "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Errorf("participants after delete = %+v, want none", rows)
	}

	// The participant table is now an invalid target for the room.
	err = c.JoinRoom(context.Background(), "room-1", "late", false)
	if !errors.Is(err, models.ErrRoomDeleted) {
		t.Errorf("err = %v, want ErrRoomDeleted", err)
	}
}

func TestSendHeartbeat_AdvancesLastSeen(t *testing.T) {
	c := store.New(testutil.SetupTestDB(t))
	testutil.CreateTestRoom(t, c, "room-1", "host-1")

	before, err := c.RoomParticipants(context.Background(), "room-1")
	if err != nil {
		t.Fatal(err)
	}

	if err := c.SendHeartbeat(context.Background(), "room-1", "host-1"); err != nil {
		t.Fatal(err)
	}

	after, err := c.RoomParticipants(context.Background(), "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if after[0].LastSeen.Before(before[0].LastSeen) {
		t.Error("heartbeat should never move last_seen backwards")
	}
}

func TestUpdateRoomStream_PublishesDescriptorWithoutURL(t *testing.T) {
	c := store.New(testutil.SetupTestDB(t))
	testutil.CreateTestRoom(t, c, "room-1", "host-1")

	s := &models.StreamDescriptor{
		Hash:      "abc123",
		FileIndex: 2,
		Title:     "Movie",
		Quality:   "1080p",
		Size:      1 << 30,
		Provider:  "p1",
		URL:       "https://cdn/host-unlock",
	}
	if err := c.UpdateRoomStream(context.Background(), "room-1", s); err != nil {
		t.Fatal(err)
	}

	room, err := c.RoomState(context.Background(), "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if room.Stream == nil || room.Stream.Hash != "abc123" || room.Stream.FileIndex != 2 {
		t.Fatalf("stream = %+v", room.Stream)
	}
	if room.Stream.URL != "" {
		t.Error("the unlock URL must never be persisted")
	}

	// Clearing the stream nils the descriptor.
	if err := c.UpdateRoomStream(context.Background(), "room-1", nil); err != nil {
		t.Fatal(err)
	}
	room, err = c.RoomState(context.Background(), "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if room.Stream != nil {
		t.Errorf("stream = %+v, want nil after clear", room.Stream)
	}
}

func TestUpdateRoomPlayback(t *testing.T) {
	c := store.New(testutil.SetupTestDB(t))
	testutil.CreateTestRoom(t, c, "room-1", "host-1")

	if err := c.UpdateRoomPlayback(context.Background(), "room-1", models.RoomStatePlaying, 123.5); err != nil {
		t.Fatal(err)
	}

	room, err := c.RoomState(context.Background(), "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if room.State != models.RoomStatePlaying || room.Position != 123.5 {
		t.Errorf("state = %q position = %v", room.State, room.Position)
	}
}

func TestUpdateRoomMetadata(t *testing.T) {
	c := store.New(testutil.SetupTestDB(t))
	testutil.CreateTestRoom(t, c, "room-1", "host-1")

	if err := c.UpdateRoomMetadata(context.Background(), "room-1", "tt0120737", 1, 3); err != nil {
		t.Fatal(err)
	}

	room, err := c.RoomState(context.Background(), "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if room.MediaID != "tt0120737" || room.Season != 1 || room.Episode != 3 {
		t.Errorf("media = %q season = %d episode = %d", room.MediaID, room.Season, room.Episode)
	}
}

func TestUpdateRoomPlaylist_ReplacesInOrder(t *testing.T) {
	c := store.New(testutil.SetupTestDB(t))
	testutil.CreateTestRoom(t, c, "room-1", "host-1")

	first := []models.PlaylistItem{
		{ID: "a", Title: "A", MediaID: "m-a"},
		{ID: "b", Title: "B", MediaID: "m-b"},
	}
	if err := c.UpdateRoomPlaylist(context.Background(), "room-1", first); err != nil {
		t.Fatal(err)
	}

	second := []models.PlaylistItem{
		{ID: "c", Title: "C", MediaID: "m-c"},
		{ID: "a", Title: "A", MediaID: "m-a"},
	}
	if err := c.UpdateRoomPlaylist(context.Background(), "room-1", second); err != nil {
		t.Fatal(err)
	}

	room, err := c.RoomState(context.Background(), "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(room.Playlist) != 2 || room.Playlist[0].ID != "c" || room.Playlist[1].ID != "a" {
		t.Errorf("playlist = %+v, want the replacement in order", room.Playlist)
	}
}

func TestListPublicRooms_ExcludesPrivate(t *testing.T) {
	c := store.New(testutil.SetupTestDB(t))
	testutil.CreateTestRoom(t, c, "open-1", "host-1")
	testutil.CreateTestRoom(t, c, "open-2", "host-2")
	testutil.CreateTestRoom(t, c, "hidden", "host-3")

	if err := c.UpdateRoomPrivacy(context.Background(), "hidden", true); err != nil {
		t.Fatal(err)
	}
	if err := c.JoinRoom(context.Background(), "open-1", "guest-1", false); err != nil {
		t.Fatal(err)
	}

	list, err := c.ListPublicRooms(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("rooms = %+v, want 2 public rooms", list)
	}
	for _, s := range list {
		if s.ID == "hidden" {
			t.Error("private room leaked into the public list")
		}
		if s.ID == "open-1" && s.Participants != 2 {
			t.Errorf("open-1 participants = %d, want 2", s.Participants)
		}
	}
}

func TestUserByID(t *testing.T) {
	db := testutil.SetupTestDB(t)
	c := store.New(db)

	if _, err := db.Exec(
		`INSERT INTO account (id, username, is_premium) VALUES ('u1', 'Alice', 1)`,
	); err != nil {
		t.Fatal(err)
	}

	u, err := c.UserByID(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if u == nil || u.Username != "Alice" || !u.IsPremium {
		t.Fatalf("user = %+v", u)
	}

	missing, err := c.UserByID(context.Background(), "u2")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Errorf("user = %+v, want nil for a missing account", missing)
	}
}
