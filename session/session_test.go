// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/danielhkuo/watchlobby/channel"
	"github.com/danielhkuo/watchlobby/models"
	"github.com/danielhkuo/watchlobby/session"
	"github.com/danielhkuo/watchlobby/store"
	"github.com/danielhkuo/watchlobby/testutil"
)

type rig struct {
	sess   *session.Session
	clk    *clock.Mock
	st     *testutil.FakeStore
	ch     *testutil.FakeChannel
	player *testutil.FakePlayer
	exits  []string
}

func newRig(t *testing.T, cfg session.Config) *rig {
	t.Helper()
	rg := &rig{
		clk:    clock.NewMock(),
		st:     &testutil.FakeStore{},
		ch:     testutil.NewFakeChannel(),
		player: &testutil.FakePlayer{},
	}
	if cfg.RoomID == "" {
		cfg.RoomID = "room-1"
	}
	if cfg.SelfID == "" {
		cfg.SelfID = "self"
	}
	if cfg.SelfName == "" {
		cfg.SelfName = "Me"
	}
	rg.st.Room = &models.Room{ID: cfg.RoomID, State: models.RoomStateLobby, HostID: "host"}
	rg.sess = session.New(cfg, rg.clk, nil, rg.st, rg.player,
		func(reason string) { rg.exits = append(rg.exits, reason) })
	t.Cleanup(func() { rg.sess.Teardown("test over") })
	return rg
}

func (rg *rig) start(t *testing.T) {
	t.Helper()
	if err := rg.sess.Start(context.Background(), rg.ch); err != nil {
		t.Fatal(err)
	}
}

func sentContains(texts []string, want string) bool {
	for _, s := range texts {
		if s == want {
			return true
		}
	}
	return false
}

func TestStart_JoinsAndAnnounces(t *testing.T) {
	rg := newRig(t, session.Config{})
	rg.start(t)

	if len(rg.st.JoinCalls) != 1 || rg.st.JoinCalls[0] != "self" {
		t.Errorf("join calls = %v, want [self]", rg.st.JoinCalls)
	}
	if !sentContains(rg.ch.SentTexts(), models.WireJoin) {
		t.Errorf("sent = %v, want the join announcement", rg.ch.SentTexts())
	}

	snap := rg.sess.Snapshot()
	if snap.Lifecycle != "waitingForReady" {
		t.Errorf("lifecycle = %q, want waitingForReady", snap.Lifecycle)
	}
}

func TestStart_JoinFailureSurfaces(t *testing.T) {
	rg := newRig(t, session.Config{})
	rg.st.JoinErr = models.ErrRoomDeleted

	if err := rg.sess.Start(context.Background(), rg.ch); err == nil {
		t.Fatal("expected the join failure to surface")
	}
	if rg.sess.Snapshot().Lifecycle != "error(room no longer exists)" {
		t.Errorf("lifecycle = %q", rg.sess.Snapshot().Lifecycle)
	}
}

func TestChatRoundTrip(t *testing.T) {
	rg := newRig(t, session.Config{})
	rg.start(t)

	rg.sess.SendChat("hello everyone")
	if !sentContains(rg.ch.SentTexts(), "hello everyone") {
		t.Error("local chat should be broadcast")
	}

	rg.ch.InjectMessage(testutil.ChatMessage("alice", "hi back"))

	snap := rg.sess.Snapshot()
	var sawLocal, sawRemote bool
	for _, m := range snap.Timeline {
		if m.Text == "hello everyone" {
			sawLocal = true
		}
		if m.Text == "hi back" {
			sawRemote = true
		}
	}
	if !sawLocal || !sawRemote {
		t.Errorf("timeline = %+v, want both sides of the conversation", snap.Timeline)
	}
}

func TestPresenceEventsReachRoster(t *testing.T) {
	rg := newRig(t, session.Config{})
	rg.start(t)

	rg.ch.InjectPresence(channel.ActionJoin, "c1", &channel.Meta{UserID: "alice", Username: "Alice"})
	rg.clk.Add(500 * time.Millisecond)

	snap := rg.sess.Snapshot()
	found := false
	for _, p := range snap.Roster {
		if p.Username == "Alice" {
			found = true
		}
	}
	if !found {
		t.Errorf("roster = %+v, want Alice after the join flush", snap.Roster)
	}
}

func TestApplyRoomMeta_KeepsURLOnlyWhileHashMatches(t *testing.T) {
	rg := newRig(t, session.Config{IsHost: true})
	rg.start(t)

	stream := models.StreamDescriptor{Hash: "h1", Title: "Movie", URL: "https://cdn/mine"}
	if err := rg.sess.HostStartPlayback(context.Background(), stream); err != nil {
		t.Fatal(err)
	}
	if rg.player.StartCount() != 1 {
		t.Fatalf("start count = %d, want 1 with an empty roster", rg.player.StartCount())
	}

	// Same hash from the store: our unlock URL survives the overlay.
	rg.sess.ApplyRoomMeta(&models.Room{
		ID: "room-1", State: models.RoomStatePlaying,
		Stream: &models.StreamDescriptor{Hash: "h1", Title: "Movie"},
	})
	if got := rg.sess.Snapshot().Room.Stream.URL; got != "https://cdn/mine" {
		t.Errorf("URL = %q, want the local unlock kept for a matching hash", got)
	}

	// A different hash drops it.
	rg.sess.ApplyRoomMeta(&models.Room{
		ID: "room-1", State: models.RoomStatePlaying,
		Stream: &models.StreamDescriptor{Hash: "h2", Title: "Other"},
	})
	if got := rg.sess.Snapshot().Room.Stream.URL; got != "" {
		t.Errorf("URL = %q, want empty for a new stream", got)
	}
}

func TestHostStartPlayback_PublishesAndAnnounces(t *testing.T) {
	rg := newRig(t, session.Config{IsHost: true})
	rg.start(t)

	stream := models.StreamDescriptor{Hash: "h1", Title: "Movie", URL: "https://cdn/mine"}
	if err := rg.sess.HostStartPlayback(context.Background(), stream); err != nil {
		t.Fatal(err)
	}

	texts := rg.ch.SentTexts()
	if !sentContains(texts, models.WireStartCountdown) {
		t.Error("countdown announcement missing")
	}
	if !sentContains(texts, models.EncodePreparePlayback(&stream)) {
		t.Error("prepare announcement missing")
	}
	if !sentContains(texts, models.WirePlaybackStarted) {
		t.Error("started announcement missing")
	}

	if rg.st.Room.Stream == nil || rg.st.Room.Stream.Hash != "h1" {
		t.Error("stream descriptor should be published to the store")
	}
	snap := rg.sess.Snapshot()
	if snap.Room.State != models.RoomStatePlaying {
		t.Errorf("room state = %q, want playing", snap.Room.State)
	}
}

func TestHostStartPlayback_GuestOnlyErrors(t *testing.T) {
	rg := newRig(t, session.Config{})
	rg.start(t)

	if err := rg.sess.HostStartPlayback(context.Background(), models.StreamDescriptor{Hash: "h1"}); err == nil {
		t.Error("a guest must not be able to start playback")
	}
}

func TestReturnAllToLobby(t *testing.T) {
	rg := newRig(t, session.Config{IsHost: true})
	rg.start(t)

	if err := rg.sess.HostStartPlayback(context.Background(), models.StreamDescriptor{Hash: "h1"}); err != nil {
		t.Fatal(err)
	}
	if err := rg.sess.ReturnAllToLobby(context.Background()); err != nil {
		t.Fatal(err)
	}

	if rg.st.Room.State != models.RoomStateLobby {
		t.Errorf("store state = %q, want lobby", rg.st.Room.State)
	}
	var returned bool
	for _, m := range rg.ch.Sent {
		if m.Event == models.EventReturnToLobby {
			returned = true
		}
	}
	if !returned {
		t.Error("return-to-lobby event should be broadcast")
	}
	if rg.sess.Snapshot().Room.State != models.RoomStateLobby {
		t.Error("local state should reset to lobby")
	}
}

func TestHandleRoomChange_DeleteTearsDown(t *testing.T) {
	rg := newRig(t, session.Config{})
	rg.start(t)

	// A change for some other room is ignored.
	rg.sess.HandleRoomChange(store.RoomChange{Op: "DELETE", RoomID: "other"})
	if len(rg.exits) != 0 {
		t.Fatal("foreign room deletions must be ignored")
	}

	rg.sess.HandleRoomChange(store.RoomChange{Op: "DELETE", RoomID: "room-1"})
	if len(rg.exits) != 1 || rg.exits[0] != "room deleted" {
		t.Errorf("exits = %v, want [room deleted]", rg.exits)
	}

	var noticed bool
	for _, m := range rg.sess.Snapshot().Timeline {
		if m.Text == "The room was deleted" {
			noticed = true
		}
	}
	if !noticed {
		t.Error("deletion should surface in the timeline")
	}
}

func TestLeave_RemovesRowAndExitsOnce(t *testing.T) {
	rg := newRig(t, session.Config{})
	rg.st.Rows = []models.ParticipantRow{{UserID: "self"}}
	rg.start(t)

	rg.sess.Leave(context.Background())
	if len(rg.st.Rows) != 0 {
		t.Error("the participant row should be removed on a voluntary leave")
	}
	if len(rg.exits) != 1 || rg.exits[0] != "left room" {
		t.Errorf("exits = %v, want [left room]", rg.exits)
	}

	// Teardown is idempotent.
	rg.sess.Teardown("again")
	if len(rg.exits) != 1 {
		t.Errorf("exits = %v, want a single exit", rg.exits)
	}
}

func TestSetPrivacyAndPlaylist_HostOnly(t *testing.T) {
	guest := newRig(t, session.Config{})
	guest.start(t)
	if err := guest.sess.SetPrivacy(context.Background(), true); err == nil {
		t.Error("guests must not change privacy")
	}

	host := newRig(t, session.Config{IsHost: true})
	host.start(t)
	if err := host.sess.SetPrivacy(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	if !host.st.Room.IsPrivate {
		t.Error("privacy change should reach the store")
	}

	items := []models.PlaylistItem{{ID: "a", Title: "A"}}
	if err := host.sess.UpdatePlaylist(context.Background(), items); err != nil {
		t.Fatal(err)
	}
	if len(host.st.Room.Playlist) != 1 || host.st.Room.Playlist[0].ID != "a" {
		t.Errorf("store playlist = %+v", host.st.Room.Playlist)
	}
	if got := host.sess.Snapshot().Room.Playlist; len(got) != 1 {
		t.Errorf("local playlist = %+v", got)
	}
}

func TestSetMedia_HostOnly(t *testing.T) {
	guest := newRig(t, session.Config{})
	guest.start(t)
	if err := guest.sess.SetMedia(context.Background(), "tt0120737", 0, 0); err == nil {
		t.Error("guests must not change the media")
	}

	host := newRig(t, session.Config{IsHost: true})
	host.start(t)
	if err := host.sess.SetMedia(context.Background(), "tt0120737", 2, 5); err != nil {
		t.Fatal(err)
	}
	if host.st.Room.MediaID != "tt0120737" || host.st.Room.Season != 2 {
		t.Errorf("store media = %q season = %d", host.st.Room.MediaID, host.st.Room.Season)
	}
	if got := host.sess.Snapshot().Room; got.MediaID != "tt0120737" || got.Episode != 5 {
		t.Errorf("local media = %q episode = %d", got.MediaID, got.Episode)
	}
}

func TestHeartbeatLoop(t *testing.T) {
	rg := newRig(t, session.Config{Heartbeat: time.Second})
	rg.start(t)

	for i := 0; i < 3; i++ {
		time.Sleep(time.Millisecond)
		rg.clk.Add(time.Second)
	}
	// The loop runs on its own goroutine; give it a beat to drain.
	time.Sleep(10 * time.Millisecond)

	if rg.st.HeartbeatCount() == 0 {
		t.Error("the heartbeat loop should have fired")
	}
}
