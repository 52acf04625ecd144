// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/danielhkuo/watchlobby/models"
)

type wsServer struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*websocket.Conn

	frames chan frame
}

func newWSServer(t *testing.T) (*wsServer, string) {
	t.Helper()
	s := &wsServer{t: t, frames: make(chan frame, 16)}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			s.frames <- f
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(s.closeAll)

	return s, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (s *wsServer) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
}

// write pushes a frame to the most recent client connection.
func (s *wsServer) write(f frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		s.t.Error("no client connection")
		return
	}
	if err := s.conns[len(s.conns)-1].WriteJSON(f); err != nil {
		s.t.Errorf("server write failed: %v", err)
	}
}

func (s *wsServer) nextFrame(t *testing.T) frame {
	t.Helper()
	select {
	case f := <-s.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a client frame")
		return frame{}
	}
}

func dialTest(t *testing.T, url string) *WSChannel {
	t.Helper()
	ch, err := Dial(context.Background(), url, Meta{UserID: "self", Username: "Me"}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ch.Close() })
	return ch
}

func TestDial_RegistersPresence(t *testing.T) {
	srv, url := newWSServer(t)
	ch := dialTest(t, url)

	reg := srv.nextFrame(t)
	if reg.Action != string(ActionJoin) {
		t.Errorf("first frame action = %q, want join", reg.Action)
	}
	if reg.Meta == nil || reg.Meta.UserID != "self" {
		t.Errorf("registration meta = %+v", reg.Meta)
	}
	if reg.ConnRef == "" {
		t.Error("registration must carry a connection ref")
	}
	if !ch.Connected() {
		t.Error("channel should report connected after the dial")
	}
}

func TestSend_WrapsMessageFrame(t *testing.T) {
	srv, url := newWSServer(t)
	ch := dialTest(t, url)
	srv.nextFrame(t) // registration

	err := ch.Send(models.SyncMessage{ID: "m1", Event: models.EventChat, Text: "hello", SenderID: "self"})
	if err != nil {
		t.Fatal(err)
	}

	f := srv.nextFrame(t)
	if f.Action != "message" || f.Message == nil || f.Message.Text != "hello" {
		t.Errorf("frame = %+v, want a message envelope", f)
	}
}

func TestDispatch_FansOutToObserver(t *testing.T) {
	srv, url := newWSServer(t)
	ch := dialTest(t, url)
	srv.nextFrame(t) // registration

	presences := make(chan string, 4)
	messages := make(chan models.SyncMessage, 4)
	ch.RegisterObserver(
		func(action Action, connRef string, meta *Meta) { presences <- string(action) + ":" + connRef },
		func(msg models.SyncMessage) { messages <- msg },
	)

	srv.write(frame{Action: string(ActionJoin), ConnRef: "peer-1", Meta: &Meta{UserID: "alice"}})
	srv.write(frame{Action: "message", ConnRef: "peer-1", Message: &models.SyncMessage{Text: "hi", SenderID: "alice"}})
	srv.write(frame{Action: string(ActionLeave), ConnRef: "peer-1"})

	select {
	case got := <-presences:
		if got != "join:peer-1" {
			t.Errorf("presence = %q, want join:peer-1", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("join event never arrived")
	}

	select {
	case msg := <-messages:
		if msg.Text != "hi" || msg.SenderID != "alice" {
			t.Errorf("message = %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message never arrived")
	}

	select {
	case got := <-presences:
		if got != "leave:peer-1" {
			t.Errorf("presence = %q, want leave:peer-1", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("leave event never arrived")
	}
}

func TestSend_FailsFastWhenDisconnected(t *testing.T) {
	srv, url := newWSServer(t)
	ch := dialTest(t, url)
	srv.nextFrame(t)

	srv.closeAll()

	// The read loop notices the drop shortly after.
	deadline := time.Now().Add(2 * time.Second)
	for ch.Connected() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if err := ch.Send(models.SyncMessage{Text: "into the void"}); err == nil {
		t.Error("send on a dropped channel should fail fast")
	}
}

func TestSend_DuringRedialIsSafe(t *testing.T) {
	srv, url := newWSServer(t)
	ch := dialTest(t, url)
	srv.nextFrame(t)

	// Hammer Send while the server drops the connection and the channel
	// redials with a rotated connection ref. Sends may fail; they must not
	// race the rotation.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			ch.Send(models.SyncMessage{Text: "ping", SenderID: "self"})
			time.Sleep(time.Millisecond)
		}
	}()

	srv.closeAll()

	// Drain until the re-registration arrives, then let the sender finish.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case f := <-srv.frames:
			if f.Action == string(ActionJoin) {
				<-done
				return
			}
		case <-deadline:
			t.Fatal("redial never re-registered")
		}
	}
}

func TestReconnect_NewConnRef(t *testing.T) {
	srv, url := newWSServer(t)
	ch := dialTest(t, url)

	first := srv.nextFrame(t)
	srv.closeAll()

	// The redial happens after the backoff; the re-registration carries a
	// fresh connection ref.
	second := srv.nextFrame(t)
	if second.Action != string(ActionJoin) {
		t.Fatalf("re-registration action = %q", second.Action)
	}
	if second.ConnRef == first.ConnRef {
		t.Error("each reconnect must use a new connection ref")
	}
	if !ch.Connected() {
		t.Error("channel should be connected again after the redial")
	}
}
