// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/danielhkuo/watchlobby/channel"
	"github.com/danielhkuo/watchlobby/lifecycle"
	"github.com/danielhkuo/watchlobby/models"
	"github.com/danielhkuo/watchlobby/playback"
	"github.com/danielhkuo/watchlobby/poller"
	"github.com/danielhkuo/watchlobby/presence"
	"github.com/danielhkuo/watchlobby/router"
	"github.com/danielhkuo/watchlobby/timeline"
)

// Store is the persisted-store surface the session needs.
type Store interface {
	RoomState(ctx context.Context, roomID string) (*models.Room, error)
	JoinRoom(ctx context.Context, roomID, userID string, isHost bool) error
	LeaveRoom(ctx context.Context, roomID, userID string) error
	RoomParticipants(ctx context.Context, roomID string) ([]models.ParticipantRow, error)
	SendHeartbeat(ctx context.Context, roomID, userID string) error
	ListPublicRooms(ctx context.Context, limit int) ([]models.RoomSummary, error)
	UpdateRoomStream(ctx context.Context, roomID string, s *models.StreamDescriptor) error
	UpdateRoomPlayback(ctx context.Context, roomID, state string, position float64) error
	UpdateRoomPlaylist(ctx context.Context, roomID string, items []models.PlaylistItem) error
	UpdateRoomPrivacy(ctx context.Context, roomID string, private bool) error
	UpdateRoomMetadata(ctx context.Context, roomID, mediaID string, season, episode int) error
}

// Config identifies the local user and room and tunes the periodic loops.
type Config struct {
	RoomID    string
	SelfID    string
	SelfName  string
	IsHost    bool
	Broadcast bool

	Heartbeat          time.Duration // default 35s
	ParticipantRefresh time.Duration // default 5s
	RoomListRefresh    time.Duration // default 10s
}

func (c *Config) defaults() {
	if c.Heartbeat == 0 {
		c.Heartbeat = 35 * time.Second
	}
	if c.ParticipantRefresh == 0 {
		c.ParticipantRefresh = 5 * time.Second
	}
	if c.RoomListRefresh == 0 {
		c.RoomListRefresh = 10 * time.Second
	}
}

// Session is the orchestrator: it owns the canonical in-memory room state,
// wires the reconcilers together, runs the periodic loops, and is the only
// thing the presentation layer observes. Nothing besides this object and its
// components mutates shared state; none of it survives a disconnect, and it
// rebuilds from the channel and the store on reconnect.
type Session struct {
	cfg    Config
	clk    clock.Clock
	log    *slog.Logger
	st     Store
	ch     channel.Channel
	player playback.Player

	machine  *lifecycle.Machine
	timeline *timeline.Timeline
	pres     *presence.Reconciler
	route    *router.Router
	poll     *poller.Poller
	guard    *playback.Guard
	count    *playback.Countdown

	mu        sync.Mutex
	room      models.Room
	status    models.ConnStatus
	pubRooms  []models.RoomSummary
	closed    bool
	closeOnce sync.Once
	onExit    func(reason string)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New assembles a session. onExit is invoked once with a user-facing reason
// when the session is torn down (room closed, kicked, room deleted).
func New(cfg Config, clk clock.Clock, log *slog.Logger, st Store,
	player playback.Player, onExit func(reason string)) *Session {

	cfg.defaults()
	if log == nil {
		log = slog.Default()
	}

	s := &Session{
		cfg:    cfg,
		clk:    clk,
		log:    log.With("room", cfg.RoomID),
		st:     st,
		player: player,
		status: models.ConnDisconnected,
		onExit: onExit,
		room:   models.Room{ID: cfg.RoomID, State: models.RoomStateLobby, IsBroadcast: cfg.Broadcast},
	}

	s.machine = lifecycle.New(s.log)
	s.guard = &playback.Guard{}
	s.count = playback.NewCountdown(clk)
	s.timeline = timeline.New(clk, s.log, cfg.SelfID, s.sendSync)

	s.pres = presence.New(presence.Config{
		RoomID:    cfg.RoomID,
		SelfID:    cfg.SelfID,
		SelfName:  cfg.SelfName,
		IsHost:    cfg.IsHost,
		Broadcast: cfg.Broadcast,
	}, clk, s.log, s.timeline, st, s.sendCommand, s.channelHealthy, s.roomDeleted)

	s.route = router.New(router.Config{
		RoomID:    cfg.RoomID,
		SelfID:    cfg.SelfID,
		SelfName:  cfg.SelfName,
		IsHost:    cfg.IsHost,
		Broadcast: cfg.Broadcast,
	}, clk, s.log, s.pres, s.timeline, st, s, s.machine, wrappedPlayer{s}, s.guard, s.count, s.sendCommand)

	s.poll = poller.New(poller.Config{
		RoomID:    cfg.RoomID,
		Broadcast: cfg.Broadcast,
	}, clk, s.log, st, s, wrappedPlayer{s}, s.guard, s.count)

	return s
}

// Start connects the session: joins the store, registers on the channel,
// announces the join, and launches the periodic loops.
func (s *Session) Start(ctx context.Context, ch channel.Channel) error {
	s.machine.Transition(lifecycle.State{Kind: lifecycle.Connecting})

	if err := s.st.JoinRoom(ctx, s.cfg.RoomID, s.cfg.SelfID, s.cfg.IsHost); err != nil {
		s.machine.Transition(lifecycle.State{Kind: lifecycle.Error, Reason: err.Error()})
		return fmt.Errorf("join room: %w", err)
	}
	s.guard.MarkJoined(s.clk.Now())

	s.mu.Lock()
	s.ch = ch
	s.mu.Unlock()

	ch.RegisterObserver(s.onPresence, s.onMessage)

	if room, err := s.st.RoomState(ctx, s.cfg.RoomID); err == nil && room != nil {
		s.ApplyRoomMeta(room)
	}

	if err := s.sendCommand(models.WireJoin); err != nil {
		s.log.Warn("join broadcast failed", "error", err)
	}

	s.machine.Transition(lifecycle.State{Kind: lifecycle.Connected})
	s.machine.Transition(lifecycle.State{Kind: lifecycle.WaitingForReady})

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.loop(runCtx, s.cfg.Heartbeat, s.heartbeat)
	s.loop(runCtx, s.cfg.ParticipantRefresh, func(ctx context.Context) {
		if err := s.pres.PollParticipants(ctx); err != nil {
			s.log.Warn("participant poll failed", "error", err)
		}
	})
	s.loop(runCtx, s.cfg.RoomListRefresh, s.refreshRoomList)

	if !s.cfg.IsHost {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.poll.Run(runCtx)
		}()
	}

	return nil
}

// loop runs fn on a fixed cadence until the session stops.
func (s *Session) loop(ctx context.Context, every time.Duration, fn func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := s.clk.Ticker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				fn(ctx)
			}
		}
	}()
}

func (s *Session) heartbeat(ctx context.Context) {
	if err := s.st.SendHeartbeat(ctx, s.cfg.RoomID, s.cfg.SelfID); err != nil {
		s.log.Warn("heartbeat failed", "error", err)
	}
}

func (s *Session) refreshRoomList(ctx context.Context) {
	rooms, err := s.st.ListPublicRooms(ctx, 50)
	if err != nil {
		s.log.Warn("room list refresh failed", "error", err)
		return
	}
	s.mu.Lock()
	s.pubRooms = rooms
	s.mu.Unlock()
}

// onPresence adapts channel presence events into the reconciler.
func (s *Session) onPresence(action channel.Action, connRef string, meta *channel.Meta) {
	var m *presence.Meta
	if meta != nil {
		m = &presence.Meta{
			UserID:       meta.UserID,
			Username:     meta.Username,
			IsHost:       meta.IsHost,
			Premium:      meta.Premium,
			PremiumUntil: meta.PremiumUntil,
		}
	}
	switch action {
	case channel.ActionJoin:
		s.pres.HandleJoin(connRef, m)
	case channel.ActionLeave:
		s.pres.HandleLeave(connRef, m)
	}
}

func (s *Session) onMessage(msg models.SyncMessage) {
	s.route.Dispatch(context.Background(), msg)
}

func (s *Session) channelHealthy() bool {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	return ch != nil && ch.Connected()
}

// sendSync transmits a prebuilt sync message.
func (s *Session) sendSync(msg models.SyncMessage) error {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("channel not attached")
	}
	return ch.Send(msg)
}

// sendCommand wraps a wire command into a chat-typed sync message.
func (s *Session) sendCommand(text string) error {
	return s.sendSync(models.SyncMessage{
		ID:         uuid.NewString(),
		Event:      models.EventChat,
		Text:       text,
		SenderID:   s.cfg.SelfID,
		SenderName: s.cfg.SelfName,
		SentAt:     s.clk.Now(),
	})
}

func (s *Session) roomDeleted() {
	s.Teardown("room deleted")
}

// Close disconnects and discards all in-memory reconciliation state.
func (s *Session) Close() {
	s.Teardown("disconnected")
}
