// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dustin/go-humanize"

	"github.com/danielhkuo/watchlobby/lifecycle"
	"github.com/danielhkuo/watchlobby/models"
	"github.com/danielhkuo/watchlobby/playback"
	"github.com/danielhkuo/watchlobby/presence"
)

// Roster is the slice of the presence reconciler the router mutates.
type Roster interface {
	ApplyJoin(meta *presence.Meta) bool
	ApplyReady(id string, ready bool)
	ApplyVote(voterID, itemID string) bool
	ApplyUnvote(voterID string) string
	ApplyKick(targetID string)
	NoteJoinBroadcast(id string)
	MarkAllUsersAsTransitioning()
	VotedItem(voterID string) string
	BlockedIDs() map[string]bool
	Participant(id string) (models.Participant, bool)
}

// Chat is the slice of the message timeline the router posts into.
type Chat interface {
	HandleIncoming(text, senderID, senderName string, premium bool, blocked map[string]bool)
	AddSystemMessage(noticeType, text string)
}

// RoomStore fetches fresh authoritative room state.
type RoomStore interface {
	RoomState(ctx context.Context, roomID string) (*models.Room, error)
}

// Session is the narrow orchestrator surface the router calls back into.
type Session interface {
	// ApplyRoomMeta overlays authoritative room metadata onto shared state.
	ApplyRoomMeta(room *models.Room)
	// RevokeStreamURL clears any cached unlock URL; unlock URLs are
	// session-bound and must never be reused across a new start.
	RevokeStreamURL()
	// Teardown ends the session with a user-facing reason.
	Teardown(reason string)
	// ReturnedToLobby is invoked after a host-forced lobby return.
	ReturnedToLobby()
}

// Config carries router identity and handshake tuning.
type Config struct {
	RoomID    string
	SelfID    string
	SelfName  string
	IsHost    bool
	Broadcast bool

	CountdownSeconds int           // guest visual countdown, default 3
	ReadyTimeout     time.Duration // host wait for guest readiness, default 10s
}

func (c *Config) defaults() {
	if c.CountdownSeconds == 0 {
		c.CountdownSeconds = 3
	}
	if c.ReadyTimeout == 0 {
		c.ReadyTimeout = 10 * time.Second
	}
}

// Router consumes inbound sync messages and dispatches them: typed events
// first, then decoded lobby commands, then plain chat. It also drives the
// host->guest playback-start handshake.
type Router struct {
	cfg     Config
	clk     clock.Clock
	log     *slog.Logger
	roster  Roster
	chat    Chat
	store   RoomStore
	session Session
	machine *lifecycle.Machine
	player  playback.Player
	guard   *playback.Guard
	count   *playback.Countdown
	send    func(text string) error

	mu          sync.Mutex
	joinNoticed map[string]bool
	pending     *models.StreamDescriptor // guest: pre-resolved stream
	countdownGo context.CancelFunc

	// host handshake state
	awaiting   bool
	required   map[string]bool
	guestReady map[string]bool
	readyTimer *clock.Timer
	hostStream *models.StreamDescriptor
}

// New builds a router.
func New(cfg Config, clk clock.Clock, log *slog.Logger, roster Roster, chat Chat,
	store RoomStore, session Session, machine *lifecycle.Machine,
	player playback.Player, guard *playback.Guard, count *playback.Countdown,
	send func(string) error) *Router {

	cfg.defaults()
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		cfg:         cfg,
		clk:         clk,
		log:         log,
		roster:      roster,
		chat:        chat,
		store:       store,
		session:     session,
		machine:     machine,
		player:      player,
		guard:       guard,
		count:       count,
		send:        send,
		joinNoticed: make(map[string]bool),
		required:    make(map[string]bool),
		guestReady:  make(map[string]bool),
	}
}

// Dispatch routes one inbound sync message. Typed events are checked before
// text-command parsing because they may lack a text payload.
func (r *Router) Dispatch(ctx context.Context, msg models.SyncMessage) {
	switch msg.Event {
	case models.EventRoomClosed:
		r.handleRoomClosed(msg)
		return
	case models.EventReturnToLobby:
		r.handleReturnToLobby(msg)
		return
	}

	cmd := models.ParseCommand(msg.Text)
	fromSelf := models.SameID(msg.SenderID, r.cfg.SelfID)

	switch cmd.Kind {
	case models.CmdNone:
		r.chat.HandleIncoming(msg.Text, msg.SenderID, msg.SenderName, msg.Premium, r.roster.BlockedIDs())

	case models.CmdJoin:
		r.handleJoin(msg)

	case models.CmdReady, models.CmdUnready:
		if fromSelf {
			return // already applied optimistically
		}
		ready := cmd.Kind == models.CmdReady
		r.roster.ApplyReady(msg.SenderID, ready)
		verb, notice := "is ready", models.NoticeReady
		if !ready {
			verb, notice = "is not ready", models.NoticeUnready
		}
		r.chat.AddSystemMessage(notice, fmt.Sprintf("%s %s", r.displayName(msg), verb))

	case models.CmdVote:
		if fromSelf {
			return
		}
		if r.roster.ApplyVote(msg.SenderID, cmd.ItemID) {
			r.chat.AddSystemMessage(models.NoticeVote,
				fmt.Sprintf("%s voted for %s", r.displayName(msg), cmd.ItemID))
		}

	case models.CmdUnvote:
		if fromSelf {
			return
		}
		if item := r.roster.ApplyUnvote(msg.SenderID); item != "" {
			r.chat.AddSystemMessage(models.NoticeVote,
				fmt.Sprintf("%s removed their vote for %s", r.displayName(msg), item))
		}

	case models.CmdKick:
		r.handleKick(cmd.TargetID)

	case models.CmdStartCountdown:
		r.handleStartCountdown(ctx, msg)

	case models.CmdPreparePlayback:
		r.handlePreparePlayback(ctx, msg, cmd.Stream)

	case models.CmdReadyForPlayback:
		r.handleGuestReady(ctx, msg)

	case models.CmdResolving:
		if !fromSelf {
			r.log.Debug("participant resolving stream", "user", msg.SenderID)
		}

	case models.CmdPlaybackStarted:
		r.handlePlaybackStarted(ctx, msg)

	case models.CmdReturn:
		r.handleReturnToLobby(msg)

	case models.CmdUnknown:
		r.log.Warn("unknown lobby command", "payload", msg.Text, "sender", msg.SenderID)
	}
}

// handleRoomClosed surfaces the room-closed event and tears the session down.
// Self-echo and persistent broadcast rooms are ignored.
func (r *Router) handleRoomClosed(msg models.SyncMessage) {
	if models.SameID(msg.SenderID, r.cfg.SelfID) || r.cfg.Broadcast {
		return
	}
	r.cancelCountdown()
	r.chat.AddSystemMessage(models.NoticeRoomClosed, "The host closed the room")
	r.session.Teardown("room closed")
}

// handleReturnToLobby puts everyone back in the lobby. The roster snapshot is
// marked transitioning first so the connection reset does not storm "left"
// notices.
func (r *Router) handleReturnToLobby(msg models.SyncMessage) {
	if r.cfg.Broadcast {
		return
	}
	r.cancelCountdown()
	r.roster.MarkAllUsersAsTransitioning()
	// The return resets the realtime connection, so the machine walks back
	// through the connection states rather than jumping out of Transitioning.
	r.machine.Transition(lifecycle.State{Kind: lifecycle.Connecting})
	r.machine.Transition(lifecycle.State{Kind: lifecycle.Connected})
	r.machine.Transition(lifecycle.State{Kind: lifecycle.WaitingForReady})
	r.session.ReturnedToLobby()
}

// handleJoin upserts the sender and posts the joined notice exactly once. A
// host receiving a join re-broadcasts its current vote so late joiners see it.
func (r *Router) handleJoin(msg models.SyncMessage) {
	r.roster.NoteJoinBroadcast(msg.SenderID)
	r.roster.ApplyJoin(&presence.Meta{
		UserID:   msg.SenderID,
		Username: msg.SenderName,
		Premium:  msg.Premium,
	})

	id := models.NormalizeID(msg.SenderID)
	r.mu.Lock()
	noticed := r.joinNoticed[id]
	r.joinNoticed[id] = true
	r.mu.Unlock()

	if !noticed && !models.SameID(msg.SenderID, r.cfg.SelfID) {
		r.chat.AddSystemMessage(models.NoticeJoined,
			fmt.Sprintf("%s joined the room", r.displayName(msg)))
	}

	if r.cfg.IsHost && !models.SameID(msg.SenderID, r.cfg.SelfID) {
		if item := r.roster.VotedItem(r.cfg.SelfID); item != "" {
			if err := r.send(models.EncodeVote(item)); err != nil {
				r.log.Warn("vote re-broadcast failed", "error", err)
			}
		}
	}
}

// handleKick enforces a kick. If the target is the local user the session is
// torn down; ids are compared case-insensitively and whitespace-trimmed.
func (r *Router) handleKick(targetID string) {
	if models.SameID(targetID, r.cfg.SelfID) {
		r.cancelCountdown()
		r.chat.AddSystemMessage(models.NoticeKicked, "You were kicked from the room")
		r.session.Teardown("kicked")
		return
	}

	if p, ok := r.roster.Participant(targetID); ok {
		r.roster.ApplyKick(targetID)
		name := p.Username
		if name == "" {
			name = p.ID
		}
		r.chat.AddSystemMessage(models.NoticeKicked, fmt.Sprintf("%s was kicked", name))
	}
}

func (r *Router) displayName(msg models.SyncMessage) string {
	if msg.SenderName != "" {
		return msg.SenderName
	}
	return msg.SenderID
}

func (r *Router) cancelCountdown() {
	r.mu.Lock()
	cancel := r.countdownGo
	r.countdownGo = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// sizeLabel renders a stream size for notices.
func sizeLabel(size int64) string {
	if size <= 0 {
		return "unknown size"
	}
	return humanize.Bytes(uint64(size))
}
