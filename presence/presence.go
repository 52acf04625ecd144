// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/danielhkuo/watchlobby/models"
)

// Store is the slice of the persisted store the reconciler polls.
type Store interface {
	RoomParticipants(ctx context.Context, roomID string) ([]models.ParticipantRow, error)
	JoinRoom(ctx context.Context, roomID, userID string, isHost bool) error
}

// Notices is where the reconciler posts user-visible system notices.
type Notices interface {
	AddSystemMessage(noticeType, text string)
}

// Meta is presence metadata attached to a join/leave event. Fields may be
// sparse; identity is then resolved via known connection references.
type Meta struct {
	UserID       string
	Username     string
	IsHost       bool
	Premium      bool
	PremiumUntil *time.Time
}

// Config carries the reconciliation windows. Zero values take the defaults.
type Config struct {
	RoomID    string
	SelfID    string
	SelfName  string
	HostID    string
	IsHost    bool
	Broadcast bool

	JoinFlush      time.Duration // pending-join debounce, default 500ms
	LeaveDefer     time.Duration // deferred-leave delay, default 2s
	JoinRecency    time.Duration // false-leave suppression window, default 5s
	Grace          time.Duration // poll eviction grace, default 3s
	BroadcastGrace time.Duration // grace for broadcast-style rooms, default 90s
	ReturnBonus    time.Duration // extra grace during lobby return, default 10s
	TransitionSpan time.Duration // transitioning-set expiry, default 60s
}

func (c *Config) defaults() {
	if c.JoinFlush == 0 {
		c.JoinFlush = 500 * time.Millisecond
	}
	if c.LeaveDefer == 0 {
		c.LeaveDefer = 2 * time.Second
	}
	if c.JoinRecency == 0 {
		c.JoinRecency = 5 * time.Second
	}
	if c.Grace == 0 {
		c.Grace = 3 * time.Second
	}
	if c.BroadcastGrace == 0 {
		c.BroadcastGrace = 90 * time.Second
	}
	if c.ReturnBonus == 0 {
		c.ReturnBonus = 10 * time.Second
	}
	if c.TransitionSpan == 0 {
		c.TransitionSpan = 60 * time.Second
	}
}

// tracked wraps a roster participant with reconciliation bookkeeping that the
// rest of the system never sees.
type tracked struct {
	p           *models.Participant
	lastSeen    time.Time // last confirmation from either source
	leftNoticed bool
}

// Reconciler owns the participant roster and the vote map. It consumes
// presence join/leave events and a periodic poll of persisted participant
// rows, buffering mutations so channel churn never thrashes the visible
// roster. All mutation goes through its methods.
type Reconciler struct {
	cfg   Config
	clk   clock.Clock
	log   *slog.Logger
	not   Notices
	store Store

	// send transmits a wire command; healthy reports channel health.
	send    func(text string) error
	healthy func() bool

	// onRoomDeleted tears the session down when self-heal proves the room gone.
	onRoomDeleted func()

	mu          sync.Mutex
	roster      map[string]*tracked            // normalized id -> entry
	connIndex   map[string]string              // connection ref -> normalized id
	pending     map[string]*models.Participant // join buffer awaiting flush
	flushTimer  *clock.Timer
	leaveTimers map[string]*clock.Timer
	recentJoins map[string]time.Time // join broadcasts, for false-leave suppression
	transition  map[string]struct{}
	transUntil  time.Time
	returnUntil time.Time
	muted       map[string]bool
	votes       models.VoteSet
	leaving     bool
	closed      bool
}

// New builds a reconciler. send transmits wire commands, healthy reports
// realtime channel health, onRoomDeleted ends the session.
func New(cfg Config, clk clock.Clock, log *slog.Logger, not Notices, store Store,
	send func(string) error, healthy func() bool, onRoomDeleted func()) *Reconciler {

	cfg.defaults()
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		cfg:           cfg,
		clk:           clk,
		log:           log,
		not:           not,
		store:         store,
		send:          send,
		healthy:       healthy,
		onRoomDeleted: onRoomDeleted,
		roster:        make(map[string]*tracked),
		connIndex:     make(map[string]string),
		pending:       make(map[string]*models.Participant),
		leaveTimers:   make(map[string]*clock.Timer),
		recentJoins:   make(map[string]time.Time),
		transition:    make(map[string]struct{}),
		muted:         make(map[string]bool),
		votes:         make(models.VoteSet),
	}
}

// Close cancels all outstanding timers. The reconciler must not be used after.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.flushTimer != nil {
		r.flushTimer.Stop()
	}
	for _, t := range r.leaveTimers {
		t.Stop()
	}
	r.leaveTimers = make(map[string]*clock.Timer)
}

// SetLeaving marks the local user as intentionally leaving, disarming the
// host self-heal path.
func (r *Reconciler) SetLeaving() {
	r.mu.Lock()
	r.leaving = true
	r.mu.Unlock()
}

// HandleJoin processes a presence join event for one connection reference.
// New identities are buffered and flushed after the debounce window; known
// identities are updated in place. A pending deferred leave for the identity
// is always cancelled.
func (r *Reconciler) HandleJoin(connRef string, meta *Meta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	id := r.resolveLocked(connRef, meta)
	if id == "" {
		r.log.Debug("join event with unresolvable identity", "conn", connRef)
		return
	}
	r.connIndex[connRef] = id

	// A join always cancels the identity's pending leave: the flap never
	// produces a spurious leave after a subsequent join.
	if t, ok := r.leaveTimers[id]; ok {
		t.Stop()
		delete(r.leaveTimers, id)
	}

	if tr, ok := r.roster[id]; ok {
		r.applyMetaLocked(tr.p, meta)
		tr.p.Conns[connRef] = struct{}{}
		tr.lastSeen = r.clk.Now()
		tr.leftNoticed = false
		return
	}
	if p, ok := r.pending[id]; ok {
		r.applyMetaLocked(p, meta)
		p.Conns[connRef] = struct{}{}
		return
	}

	p := &models.Participant{
		ID:       id,
		JoinedAt: r.clk.Now(),
		Conns:    map[string]struct{}{connRef: {}},
	}
	r.applyMetaLocked(p, meta)
	r.pending[id] = p

	if r.flushTimer == nil {
		r.flushTimer = r.clk.AfterFunc(r.cfg.JoinFlush, r.flushJoins)
	}
}

// flushJoins moves the pending-join buffer into the observable roster.
func (r *Reconciler) flushJoins() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushTimer = nil
	if r.closed {
		return
	}
	now := r.clk.Now()
	for id, p := range r.pending {
		r.roster[id] = &tracked{p: p, lastSeen: now}
	}
	r.pending = make(map[string]*models.Participant)
}

// HandleLeave schedules removal of one connection reference after the defer
// window, absorbing reconnect flaps.
func (r *Reconciler) HandleLeave(connRef string, meta *Meta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	id := r.resolveLocked(connRef, meta)
	if id == "" {
		r.log.Debug("leave event with unresolvable identity", "conn", connRef)
		return
	}

	if t, ok := r.leaveTimers[id]; ok {
		t.Stop()
	}
	r.leaveTimers[id] = r.clk.AfterFunc(r.cfg.LeaveDefer, func() {
		r.deferredLeave(id, connRef)
	})
}

// deferredLeave fires after the leave-defer window. Suppression conditions are
// checked in order: recent join broadcast, fresh join timestamp, transitioning.
func (r *Reconciler) deferredLeave(id, connRef string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	delete(r.leaveTimers, id)

	now := r.clk.Now()

	if at, ok := r.recentJoins[id]; ok && now.Sub(at) < r.cfg.JoinRecency {
		r.log.Debug("leave suppressed: join broadcast within window", "user", id)
		return
	}

	tr, ok := r.roster[id]
	if !ok {
		delete(r.pending, id)
		delete(r.connIndex, connRef)
		return
	}

	if now.Sub(tr.p.JoinedAt) < r.cfg.JoinRecency {
		r.log.Debug("leave suppressed: stale leave racing fresh join", "user", id)
		return
	}

	if r.transitioningLocked(id, now) {
		r.log.Debug("leave suppressed: user transitioning", "user", id)
		return
	}

	delete(tr.p.Conns, connRef)
	delete(r.connIndex, connRef)

	if tr.p.Online() {
		return
	}

	// Connection set drained: surface the departure, but keep the entry until
	// a poll confirms absence past the grace window. Single-source removal is
	// forbidden to prevent flapping.
	if !tr.leftNoticed {
		tr.leftNoticed = true
		r.not.AddSystemMessage(models.NoticeLeft, fmt.Sprintf("%s left the room", r.displayLocked(tr.p)))
	}
}

// NoteJoinBroadcast records that a JOIN broadcast for id was observed, arming
// the false-leave suppression window.
func (r *Reconciler) NoteJoinBroadcast(id string) {
	r.mu.Lock()
	r.recentJoins[models.NormalizeID(id)] = r.clk.Now()
	r.mu.Unlock()
}

// MarkAllUsersAsTransitioning snapshots the roster into the transitioning set
// with a bounded expiry. Used when the host forces a lobby return, which
// resets realtime connections and would otherwise storm false "left" notices.
func (r *Reconciler) MarkAllUsersAsTransitioning() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clk.Now()
	r.transition = make(map[string]struct{}, len(r.roster))
	for id := range r.roster {
		r.transition[id] = struct{}{}
	}
	r.transUntil = now.Add(r.cfg.TransitionSpan)
	r.returnUntil = now.Add(r.cfg.TransitionSpan)
}

func (r *Reconciler) transitioningLocked(id string, now time.Time) bool {
	if now.After(r.transUntil) {
		return false
	}
	_, ok := r.transition[id]
	return ok
}

// PollParticipants reconciles the roster against persisted participant rows.
// This is the authoritative backstop: ghosts in the store are skipped while
// the channel is healthy, local-only entries are evicted only past their grace
// window, and the local user and host are never evicted here.
func (r *Reconciler) PollParticipants(ctx context.Context) error {
	rows, err := r.store.RoomParticipants(ctx, r.cfg.RoomID)
	if err != nil {
		return fmt.Errorf("poll participants: %w", err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	now := r.clk.Now()
	healthy := r.healthy()

	inStore := make(map[string]bool, len(rows))
	byName := make(map[string]*tracked, len(r.roster))
	for _, tr := range r.roster {
		if tr.p.Username != "" {
			byName[models.NormalizeID(tr.p.Username)] = tr
		}
	}

	hostSeen := false
	for _, row := range rows {
		id := models.NormalizeID(row.UserID)
		if row.IsHost {
			hostSeen = true
		}

		tr, ok := r.roster[id]
		if !ok {
			// Display-name fallback for rows persisted under a different key.
			if nameMatch, found := byName[models.NormalizeID(row.Username)]; found {
				tr, ok = nameMatch, true
				id = models.NormalizeID(tr.p.ID)
			}
		}
		inStore[id] = true

		if ok {
			if row.Username != "" {
				tr.p.Username = row.Username
			}
			tr.p.IsHost = tr.p.IsHost || row.IsHost
			tr.lastSeen = now
			continue
		}

		// Ghost row: persisted but not connected while the channel is fine.
		if healthy && !row.IsHost {
			r.log.Debug("skipping ghost participant row", "user", row.UserID)
			continue
		}

		r.roster[id] = &tracked{
			p: &models.Participant{
				ID:       row.UserID,
				Username: row.Username,
				IsHost:   row.IsHost,
				JoinedAt: row.JoinedAt,
				Conns:    make(map[string]struct{}),
			},
			lastSeen: now,
		}
	}

	grace := r.cfg.Grace
	if r.cfg.Broadcast {
		grace = r.cfg.BroadcastGrace
	}
	if now.Before(r.returnUntil) {
		grace += r.cfg.ReturnBonus
	}

	var evicted []*tracked
	for id, tr := range r.roster {
		if inStore[id] {
			continue
		}
		// Self and host are never evicted by the poll path, whatever the
		// store says.
		if models.SameID(id, r.cfg.SelfID) || tr.p.IsHost {
			continue
		}
		if r.transitioningLocked(id, now) {
			tr.p.JoinedAt = now
			tr.lastSeen = now
			continue
		}
		// A participant with live connections is never removed on the
		// store's word alone; their row may simply lag. Removal needs the
		// conn set drained and the store to agree.
		if tr.p.Online() {
			tr.lastSeen = now
			continue
		}
		if now.Sub(tr.lastSeen) <= grace {
			continue
		}
		delete(r.roster, id)
		for ref := range tr.p.Conns {
			delete(r.connIndex, ref)
		}
		evicted = append(evicted, tr)
	}

	selfHeal := !hostSeen && !r.leaving && (r.cfg.IsHost || models.SameID(r.cfg.SelfID, r.cfg.HostID))
	leaving := r.leaving
	r.mu.Unlock()

	for _, tr := range evicted {
		if !tr.leftNoticed {
			r.not.AddSystemMessage(models.NoticeLeft, fmt.Sprintf("%s left the room", r.display(tr.p)))
		}
	}

	// Host row vanished while we still own the room: re-insert it. A
	// foreign-key failure here means the room itself was deleted.
	if selfHeal && !leaving {
		err := r.store.JoinRoom(ctx, r.cfg.RoomID, r.cfg.SelfID, true)
		if err != nil {
			if errors.Is(err, models.ErrRoomDeleted) {
				r.log.Warn("self-heal re-join failed, room deleted", "room", r.cfg.RoomID)
				r.not.AddSystemMessage(models.NoticeRoomClosed, "The room no longer exists")
				if r.onRoomDeleted != nil {
					r.onRoomDeleted()
				}
				return nil
			}
			r.log.Warn("self-heal re-join failed", "error", err)
		}
	}

	return nil
}
