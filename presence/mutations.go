// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package presence

import (
	"fmt"
	"sort"

	"github.com/danielhkuo/watchlobby/models"
)

// resolveLocked finds the stable identity behind a presence event: event
// metadata when present, otherwise a known connection reference.
func (r *Reconciler) resolveLocked(connRef string, meta *Meta) string {
	if meta != nil && meta.UserID != "" {
		return models.NormalizeID(meta.UserID)
	}
	if id, ok := r.connIndex[connRef]; ok {
		return id
	}
	return ""
}

func (r *Reconciler) applyMetaLocked(p *models.Participant, meta *Meta) {
	if meta == nil {
		return
	}
	if meta.UserID != "" {
		p.ID = meta.UserID
	}
	if meta.Username != "" {
		p.Username = meta.Username
	}
	p.IsHost = p.IsHost || meta.IsHost
	p.IsPremium = p.IsPremium || meta.Premium
	if meta.PremiumUntil != nil {
		p.PremiumUntil = meta.PremiumUntil
	}
}

func (r *Reconciler) display(p *models.Participant) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.displayLocked(p)
}

func (r *Reconciler) displayLocked(p *models.Participant) string {
	if p.Username != "" {
		return p.Username
	}
	return p.ID
}

// SetReady flips the local ready flag optimistically, posts a notice, and
// broadcasts the command.
func (r *Reconciler) SetReady(ready bool) {
	r.mu.Lock()
	self := models.NormalizeID(r.cfg.SelfID)
	if tr, ok := r.roster[self]; ok {
		tr.p.IsReady = ready
	}
	r.mu.Unlock()

	wire, notice, text := models.WireReady, models.NoticeReady, "You are ready"
	if !ready {
		wire, notice, text = models.WireUnready, models.NoticeUnready, "You are not ready"
	}
	r.not.AddSystemMessage(notice, text)
	if err := r.send(wire); err != nil {
		r.log.Warn("ready broadcast failed", "error", err)
	}
}

// CastVote votes for a playlist item, retracting any prior vote first
// (single-vote invariant), then broadcasts.
func (r *Reconciler) CastVote(itemID string) {
	r.mu.Lock()
	changed := r.votes.Cast(itemID, r.cfg.SelfID)
	r.mu.Unlock()
	if !changed {
		return
	}

	r.not.AddSystemMessage(models.NoticeVote, fmt.Sprintf("You voted for %s", itemID))
	if err := r.send(models.EncodeVote(itemID)); err != nil {
		r.log.Warn("vote broadcast failed", "error", err)
	}
}

// RetractVote withdraws the local user's active vote, if any, then broadcasts.
func (r *Reconciler) RetractVote() {
	r.mu.Lock()
	itemID := r.votes.Retract(r.cfg.SelfID)
	r.mu.Unlock()
	if itemID == "" {
		return
	}

	r.not.AddSystemMessage(models.NoticeVote, fmt.Sprintf("You removed your vote for %s", itemID))
	if err := r.send(models.EncodeUnvote(itemID)); err != nil {
		r.log.Warn("unvote broadcast failed", "error", err)
	}
}

// Kick removes a participant locally and broadcasts the kick. Host only;
// non-hosts are a no-op.
func (r *Reconciler) Kick(targetID string) {
	if !r.cfg.IsHost {
		return
	}

	r.mu.Lock()
	id := models.NormalizeID(targetID)
	tr, ok := r.roster[id]
	var name string
	if ok {
		name = r.displayLocked(tr.p)
		delete(r.roster, id)
		for ref := range tr.p.Conns {
			delete(r.connIndex, ref)
		}
		r.votes.Retract(id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	r.not.AddSystemMessage(models.NoticeKicked, fmt.Sprintf("%s was kicked", name))
	if err := r.send(models.EncodeKick(targetID)); err != nil {
		r.log.Warn("kick broadcast failed", "error", err)
	}
}

// SetMuted toggles a local-only mute for a participant; muted senders are
// filtered out of the incoming chat path.
func (r *Reconciler) SetMuted(id string, muted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	nid := models.NormalizeID(id)
	if muted {
		r.muted[nid] = true
	} else {
		delete(r.muted, nid)
	}
	if tr, ok := r.roster[nid]; ok {
		tr.p.IsMuted = muted
	}
}

// BlockedIDs returns the normalized ids of muted participants.
func (r *Reconciler) BlockedIDs() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]bool, len(r.muted))
	for id := range r.muted {
		out[id] = true
	}
	return out
}

// ApplyJoin idempotently upserts a remote participant into the roster,
// bypassing the debounce buffer (the sender announced itself explicitly).
// Returns true if the identity was not yet tracked.
func (r *Reconciler) ApplyJoin(meta *Meta) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := models.NormalizeID(meta.UserID)
	if id == "" {
		return false
	}

	if t, ok := r.leaveTimers[id]; ok {
		t.Stop()
		delete(r.leaveTimers, id)
	}

	if tr, ok := r.roster[id]; ok {
		r.applyMetaLocked(tr.p, meta)
		tr.lastSeen = r.clk.Now()
		tr.leftNoticed = false
		return false
	}
	if p, ok := r.pending[id]; ok {
		r.applyMetaLocked(p, meta)
		delete(r.pending, id)
		r.roster[id] = &tracked{p: p, lastSeen: r.clk.Now()}
		return false
	}

	p := &models.Participant{
		ID:       meta.UserID,
		JoinedAt: r.clk.Now(),
		Conns:    make(map[string]struct{}),
	}
	r.applyMetaLocked(p, meta)
	r.roster[id] = &tracked{p: p, lastSeen: r.clk.Now()}
	return true
}

// ApplyReady records a remote ready/unready.
func (r *Reconciler) ApplyReady(id string, ready bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tr, ok := r.roster[models.NormalizeID(id)]; ok {
		tr.p.IsReady = ready
	}
}

// ApplyVote records a remote vote under the single-vote invariant.
func (r *Reconciler) ApplyVote(voterID, itemID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.votes.Cast(itemID, voterID)
}

// ApplyUnvote retracts a remote voter's active vote. Returns the item it was
// retracted from, or "".
func (r *Reconciler) ApplyUnvote(voterID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.votes.Retract(voterID)
}

// ApplyKick removes a remote-kicked participant from the roster.
func (r *Reconciler) ApplyKick(targetID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := models.NormalizeID(targetID)
	if tr, ok := r.roster[id]; ok {
		delete(r.roster, id)
		for ref := range tr.p.Conns {
			delete(r.connIndex, ref)
		}
	}
	r.votes.Retract(id)
}

// Participant returns a copy of the tracked participant, if present.
func (r *Reconciler) Participant(id string) (models.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tr, ok := r.roster[models.NormalizeID(id)]
	if !ok {
		return models.Participant{}, false
	}
	return copyParticipant(tr.p), true
}

// Roster returns a copy of the visible roster, sorted by join time.
func (r *Reconciler) Roster() []models.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Participant, 0, len(r.roster))
	for _, tr := range r.roster {
		out = append(out, copyParticipant(tr.p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out
}

// Votes returns a deep copy of the vote map.
func (r *Reconciler) Votes() models.VoteSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.votes.Clone()
}

// VotedItem returns the item the given voter currently votes for.
func (r *Reconciler) VotedItem(voterID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.votes.VotedItem(voterID)
}

func copyParticipant(p *models.Participant) models.Participant {
	c := *p
	c.Conns = make(map[string]struct{}, len(p.Conns))
	for ref := range p.Conns {
		c.Conns[ref] = struct{}{}
	}
	return c
}
