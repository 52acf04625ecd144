// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

// VoteSet tracks voter identities per playlist item. A voter holds at most one
// active vote across the whole playlist: casting a new vote retracts the
// voter's prior vote elsewhere.
type VoteSet map[string]map[string]struct{}

// Cast records voterID's vote for itemID, retracting any prior vote first.
// Returns false if the vote was already in place.
func (v VoteSet) Cast(itemID, voterID string) bool {
	voter := NormalizeID(voterID)
	if _, ok := v[itemID][voter]; ok {
		return false
	}
	v.Retract(voterID)
	if v[itemID] == nil {
		v[itemID] = make(map[string]struct{})
	}
	v[itemID][voter] = struct{}{}
	return true
}

// Retract removes voterID's vote wherever it is. Returns the item the vote was
// removed from, or "" if the voter had no active vote.
func (v VoteSet) Retract(voterID string) string {
	voter := NormalizeID(voterID)
	for itemID, voters := range v {
		if _, ok := voters[voter]; ok {
			delete(voters, voter)
			if len(voters) == 0 {
				delete(v, itemID)
			}
			return itemID
		}
	}
	return ""
}

// VotedItem returns the item voterID currently votes for, or "".
func (v VoteSet) VotedItem(voterID string) string {
	voter := NormalizeID(voterID)
	for itemID, voters := range v {
		if _, ok := voters[voter]; ok {
			return itemID
		}
	}
	return ""
}

// Count returns the number of votes on itemID.
func (v VoteSet) Count(itemID string) int {
	return len(v[itemID])
}

// Tally returns vote counts per item id.
func (v VoteSet) Tally() map[string]int {
	out := make(map[string]int, len(v))
	for itemID, voters := range v {
		out[itemID] = len(voters)
	}
	return out
}

// Clone returns a deep copy, for snapshots handed to observers.
func (v VoteSet) Clone() VoteSet {
	out := make(VoteSet, len(v))
	for itemID, voters := range v {
		c := make(map[string]struct{}, len(voters))
		for voter := range voters {
			c[voter] = struct{}{}
		}
		out[itemID] = c
	}
	return out
}
