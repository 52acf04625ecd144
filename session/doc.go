// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package session is the orchestrator: it owns the canonical in-memory room
state, wires the presence reconciler, event router, polling fallback and
message timeline together, runs the periodic loops (store poll, participant
refresh, room-list refresh, heartbeat), and exposes a single immutable
Snapshot to the presentation layer.

In-memory reconciliation state does not survive a disconnect; a new session
rebuilds from the channel and the store.
*/
package session
