// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package main provides the entry point for the watchlobby daemon.

Watchlobby is the lobby coordination engine of a social watch-party client:
multiple users watch the same media in lockstep, coordinated through a
realtime push/presence channel plus a persisted relational store. The engine
reconciles those two independently failing sources of truth (duplicate and
reordered presence events on one side, slow authoritative rows on the other)
into one consistent local view, and drives the host-to-guest playback-start
handshake.

# Starting the Daemon

The daemon requires environment variables or CLI flags for configuration:

	CHANNEL_URL=wss://... DATABASE_URL=postgres://... ROOM_ID=r1 USER_ID=u1 go run .

Or with flags:

	go run . -c wss://... -d "postgres://..." -r r1 -u u1 -host

# Configuration

Required settings:

  - CHANNEL_URL (-c): realtime channel websocket URL
  - DATABASE_URL (-d): PostgreSQL connection string
  - ROOM_ID (-r): room to join
  - USER_ID (-u): local user identity

Optional settings:

  - USERNAME (-n): display name (defaults to the user ID)
  - IS_HOST (-host): run as the room host
  - STATUS_PORT (-status-port): local read-only status API port

# Architecture

The session orchestrator owns all shared state. Inbound realtime events flow
through the presence reconciler and the event router; a guest-side poller
overlays authoritative store state on a fixed cadence and doubles as the
playback-start fallback when the channel degrades. Chat and commands flow out
through the message timeline's injected sender.
*/
package main
