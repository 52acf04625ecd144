// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package router consumes inbound synchronization messages and dispatches them:
typed events (room-closed, return-to-lobby) first, then decoded lobby
commands, then plain chat.

It also owns both sides of the playback-start handshake: the host announces a
countdown, publishes stream metadata, waits for guest readiness reports, and
commits with PLAYBACK_STARTED; a guest pre-resolves on PREPARE_PLAYBACK and
starts playback only on PLAYBACK_STARTED, never from the countdown alone.
*/
package router
