// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package playback holds the pieces shared by the two playback-start paths (the
realtime handshake and the polling fallback): the Player abstraction over the
media pipeline, the stream-hash idempotency Guard, and the visual Countdown.
*/
package playback
