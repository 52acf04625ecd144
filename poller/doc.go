// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package poller is the guest-only liveness fallback: a fixed-interval poll of
persisted room state, independent of the realtime channel. Every tick overlays
authoritative display metadata; a playback trigger additionally passes the
end-grace, idempotency, causality, staleness, and post-join safety guards, in
that order, and re-verifies the room immediately before committing.
*/
package poller
