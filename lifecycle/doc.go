// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package lifecycle models the lobby session state machine:

	initializing -> connecting -> connected -> waitingForReady ->
	startingCountdown -> transitioning -> closed/error

Transitions are validated against a closed table; error and closed are
reachable from any state. Every transition is timestamped into a bounded
history buffer for diagnostics.
*/
package lifecycle
