// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package presence owns the participant roster and reconciles it from two
independently failing sources: the realtime presence channel and the persisted
participant rows.

Join events are debounced through a pending buffer; leave events fire through
a deferred timer and pass three suppression checks (recent join broadcast,
fresh join timestamp, transitioning mode) before touching the roster. A roster
entry is evicted only when its connection-reference set is empty and a store
poll confirms absence past the grace window. Removal never happens on the
word of a single source.
*/
package presence
