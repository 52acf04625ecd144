// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package channel is the realtime presence/broadcast collaborator: join/leave
presence events plus sync-message push over a websocket. The channel is
assumed unreliable: frames may be duplicated, dropped, or reordered, and the
reconcilers layered above compensate. The JSON frame codec here is the only
place the wire shape exists.
*/
package channel
