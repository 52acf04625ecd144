// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import "errors"

// ErrRoomDeleted reports that a store write failed because the room row no
// longer exists (surfaced by the store as a foreign-key violation). The
// presence self-heal path treats it as "the room was deleted" and ends the
// session.
var ErrRoomDeleted = errors.New("room no longer exists")
