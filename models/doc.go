// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package models defines the shared domain types for the lobby coordination
engine: participants, rooms, the sync-message envelope, the unified chat/notice
timeline entry, and the decoded lobby command vocabulary.

The legacy LOBBY_* string wire format is confined to ParseCommand and the
Encode helpers; everything else in the repository dispatches on CommandKind.
*/
package models
