// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package testutil provides shared test helpers: an in-memory sqlite database
carrying the production schema, in-process fakes for the presence channel,
the persisted store and the player, and mock-clock helpers.
*/
package testutil
