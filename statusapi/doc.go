// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package statusapi exposes a read-only local HTTP surface over the running
session: snapshot, roster, timeline and public room list as JSON. It exists
for local tooling and debugging; it is not the presentation layer.
*/
package statusapi
