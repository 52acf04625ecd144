// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package store is the relational-store collaborator: CRUD over rooms,
participant rows and playlists on database/sql, Postgres (lib/pq) in
production and in-memory sqlite in tests. It also carries the
Postgres LISTEN/NOTIFY listener that surfaces room UPDATE/DELETE row changes
to the session.
*/
package store
