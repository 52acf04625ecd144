// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package statusapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/danielhkuo/watchlobby/session"
)

// NewHandler serves the read-only local status surface: session snapshot,
// roster, timeline, and the public room list. Local tooling only; the real
// presentation layer observes the session directly.
func NewHandler(s *session.Session) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	r.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, s.Snapshot())
	}).Methods(http.MethodGet)

	r.HandleFunc("/roster", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, s.Snapshot().Roster)
	}).Methods(http.MethodGet)

	r.HandleFunc("/timeline", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, s.Snapshot().Timeline)
	}).Methods(http.MethodGet)

	r.HandleFunc("/rooms", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, s.Snapshot().PublicRooms)
	}).Methods(http.MethodGet)

	return cors.Default().Handler(r)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}
