// Package server wires HTTP handlers into a gorilla/mux router for the
// groupchat application.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Routes returns the router serving health checks, the group API, the
// WebSocket endpoint and the test page.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/test", s.handleTestPage).Methods(http.MethodGet)

	// The handler answers non-GET upgrades itself.
	r.HandleFunc("/ws", s.handleWebSocket)

	// Registered on the root router, not a /api subrouter: a method
	// mismatch inside a subrouter is reported as 404 instead of 405.
	r.HandleFunc("/api/groups", s.handleListGroups).Methods(http.MethodGet)
	r.HandleFunc("/api/groups/{id}/messages", s.handleGroupMessages).Methods(http.MethodGet)

	return r
}
