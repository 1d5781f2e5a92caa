package apiServer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

type AuthFunc func(req *http.Request) error

type Option func(*Server)

// defaultAuth admits every request. Room access is gated by the room
// password and the invite envelopes, not by the transport.
func defaultAuth(*http.Request) error { return nil }

func writeJSON(w http.ResponseWriter, status int, payload any) { // A
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Default().Error("failed to encode response", "error", err)
	}
}

func decodeJSON(r *http.Request, into any) error { // A
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func WithLogger(logger *slog.Logger) Option { // A
	return func(s *Server) {
		if logger != nil {
			s.log = logger
		}
	}
}

func WithAuth(auth AuthFunc) Option { // A
	return func(s *Server) {
		if auth != nil {
			s.auth = auth
		}
	}
}

// WithRelay mounts the websocket relay at GET /ws.
func WithRelay(h http.Handler) Option { // A
	return func(s *Server) {
		s.relay = h
	}
}
