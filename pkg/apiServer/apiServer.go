// Package apiServer exposes the persistence collaborator over HTTP: user
// registration and login, public key lookup, room creation, the password
// and invite envelopes, and the websocket relay under /ws.
//
// The server only ever stores and returns opaque envelopes. Room keys and
// private keys never reach it in plaintext.
package apiServer

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/i5heu/cipherroom/pkg/model"
)

const maxBodyBytes = 1 << 20

// Store is the persistence the API needs. *roomStore.Store implements it.
type Store interface {
	CreateUser(ctx context.Context, in model.NewUser) (model.User, error)
	FindUserByUsername(ctx context.Context, username string) (*model.User, error)
	VerifyUserPassword(ctx context.Context, username, password string) (*model.User, error)
	CreateRoom(ctx context.Context, in model.NewRoom) (model.Room, error)
	FindRoom(ctx context.Context, id string) (*model.Room, error)
	VerifyRoomPassword(ctx context.Context, id, password string) (*model.Room, error)
	UpsertParticipant(ctx context.Context, p model.Participant) error
	CreateInvite(ctx context.Context, p model.Participant) error
	FindParticipant(ctx context.Context, roomID, username string) (*model.Participant, error)
}

type Server struct {
	mux   *http.ServeMux
	store Store
	relay http.Handler
	log   *slog.Logger
	auth  AuthFunc
}

func New(store Store, opts ...Option) *Server { // A
	s := &Server{
		mux:   http.NewServeMux(),
		store: store,
		log:   slog.Default(),
		auth:  defaultAuth,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.routes()
	return s
}

func (s *Server) routes() { // A
	s.mux.HandleFunc("POST /users", s.handleRegister)
	s.mux.HandleFunc("POST /login", s.handleLogin)
	s.mux.HandleFunc("GET /users/{username}/publicKey", s.handlePublicKey)
	s.mux.HandleFunc("POST /rooms", s.handleCreateRoom)
	s.mux.HandleFunc("GET /rooms/{id}", s.handleGetRoom)
	s.mux.HandleFunc("POST /rooms/{id}/join", s.handleJoinRoom)
	s.mux.HandleFunc("POST /rooms/{id}/invites", s.handleCreateInvite)
	s.mux.HandleFunc("GET /rooms/{id}/invites/{username}", s.handleGetInvite)
	if s.relay != nil {
		s.mux.Handle("GET /ws", s.relay)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // A
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = "*"
	} else {
		w.Header().Set("Vary", "Origin")
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")
	// preflight responses are cacheable for 24 hours
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := s.auth(r); err != nil {
		s.log.Warn("authentication failed", "path", r.URL.Path, "error", err)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	if r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	}
	s.mux.ServeHTTP(w, r)
}
