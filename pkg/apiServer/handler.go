package apiServer

import (
	"errors"
	"net/http"

	"github.com/i5heu/cipherroom/pkg/envelope"
	"github.com/i5heu/cipherroom/pkg/identityStore"
	"github.com/i5heu/cipherroom/pkg/model"
	"github.com/i5heu/cipherroom/pkg/primitives"
)

// msgInvalidPassword is what a client shows for a wrong room password.
const msgInvalidPassword = "invalid password"

func (s *Server) internalError(w http.ResponseWriter, msg string, err error) {
	s.log.Error(msg, "error", err)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) { // A
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := primitives.ImportPublicJWK([]byte(req.PublicKey)); err != nil {
		http.Error(w, "invalid public key", http.StatusBadRequest)
		return
	}

	in := model.NewUser{
		Username:  req.Username,
		Password:  req.Password,
		PublicKey: req.PublicKey,
	}
	if req.Backup != nil {
		in.BackupSalt = req.Backup.Salt
		in.BackupCiphertext = req.Backup.Ciphertext
	}
	if err := in.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := s.store.CreateUser(r.Context(), in)
	if errors.Is(err, model.ErrUserExists) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		s.internalError(w, "failed to create user", err)
		return
	}

	s.log.Info("user registered", "user", user.Username)
	writeJSON(w, http.StatusCreated, userResponse{ID: user.ID, Username: user.Username, PublicKey: user.PublicKey})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) { // A
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := s.store.VerifyUserPassword(r.Context(), req.Username, req.Password)
	if errors.Is(err, model.ErrInvalidCredentials) {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	if err != nil {
		s.internalError(w, "failed to verify login", err)
		return
	}

	resp := loginResponse{userResponse: userResponse{ID: user.ID, Username: user.Username, PublicKey: user.PublicKey}}
	if user.BackupCiphertext != "" {
		resp.Backup = &identityStore.Backup{Salt: user.BackupSalt, Ciphertext: user.BackupCiphertext}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePublicKey(w http.ResponseWriter, r *http.Request) { // A
	user, err := s.store.FindUserByUsername(r.Context(), r.PathValue("username"))
	if err != nil {
		s.internalError(w, "failed to find user", err)
		return
	}
	if user == nil {
		http.Error(w, model.ErrUserNotFound.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{ID: user.ID, Username: user.Username, PublicKey: user.PublicKey})
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) { // A
	var req createRoomRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	env := envelope.PasswordEnvelope{Salt: req.Salt, WrappedKey: req.WrappedKey}
	if err := env.Validate(); err != nil {
		http.Error(w, "invalid room key envelope", http.StatusBadRequest)
		return
	}

	creator, err := s.store.FindUserByUsername(r.Context(), req.CreatorUsername)
	if err != nil {
		s.internalError(w, "failed to find creator", err)
		return
	}
	if creator == nil {
		http.Error(w, model.ErrUserNotFound.Error(), http.StatusNotFound)
		return
	}

	in := model.NewRoom{
		Name:            req.Name,
		CreatorUsername: creator.Username,
		Password:        req.Password,
		Salt:            req.Salt,
		WrappedKey:      req.WrappedKey,
	}
	if err := in.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	room, err := s.store.CreateRoom(r.Context(), in)
	if err != nil {
		s.internalError(w, "failed to create room", err)
		return
	}
	if err := s.store.UpsertParticipant(r.Context(), model.Participant{
		RoomID: room.ID, UserID: creator.ID, Username: creator.Username,
	}); err != nil {
		s.internalError(w, "failed to record creator", err)
		return
	}

	s.log.Info("room created", "room", room.ID, "user", creator.Username)
	writeJSON(w, http.StatusCreated, infoOf(room))
}

func infoOf(r model.Room) roomInfo {
	return roomInfo{ID: r.ID, Name: r.Name, CreatorUsername: r.CreatorUsername, CreatedAt: r.CreatedAt}
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) { // A
	room, err := s.store.FindRoom(r.Context(), r.PathValue("id"))
	if err != nil {
		s.internalError(w, "failed to find room", err)
		return
	}
	if room == nil {
		http.Error(w, model.ErrRoomNotFound.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, infoOf(*room))
}

// handleJoinRoom hands out the password envelope once the room password
// checks out. The client unwraps it locally.
func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) { // A
	var req joinRoomRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	room, err := s.store.VerifyRoomPassword(ctx, r.PathValue("id"), req.Password)
	switch {
	case errors.Is(err, model.ErrRoomNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, model.ErrInvalidRoomPassword):
		http.Error(w, msgInvalidPassword, http.StatusUnauthorized)
		return
	case err != nil:
		s.internalError(w, "failed to verify room password", err)
		return
	}

	user, err := s.store.FindUserByUsername(ctx, req.Username)
	if err != nil {
		s.internalError(w, "failed to find user", err)
		return
	}
	if user == nil {
		http.Error(w, model.ErrUserNotFound.Error(), http.StatusNotFound)
		return
	}
	if err := s.store.UpsertParticipant(ctx, model.Participant{
		RoomID: room.ID, UserID: user.ID, Username: user.Username,
	}); err != nil {
		s.internalError(w, "failed to record participant", err)
		return
	}

	writeJSON(w, http.StatusOK, envelope.PasswordEnvelope{Salt: room.Salt, WrappedKey: room.WrappedKey})
}

func (s *Server) handleCreateInvite(w http.ResponseWriter, r *http.Request) { // A
	var req createInviteRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.RoomPassword == "" || req.Username == "" || req.WrappedKey == "" {
		http.Error(w, "roomPassword, username and wrappedKey are required", http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	room, err := s.store.VerifyRoomPassword(ctx, r.PathValue("id"), req.RoomPassword)
	switch {
	case errors.Is(err, model.ErrRoomNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, model.ErrInvalidRoomPassword):
		http.Error(w, msgInvalidPassword, http.StatusUnauthorized)
		return
	case err != nil:
		s.internalError(w, "failed to verify room password", err)
		return
	}
	invitee, err := s.store.FindUserByUsername(ctx, req.Username)
	if err != nil {
		s.internalError(w, "failed to find invitee", err)
		return
	}
	if invitee == nil {
		http.Error(w, model.ErrUserNotFound.Error(), http.StatusNotFound)
		return
	}

	err = s.store.CreateInvite(ctx, model.Participant{
		RoomID:            room.ID,
		UserID:            invitee.ID,
		Username:          invitee.Username,
		WrappedKeyForUser: req.WrappedKey,
	})
	if errors.Is(err, model.ErrInviteExists) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		s.internalError(w, "failed to store invite", err)
		return
	}

	s.log.Info("invite stored", "room", room.ID, "user", invitee.Username)
	writeJSON(w, http.StatusCreated, envelope.PublicKeyEnvelope{
		RecipientUsername: invitee.Username,
		WrappedKey:        req.WrappedKey,
	})
}

func (s *Server) handleGetInvite(w http.ResponseWriter, r *http.Request) { // A
	p, err := s.store.FindParticipant(r.Context(), r.PathValue("id"), r.PathValue("username"))
	if errors.Is(err, model.ErrParticipantNotFound) {
		http.Error(w, "invite not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.internalError(w, "failed to find participant", err)
		return
	}
	if p.WrappedKeyForUser == "" {
		http.Error(w, "invite not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, envelope.PublicKeyEnvelope{
		RecipientUsername: p.Username,
		WrappedKey:        p.WrappedKeyForUser,
	})
}
