package apiServer

import (
	"time"

	"github.com/i5heu/cipherroom/pkg/identityStore"
)

type registerRequest struct {
	Username  string                `json:"username"`
	Password  string                `json:"password"`
	PublicKey string                `json:"publicKey"`
	Backup    *identityStore.Backup `json:"backup,omitempty"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	PublicKey string `json:"publicKey"`
}

type loginResponse struct {
	userResponse
	Backup *identityStore.Backup `json:"backup,omitempty"`
}

type createRoomRequest struct {
	Name            string `json:"name"`
	CreatorUsername string `json:"creatorUsername"`
	Password        string `json:"password"`
	Salt            string `json:"salt"`
	WrappedKey      string `json:"wrappedKey"`
}

// roomInfo is the public view of a room; it leaves out the envelope.
type roomInfo struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	CreatorUsername string    `json:"creatorUsername"`
	CreatedAt       time.Time `json:"createdAt"`
}

type joinRoomRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// createInviteRequest proves knowledge of the room password; the invite
// itself is the room key wrapped for Username's public key.
type createInviteRequest struct {
	RoomPassword string `json:"roomPassword"`
	Username     string `json:"username"`
	WrappedKey   string `json:"wrappedKey"`
}
