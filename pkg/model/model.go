// Package model holds the records exchanged with the persistence
// collaborator. Secrets never appear here in plaintext: rooms carry only
// the salt and the wrapped key, users only their public key and an
// encrypted backup.
package model

import (
	"errors"
	"fmt"
	"time"
)

// Lookup and conflict errors returned by stores.
var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrUserExists          = errors.New("username already taken")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidRoomPassword = errors.New("invalid room password")
	ErrInviteExists        = errors.New("invite already exists")
)

// User is a registered account with its public identity key.
type User struct {
	ID               string    `json:"id"`
	Username         string    `json:"username"`
	PasswordHash     string    `json:"-"`
	PublicKey        string    `json:"publicKey"`
	BackupSalt       string    `json:"backupSalt,omitempty"`
	BackupCiphertext string    `json:"backupCiphertext,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Room is one chat room. Salt and WrappedKey form its password envelope.
type Room struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	CreatorUsername string    `json:"creatorUsername"`
	PasswordHash    string    `json:"-"`
	Salt            string    `json:"salt"`
	WrappedKey      string    `json:"wrappedKey"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Participant records room membership and, for invitees, the room key
// wrapped for their public key.
type Participant struct {
	RoomID            string    `json:"roomId"`
	UserID            string    `json:"userId"`
	Username          string    `json:"username"`
	WrappedKeyForUser string    `json:"wrappedKeyForUser,omitempty"`
	JoinedAt          time.Time `json:"joinedAt"`
}

// StoredMessage is a persisted message envelope. The server never sees
// more than IV and ciphertext.
type StoredMessage struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	IV        []byte    `json:"iv"`
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"timestamp"`
}

// NewUser is the input of a registration.
type NewUser struct {
	Username         string
	Password         string
	PublicKey        string
	BackupSalt       string
	BackupCiphertext string
}

// Validate checks the required fields.
func (u NewUser) Validate() error {
	switch {
	case u.Username == "":
		return errors.New("username is required")
	case len(u.Username) > 64:
		return fmt.Errorf("username longer than 64 characters")
	case u.Password == "":
		return errors.New("password is required")
	case u.PublicKey == "":
		return errors.New("public key is required")
	case (u.BackupSalt == "") != (u.BackupCiphertext == ""):
		return errors.New("backup needs both salt and ciphertext")
	}
	return nil
}

// NewRoom is the input of room creation. ID is generated when empty.
type NewRoom struct {
	ID              string
	Name            string
	CreatorUsername string
	Password        string
	Salt            string
	WrappedKey      string
}

// Validate checks the required fields.
func (r NewRoom) Validate() error {
	switch {
	case r.Name == "":
		return errors.New("room name is required")
	case r.CreatorUsername == "":
		return errors.New("creator username is required")
	case r.Password == "":
		return errors.New("room password is required")
	case r.Salt == "":
		return errors.New("salt is required")
	case r.WrappedKey == "":
		return errors.New("wrapped key is required")
	}
	return nil
}
