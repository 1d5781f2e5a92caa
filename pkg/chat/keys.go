package chat

import (
	"github.com/i5heu/cipherroom/pkg/envelope"
	"github.com/i5heu/cipherroom/pkg/primitives"
)

// CreateRoomKey generates a fresh room key and its password envelope for
// the server to store.
func CreateRoomKey(password string) (*primitives.SymmetricKey, envelope.PasswordEnvelope, error) { // A
	key, err := primitives.GenerateSymmetricKey()
	if err != nil {
		return nil, envelope.PasswordEnvelope{}, err
	}
	env, err := envelope.NewPasswordEnvelope(key, password)
	if err != nil {
		return nil, envelope.PasswordEnvelope{}, err
	}
	return key, env, nil
}

// OpenWithPassword recovers the room key of an open room. A wrong password
// yields envelope.ErrInvalidPassword.
func OpenWithPassword(env envelope.PasswordEnvelope, password string) (*primitives.SymmetricKey, error) {
	return env.Open(password)
}

// Invite wraps key for another member's public key.
func Invite(key *primitives.SymmetricKey, username string, pub *primitives.PublicKey) (envelope.PublicKeyEnvelope, error) {
	return envelope.NewPublicKeyEnvelope(key, username, pub)
}

// OpenWithInvite recovers the room key from an invite addressed to priv's
// owner. A mismatched identity yields primitives.ErrUnwrapFailed.
func OpenWithInvite(env envelope.PublicKeyEnvelope, priv *primitives.PrivateKey) (*primitives.SymmetricKey, error) {
	return env.Open(priv)
}
