package envelope

import (
	"fmt"

	"github.com/i5heu/cipherroom/pkg/primitives"
)

// PasswordEnvelope is the room key wrapped under the room password. There
// is exactly one per room and it never changes.
type PasswordEnvelope struct {
	Salt       string `json:"salt"`
	WrappedKey string `json:"wrappedKey"`
}

// PublicKeyEnvelope is the room key wrapped for one invitee.
type PublicKeyEnvelope struct {
	RecipientUsername string `json:"recipientUsername"`
	WrappedKey        string `json:"wrappedKey"`
}

// NewPasswordEnvelope picks a fresh salt and wraps roomKey under password.
func NewPasswordEnvelope(roomKey *primitives.SymmetricKey, password string) (PasswordEnvelope, error) { // A
	salt, err := NewSalt()
	if err != nil {
		return PasswordEnvelope{}, err
	}
	wrapped, err := WrapRoomKeyWithPassword(roomKey, password, salt)
	if err != nil {
		return PasswordEnvelope{}, err
	}
	return PasswordEnvelope{Salt: EncodeSalt(salt), WrappedKey: wrapped}, nil
}

// Open recovers the room key. A wrong password yields ErrInvalidPassword.
func (e PasswordEnvelope) Open(password string) (*primitives.SymmetricKey, error) { // A
	salt, err := DecodeSalt(e.Salt)
	if err != nil {
		return nil, err
	}
	return UnwrapRoomKeyWithPassword(e.WrappedKey, password, salt)
}

// Validate checks both fields are present and decodable.
func (e PasswordEnvelope) Validate() error {
	if _, err := DecodeSalt(e.Salt); err != nil {
		return err
	}
	if _, _, err := splitIV(e.WrappedKey); err != nil {
		return err
	}
	return nil
}

// NewPublicKeyEnvelope wraps roomKey for recipient.
func NewPublicKeyEnvelope(roomKey *primitives.SymmetricKey, recipient string, pub *primitives.PublicKey) (PublicKeyEnvelope, error) { // A
	if recipient == "" {
		return PublicKeyEnvelope{}, fmt.Errorf("envelope: recipient username is required")
	}
	wrapped, err := WrapRoomKeyWithPublicKey(roomKey, pub)
	if err != nil {
		return PublicKeyEnvelope{}, err
	}
	return PublicKeyEnvelope{RecipientUsername: recipient, WrappedKey: wrapped}, nil
}

// Open recovers the room key with the invitee's hardened private key.
func (e PublicKeyEnvelope) Open(priv *primitives.PrivateKey) (*primitives.SymmetricKey, error) { // A
	return UnwrapRoomKeyWithPrivateKey(e.WrappedKey, priv)
}
