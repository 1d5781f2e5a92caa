// Package envelope wraps room keys for storage and transit.
//
// A room key is wrapped two ways. The password wrap derives a
// key-encryption key from the room password and a per-room salt, encrypts
// the raw room key with AES-GCM and encodes base64(IV || ciphertext). The
// public-key wrap encrypts the raw room key with the invitee's RSA-OAEP key
// and encodes base64(ciphertext). Both encodings are opaque strings at rest
// and on the wire.
package envelope

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/i5heu/cipherroom/pkg/primitives"
)

// SaltSize is the PBKDF2 salt length in bytes.
const SaltSize = 16

// ErrInvalidPassword is returned when a password wrap fails its
// authentication check. It also matches primitives.ErrDecryptionFailed.
var ErrInvalidPassword = errors.New("invalid password")

// NewSalt returns a fresh random 128-bit salt.
func NewSalt() ([]byte, error) { // A
	return primitives.RandomBytes(SaltSize)
}

// EncodeSalt and DecodeSalt use standard base64 like the wrapped keys.
func EncodeSalt(salt []byte) string { return base64.StdEncoding.EncodeToString(salt) }

func DecodeSalt(s string) ([]byte, error) {
	salt, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: salt: %v", primitives.ErrInvalidKeyMaterial, err)
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("%w: empty salt", primitives.ErrInvalidKeyMaterial)
	}
	return salt, nil
}

func joinIV(iv, ct []byte) string {
	out := make([]byte, 0, len(iv)+len(ct))
	out = append(out, iv...)
	out = append(out, ct...)
	return base64.StdEncoding.EncodeToString(out)
}

func splitIV(wrapped string) (iv, ct []byte, err error) {
	raw, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: wrapped key: %v", primitives.ErrInvalidKeyMaterial, err)
	}
	if len(raw) <= primitives.NonceSize {
		return nil, nil, fmt.Errorf("%w: wrapped key too short", primitives.ErrInvalidKeyMaterial)
	}
	return raw[:primitives.NonceSize], raw[primitives.NonceSize:], nil
}

func invalidPassword(err error) error {
	if errors.Is(err, primitives.ErrDecryptionFailed) {
		return fmt.Errorf("%w: %w", ErrInvalidPassword, primitives.ErrDecryptionFailed)
	}
	return err
}

// WrapRoomKeyWithPassword derives a KEK from password and salt and returns
// base64(IV || AES-GCM(rawRoomKey)).
func WrapRoomKeyWithPassword(roomKey *primitives.SymmetricKey, password string, salt []byte) (string, error) { // A
	kek, err := primitives.DeriveKeyFromPassword(password, salt)
	if err != nil {
		return "", err
	}
	iv, ct, err := primitives.WrapKey(kek, roomKey)
	if err != nil {
		return "", fmt.Errorf("envelope: wrap room key: %w", err)
	}
	return joinIV(iv, ct), nil
}

// UnwrapRoomKeyWithPassword reverses WrapRoomKeyWithPassword. A wrong
// password surfaces as ErrInvalidPassword.
func UnwrapRoomKeyWithPassword(wrapped string, password string, salt []byte) (*primitives.SymmetricKey, error) { // A
	iv, ct, err := splitIV(wrapped)
	if err != nil {
		return nil, err
	}
	kek, err := primitives.DeriveKeyFromPassword(password, salt)
	if err != nil {
		return nil, err
	}
	key, err := primitives.UnwrapKey(kek, iv, ct)
	if err != nil {
		return nil, invalidPassword(err)
	}
	return key, nil
}

// WrapRoomKeyWithPublicKey returns base64 of the RSA-OAEP wrap of the raw
// room key.
func WrapRoomKeyWithPublicKey(roomKey *primitives.SymmetricKey, recipient *primitives.PublicKey) (string, error) { // A
	wrapped, err := recipient.WrapKey(roomKey)
	if err != nil {
		return "", fmt.Errorf("envelope: wrap for recipient: %w", err)
	}
	return base64.StdEncoding.EncodeToString(wrapped), nil
}

// UnwrapRoomKeyWithPrivateKey reverses WrapRoomKeyWithPublicKey. A key pair
// mismatch surfaces as primitives.ErrUnwrapFailed.
func UnwrapRoomKeyWithPrivateKey(wrapped string, recipient *primitives.PrivateKey) (*primitives.SymmetricKey, error) { // A
	raw, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return nil, fmt.Errorf("%w: wrapped key: %v", primitives.ErrUnwrapFailed, err)
	}
	return recipient.UnwrapKey(raw)
}

// WrapBytesWithPassword is the password wrap generalized to any payload.
func WrapBytesWithPassword(payload []byte, password string, salt []byte) (string, error) { // A
	kek, err := primitives.DeriveKeyFromPassword(password, salt)
	if err != nil {
		return "", err
	}
	iv, ct, err := primitives.EncryptAESGCM(kek, payload)
	if err != nil {
		return "", fmt.Errorf("envelope: wrap bytes: %w", err)
	}
	return joinIV(iv, ct), nil
}

// UnwrapBytesWithPassword reverses WrapBytesWithPassword.
func UnwrapBytesWithPassword(wrapped string, password string, salt []byte) ([]byte, error) { // A
	iv, ct, err := splitIV(wrapped)
	if err != nil {
		return nil, err
	}
	kek, err := primitives.DeriveKeyFromPassword(password, salt)
	if err != nil {
		return nil, err
	}
	payload, err := primitives.DecryptAESGCM(kek, iv, ct)
	if err != nil {
		return nil, invalidPassword(err)
	}
	return payload, nil
}
