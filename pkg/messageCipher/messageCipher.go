// Package messageCipher encrypts individual chat payloads with a room key.
//
// Every call to Encrypt draws a fresh 96-bit IV; IV and ciphertext are
// returned as plain byte slices so the transport can ship them as number
// arrays. The cipher only sees UTF-8 bytes; the {text, senderNickname}
// payload convention lives in payload.go.
package messageCipher

import (
	"fmt"

	"github.com/i5heu/cipherroom/pkg/primitives"
)

// IVSize is the per-message nonce length.
const IVSize = primitives.NonceSize

// Sealed is one encrypted message as it travels over the relay.
type Sealed struct {
	IV   []byte
	Data []byte
}

// Encrypt seals plaintext under roomKey with a fresh random IV.
func Encrypt(plaintext string, roomKey *primitives.SymmetricKey) (Sealed, error) { // A
	iv, data, err := primitives.EncryptAESGCM(roomKey, []byte(plaintext))
	if err != nil {
		return Sealed{}, fmt.Errorf("messageCipher: encrypt: %w", err)
	}
	return Sealed{IV: iv, Data: data}, nil
}

// Decrypt reverses Encrypt. Tampered data, a corrupted IV or the wrong key
// all yield primitives.ErrDecryptionFailed.
func Decrypt(iv, data []byte, roomKey *primitives.SymmetricKey) (string, error) { // A
	plaintext, err := primitives.DecryptAESGCM(roomKey, iv, data)
	if err != nil {
		return "", fmt.Errorf("messageCipher: decrypt: %w", err)
	}
	return string(plaintext), nil
}
