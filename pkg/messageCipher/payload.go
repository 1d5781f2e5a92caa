package messageCipher

import (
	"encoding/json"
	"fmt"

	"github.com/i5heu/cipherroom/pkg/primitives"
)

// Payload is the plaintext carried inside every message.
type Payload struct {
	Text           string `json:"text"`
	SenderNickname string `json:"senderNickname"`
}

// SealPayload serializes p and encrypts it.
func SealPayload(p Payload, roomKey *primitives.SymmetricKey) (Sealed, error) { // A
	buf, err := json.Marshal(p)
	if err != nil {
		return Sealed{}, fmt.Errorf("messageCipher: marshal payload: %w", err)
	}
	return Encrypt(string(buf), roomKey)
}

// OpenPayload decrypts and parses a payload. A payload that decrypts but is
// not valid JSON is reported as a decryption failure too, since the sender
// was not following the convention.
func OpenPayload(iv, data []byte, roomKey *primitives.SymmetricKey) (Payload, error) { // A
	plaintext, err := Decrypt(iv, data, roomKey)
	if err != nil {
		return Payload{}, err
	}
	var p Payload
	if err := json.Unmarshal([]byte(plaintext), &p); err != nil {
		return Payload{}, fmt.Errorf("messageCipher: %w: payload: %v", primitives.ErrDecryptionFailed, err)
	}
	return p, nil
}
