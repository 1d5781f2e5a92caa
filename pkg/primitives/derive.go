package primitives

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2Iterations is fixed so a KEK can always be re-derived later.
const PBKDF2Iterations = 100_000

// DeriveKeyFromPassword derives a non-extractable AES-256-GCM
// key-encryption key with PBKDF2-HMAC-SHA256. Same password and salt always
// give the same key.
func DeriveKeyFromPassword(password string, salt []byte) (*SymmetricKey, error) { // A
	if len(salt) == 0 {
		return nil, fmt.Errorf("%w: empty salt", ErrInvalidKeyMaterial)
	}
	raw := pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, SymmetricKeySize, sha256.New)
	return &SymmetricKey{raw: raw, extractable: false, usages: usageKEK}, nil
}
