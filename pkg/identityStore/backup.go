package identityStore

import (
	"errors"
	"fmt"

	"github.com/i5heu/cipherroom/pkg/envelope"
	"github.com/i5heu/cipherroom/pkg/primitives"
)

// Backup is the password-encrypted identity kept server-side for recovery
// on a new device.
type Backup struct {
	Salt       string `json:"salt"`
	Ciphertext string `json:"ciphertext"`
}

// Empty reports whether no backup was provided.
func (b Backup) Empty() bool { return b.Salt == "" && b.Ciphertext == "" }

// BuildEncryptedBackup encrypts the private key's portable form under the
// user's login password.
func BuildEncryptedBackup(privateKeyJWK string, password string) (Backup, error) { // A
	if privateKeyJWK == "" {
		return Backup{}, errors.New("identityStore: private key must not be empty")
	}
	salt, err := envelope.NewSalt()
	if err != nil {
		return Backup{}, err
	}
	ct, err := envelope.WrapBytesWithPassword([]byte(privateKeyJWK), password, salt)
	if err != nil {
		return Backup{}, fmt.Errorf("identityStore: build backup: %w", err)
	}
	return Backup{Salt: envelope.EncodeSalt(salt), Ciphertext: ct}, nil
}

// RestoreFromBackup decrypts a backup and imports it as a hardened key. A
// wrong password yields envelope.ErrInvalidPassword.
func RestoreFromBackup(b Backup, password string) (*primitives.PrivateKey, error) { // A
	salt, err := envelope.DecodeSalt(b.Salt)
	if err != nil {
		return nil, err
	}
	jwk, err := envelope.UnwrapBytesWithPassword(b.Ciphertext, password, salt)
	if err != nil {
		return nil, err
	}
	return primitives.ImportPrivateJWK(jwk)
}
