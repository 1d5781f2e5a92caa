package primitives

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"fmt"
)

const (
	// SymmetricKeySize is the AES-256 key length in bytes.
	SymmetricKeySize = 32
	// NonceSize is the AES-GCM nonce length in bytes (96 bits).
	NonceSize = 12
)

// KeyUsage is a bit set of operations a key handle permits.
type KeyUsage uint8

const (
	UsageEncrypt KeyUsage = 1 << iota
	UsageDecrypt
	UsageWrapKey
	UsageUnwrapKey
)

const (
	usageMessage = UsageEncrypt | UsageDecrypt
	usageKEK     = UsageEncrypt | UsageDecrypt | UsageWrapKey | UsageUnwrapKey
)

// SymmetricKey is an AES-256-GCM key handle. It is immutable and safe for
// concurrent use.
type SymmetricKey struct {
	raw         []byte
	extractable bool
	usages      KeyUsage
}

// GenerateSymmetricKey returns a fresh extractable AES-256-GCM key usable
// for message encryption.
func GenerateSymmetricKey() (*SymmetricKey, error) { // A
	raw, err := RandomBytes(SymmetricKeySize)
	if err != nil {
		return nil, err
	}
	return &SymmetricKey{raw: raw, extractable: true, usages: usageMessage}, nil
}

// ImportRawSymmetricKey wraps 32 raw bytes into an extractable message key.
func ImportRawSymmetricKey(raw []byte) (*SymmetricKey, error) { // A
	if len(raw) != SymmetricKeySize {
		return nil, fmt.Errorf(
			"%w: symmetric key must be %d bytes, got %d",
			ErrInvalidKeyMaterial, SymmetricKeySize, len(raw),
		)
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return &SymmetricKey{raw: cp, extractable: true, usages: usageMessage}, nil
}

// Extractable reports whether Export may be called.
func (k *SymmetricKey) Extractable() bool { return k.extractable }

// Allows reports whether every usage in u is permitted.
func (k *SymmetricKey) Allows(u KeyUsage) bool { return k.usages&u == u }

// Export returns a copy of the raw key bytes.
func (k *SymmetricKey) Export() ([]byte, error) { // A
	if !k.extractable {
		return nil, ErrKeyNotExtractable
	}
	cp := make([]byte, len(k.raw))
	copy(cp, k.raw)
	return cp, nil
}

// Equal compares key material in constant time.
func (k *SymmetricKey) Equal(other *SymmetricKey) bool {
	if k == nil || other == nil {
		return k == other
	}
	return subtle.ConstantTimeCompare(k.raw, other.raw) == 1
}

func (k *SymmetricKey) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(k.raw)
	if err != nil {
		return nil, fmt.Errorf("%w: aes: %v", ErrCryptoUnavailable, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: gcm: %v", ErrCryptoUnavailable, err)
	}
	return gcm, nil
}

func (k *SymmetricKey) seal(plaintext []byte) (iv []byte, ciphertext []byte, err error) {
	gcm, err := k.aead()
	if err != nil {
		return nil, nil, err
	}
	iv, err = RandomBytes(NonceSize)
	if err != nil {
		return nil, nil, err
	}
	return iv, gcm.Seal(nil, iv, plaintext, nil), nil
}

func (k *SymmetricKey) open(iv, ciphertext []byte) ([]byte, error) {
	if len(iv) != NonceSize {
		return nil, fmt.Errorf(
			"%w: nonce must be %d bytes, got %d",
			ErrDecryptionFailed, NonceSize, len(iv),
		)
	}
	gcm, err := k.aead()
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// EncryptAESGCM encrypts plaintext under key with a fresh random nonce.
func EncryptAESGCM(key *SymmetricKey, plaintext []byte) (iv []byte, ciphertext []byte, err error) { // A
	if !key.Allows(UsageEncrypt) {
		return nil, nil, fmt.Errorf("%w: encrypt", ErrInvalidKeyUsage)
	}
	return key.seal(plaintext)
}

// DecryptAESGCM reverses EncryptAESGCM. Any tag or nonce failure yields
// ErrDecryptionFailed.
func DecryptAESGCM(key *SymmetricKey, iv, ciphertext []byte) ([]byte, error) { // A
	if !key.Allows(UsageDecrypt) {
		return nil, fmt.Errorf("%w: decrypt", ErrInvalidKeyUsage)
	}
	return key.open(iv, ciphertext)
}

// WrapKey encrypts the raw material of key under kek.
func WrapKey(kek *SymmetricKey, key *SymmetricKey) (iv []byte, ciphertext []byte, err error) { // A
	if !kek.Allows(UsageWrapKey) {
		return nil, nil, fmt.Errorf("%w: wrapKey", ErrInvalidKeyUsage)
	}
	raw, err := key.Export()
	if err != nil {
		return nil, nil, err
	}
	return kek.seal(raw)
}

// UnwrapKey recovers a key wrapped by WrapKey. The result is an extractable
// message key.
func UnwrapKey(kek *SymmetricKey, iv, ciphertext []byte) (*SymmetricKey, error) { // A
	if !kek.Allows(UsageUnwrapKey) {
		return nil, fmt.Errorf("%w: unwrapKey", ErrInvalidKeyUsage)
	}
	raw, err := kek.open(iv, ciphertext)
	if err != nil {
		return nil, err
	}
	return ImportRawSymmetricKey(raw)
}
