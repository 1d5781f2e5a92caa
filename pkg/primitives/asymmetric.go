package primitives

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
)

// RSAKeyBits is the modulus size of identity keys.
const RSAKeyBits = 2048

// PublicKey is the shareable half of an identity key pair.
type PublicKey struct {
	key *rsa.PublicKey
}

// ExtractablePrivateKey is a freshly generated private key that can still
// be exported. Call Harden once the portable form has been taken.
type ExtractablePrivateKey struct {
	key *rsa.PrivateKey
}

// PrivateKey is a hardened private key handle. It can decrypt and unwrap
// but never hands out its material in plaintext.
type PrivateKey struct {
	key *rsa.PrivateKey
}

// GenerateAsymmetricKeyPair creates a 2048-bit RSA-OAEP (SHA-256) identity
// key pair.
func GenerateAsymmetricKeyPair() (*PublicKey, *ExtractablePrivateKey, error) { // A
	priv, err := rsa.GenerateKey(randomReader(), RSAKeyBits)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: generate rsa key: %v", ErrCryptoUnavailable, err)
	}
	return &PublicKey{key: &priv.PublicKey}, &ExtractablePrivateKey{key: priv}, nil
}

func checkRSAPublic(pub *rsa.PublicKey) error {
	if pub == nil || pub.N == nil || pub.E == 0 {
		return fmt.Errorf("%w: empty rsa key", ErrInvalidKeyMaterial)
	}
	if pub.N.BitLen() < RSAKeyBits {
		return fmt.Errorf(
			"%w: rsa modulus %d bits, need at least %d",
			ErrInvalidKeyMaterial, pub.N.BitLen(), RSAKeyBits,
		)
	}
	return nil
}

// Encrypt encrypts a small payload with RSA-OAEP SHA-256.
func (p *PublicKey) Encrypt(msg []byte) ([]byte, error) { // A
	ct, err := rsa.EncryptOAEP(sha256.New(), randomReader(), p.key, msg, nil)
	if err != nil {
		if errors.Is(err, rsa.ErrMessageTooLong) {
			return nil, fmt.Errorf("rsa encrypt: %w", err)
		}
		return nil, fmt.Errorf("%w: rsa encrypt: %v", ErrCryptoUnavailable, err)
	}
	return ct, nil
}

// WrapKey wraps the raw material of an extractable symmetric key.
func (p *PublicKey) WrapKey(key *SymmetricKey) ([]byte, error) { // A
	raw, err := key.Export()
	if err != nil {
		return nil, err
	}
	return p.Encrypt(raw)
}

// Equal reports whether both handles hold the same public key.
func (p *PublicKey) Equal(other *PublicKey) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.key.Equal(other.key)
}

// Public returns the matching public key.
func (k *ExtractablePrivateKey) Public() *PublicKey {
	return &PublicKey{key: &k.key.PublicKey}
}

// Harden returns a non-extractable handle over the same key.
func (k *ExtractablePrivateKey) Harden() *PrivateKey {
	return &PrivateKey{key: k.key}
}

// Public returns the matching public key.
func (k *PrivateKey) Public() *PublicKey {
	return &PublicKey{key: &k.key.PublicKey}
}

// Decrypt reverses PublicKey.Encrypt.
func (k *PrivateKey) Decrypt(ciphertext []byte) ([]byte, error) { // A
	pt, err := rsa.DecryptOAEP(sha256.New(), nil, k.key, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return pt, nil
}

// UnwrapKey reverses PublicKey.WrapKey. A key pair mismatch yields
// ErrUnwrapFailed.
func (k *PrivateKey) UnwrapKey(wrapped []byte) (*SymmetricKey, error) { // A
	raw, err := rsa.DecryptOAEP(sha256.New(), nil, k.key, wrapped, nil)
	if err != nil {
		return nil, ErrUnwrapFailed
	}
	key, err := ImportRawSymmetricKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnwrapFailed, err)
	}
	return key, nil
}

// Seal encrypts the private key under kek. This is the only serialization
// of a hardened key.
func (k *PrivateKey) Seal(kek *SymmetricKey) (iv []byte, ciphertext []byte, err error) { // A
	if !kek.Allows(UsageWrapKey) {
		return nil, nil, fmt.Errorf("%w: wrapKey", ErrInvalidKeyUsage)
	}
	der, err := x509.MarshalPKCS8PrivateKey(k.key)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: marshal pkcs8: %v", ErrInvalidKeyMaterial, err)
	}
	return kek.seal(der)
}

// OpenSealedPrivateKey reverses PrivateKey.Seal and returns a hardened key.
func OpenSealedPrivateKey(kek *SymmetricKey, iv, ciphertext []byte) (*PrivateKey, error) { // A
	if !kek.Allows(UsageUnwrapKey) {
		return nil, fmt.Errorf("%w: unwrapKey", ErrInvalidKeyUsage)
	}
	der, err := kek.open(iv, ciphertext)
	if err != nil {
		return nil, err
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: parse pkcs8: %v", ErrInvalidKeyMaterial, err)
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an rsa key", ErrInvalidKeyMaterial)
	}
	return &PrivateKey{key: priv}, nil
}
