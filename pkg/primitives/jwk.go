package primitives

import (
	"crypto/rsa"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
)

const (
	// AlgRSAOAEP256 is the JWK "alg" of identity keys.
	AlgRSAOAEP256 = "RSA-OAEP-256"
	// AlgA256GCM is the JWK "alg" of symmetric keys.
	AlgA256GCM = "A256GCM"

	useEncryption = "enc"
)

// ExportJWK returns the public key as a JSON Web Key.
func (p *PublicKey) ExportJWK() ([]byte, error) { // A
	jwk := jose.JSONWebKey{Key: p.key, Algorithm: AlgRSAOAEP256, Use: useEncryption}
	out, err := jwk.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("%w: marshal jwk: %v", ErrInvalidKeyMaterial, err)
	}
	return out, nil
}

// ExportJWK returns the private key as a JSON Web Key. It is only available
// before Harden.
func (k *ExtractablePrivateKey) ExportJWK() ([]byte, error) { // A
	jwk := jose.JSONWebKey{Key: k.key, Algorithm: AlgRSAOAEP256, Use: useEncryption}
	out, err := jwk.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("%w: marshal jwk: %v", ErrInvalidKeyMaterial, err)
	}
	return out, nil
}

// ExportJWK returns an extractable symmetric key as an "oct" JSON Web Key.
func (k *SymmetricKey) ExportJWK() ([]byte, error) { // A
	raw, err := k.Export()
	if err != nil {
		return nil, err
	}
	jwk := jose.JSONWebKey{Key: raw, Algorithm: AlgA256GCM, Use: useEncryption}
	out, err := jwk.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("%w: marshal jwk: %v", ErrInvalidKeyMaterial, err)
	}
	return out, nil
}

func parseJWK(data []byte, wantAlg string) (jose.JSONWebKey, error) {
	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON(data); err != nil {
		return jose.JSONWebKey{}, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}
	if jwk.Algorithm != "" && jwk.Algorithm != wantAlg {
		return jose.JSONWebKey{}, fmt.Errorf(
			"%w: alg %q, want %q", ErrInvalidKeyMaterial, jwk.Algorithm, wantAlg,
		)
	}
	return jwk, nil
}

// ImportPublicJWK parses an RSA public JSON Web Key.
func ImportPublicJWK(data []byte) (*PublicKey, error) { // A
	jwk, err := parseJWK(data, AlgRSAOAEP256)
	if err != nil {
		return nil, err
	}
	pub, ok := jwk.Key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: expected rsa public key, got %T", ErrInvalidKeyMaterial, jwk.Key)
	}
	if err := checkRSAPublic(pub); err != nil {
		return nil, err
	}
	return &PublicKey{key: pub}, nil
}

// ImportPrivateJWK parses an RSA private JSON Web Key into a hardened
// handle. The returned key can never be exported again.
func ImportPrivateJWK(data []byte) (*PrivateKey, error) { // A
	jwk, err := parseJWK(data, AlgRSAOAEP256)
	if err != nil {
		return nil, err
	}
	priv, ok := jwk.Key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: expected rsa private key, got %T", ErrInvalidKeyMaterial, jwk.Key)
	}
	if err := priv.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}
	if err := checkRSAPublic(&priv.PublicKey); err != nil {
		return nil, err
	}
	return &PrivateKey{key: priv}, nil
}

// ImportSymmetricJWK parses an "oct" JSON Web Key into an extractable
// message key.
func ImportSymmetricJWK(data []byte) (*SymmetricKey, error) { // A
	jwk, err := parseJWK(data, AlgA256GCM)
	if err != nil {
		return nil, err
	}
	raw, ok := jwk.Key.([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: expected oct key, got %T", ErrInvalidKeyMaterial, jwk.Key)
	}
	return ImportRawSymmetricKey(raw)
}
