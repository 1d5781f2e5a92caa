package primitives

import "errors"

// Availability errors indicate the platform cannot perform cryptography.
var (
	// ErrCryptoUnavailable indicates the secure random source or a cipher
	// primitive is missing or failing. It is never retried.
	ErrCryptoUnavailable = errors.New("crypto primitives unavailable")
)

// Key material errors are caller-correctable.
var (
	// ErrInvalidKeyMaterial indicates an imported or supplied key is
	// malformed, has the wrong size or the wrong algorithm.
	ErrInvalidKeyMaterial = errors.New("invalid key material")

	// ErrKeyNotExtractable indicates an export was attempted on a key
	// handle that does not allow it.
	ErrKeyNotExtractable = errors.New("key is not extractable")

	// ErrInvalidKeyUsage indicates the key handle does not permit the
	// requested operation.
	ErrInvalidKeyUsage = errors.New("key usage not permitted")
)

// Decryption errors are isolated to the operation that produced them.
var (
	// ErrDecryptionFailed indicates an authentication tag mismatch. For
	// password wraps this is the only signal of a wrong password.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrUnwrapFailed indicates a public-key wrapped key could not be
	// recovered with the supplied private key.
	ErrUnwrapFailed = errors.New("key unwrap failed")
)
