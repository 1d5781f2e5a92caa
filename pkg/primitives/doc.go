// Package primitives wraps the asymmetric and symmetric primitives used by
// cipherroom: RSA-OAEP identity keys, AES-256-GCM room keys and
// PBKDF2-derived key-encryption keys.
//
// # Key handles
//
// Keys are opaque handles. Raw material is only reachable through explicit
// export calls, and only on handles that were created extractable:
//
//   - SymmetricKey values from GenerateSymmetricKey and unwrap operations
//     are extractable so they can be wrapped again for another member.
//   - SymmetricKey values from DeriveKeyFromPassword are never extractable.
//   - ExtractablePrivateKey is what GenerateAsymmetricKeyPair returns. It can
//     be exported once (registration, backup) and then hardened.
//   - PrivateKey is the hardened form. It has no export method at all; the
//     only serialization is Seal, which encrypts it under a key-encryption
//     key for local persistence.
//
// # Parameters
//
//   - RSA: 2048-bit modulus, OAEP with SHA-256 (JWK alg "RSA-OAEP-256")
//   - AES: 256-bit keys, GCM with 96-bit random nonces (JWK alg "A256GCM")
//   - PBKDF2: HMAC-SHA256, 100,000 iterations, 32-byte output
//
// Every function fails with ErrCryptoUnavailable when the secure random
// source or a cipher cannot be used, and with ErrInvalidKeyMaterial when an
// imported key is malformed.
package primitives
