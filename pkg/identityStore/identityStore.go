// Package identityStore keeps the device's identity private key in a local
// badger database. At most one identity lives in a store. The key is kept
// in sealed form under a device key and is handed back only as a hardened
// primitives.PrivateKey.
//
// The device secret is stored in the same directory as the sealed key, so
// anyone who can read the directory can open the key. Sealing keeps raw key
// material out of the value log; protection at rest comes from the 0700
// directory permissions.
package identityStore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/i5heu/cipherroom/internal/keyValStore"
	"github.com/i5heu/cipherroom/pkg/primitives"
)

var (
	privateKeyKey   = []byte("identity/private-key")
	deviceSecretKey = []byte("identity/device-secret")
)

const deviceSecretSize = 32

// Config configures the local store.
type Config struct {
	// Path is the badger directory. Ignored when InMemory is set.
	Path string
	// InMemory keeps everything in memory; used by tests.
	InMemory bool
	// MinimumFreeSpace in GB refuses to open on a fuller disk. Zero
	// disables the check.
	MinimumFreeSpace int
	// Logger receives badger's internal logs. Defaults to warnings on stderr.
	Logger *logrus.Logger
}

// Store is the device-local identity store.
type Store struct {
	kv *keyValStore.KeyValStore

	deviceOnce sync.Once
	deviceKey  *primitives.SymmetricKey
	deviceErr  error
}

// Open opens or creates the store.
func Open(cfg Config) (*Store, error) { // A
	kv, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{
		Path:             cfg.Path,
		InMemory:         cfg.InMemory,
		MinimumFreeSpace: cfg.MinimumFreeSpace,
		Logger:           cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("identityStore: %w", err)
	}
	return &Store{kv: kv}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.kv.Close()
}

// device returns the key that seals the identity at rest. The secret is
// created on first use and lives only in this store.
func (s *Store) device() (*primitives.SymmetricKey, error) {
	s.deviceOnce.Do(func() {
		secret, err := s.kv.ReadOrCreate(deviceSecretKey, func() ([]byte, error) {
			return primitives.RandomBytes(deviceSecretSize * 2)
		})
		if err != nil {
			s.deviceErr = fmt.Errorf("identityStore: device key: %w", err)
			return
		}
		if len(secret) != deviceSecretSize*2 {
			s.deviceErr = fmt.Errorf("identityStore: %w: device secret has %d bytes",
				primitives.ErrInvalidKeyMaterial, len(secret))
			return
		}
		s.deviceKey, s.deviceErr = primitives.DeriveKeyFromPassword(
			string(secret[:deviceSecretSize]), secret[deviceSecretSize:],
		)
	})
	return s.deviceKey, s.deviceErr
}

// PersistPrivateKey stores priv as the single identity of this device,
// replacing any previous one.
func (s *Store) PersistPrivateKey(priv *primitives.PrivateKey) error { // A
	if priv == nil {
		return errors.New("identityStore: private key must not be nil")
	}
	dev, err := s.device()
	if err != nil {
		return err
	}
	iv, ct, err := priv.Seal(dev)
	if err != nil {
		return fmt.Errorf("identityStore: seal private key: %w", err)
	}
	blob := make([]byte, 0, len(iv)+len(ct))
	blob = append(blob, iv...)
	blob = append(blob, ct...)

	return s.kv.Write(privateKeyKey, blob)
}

// LoadPrivateKey returns the stored identity, or nil if none was persisted.
func (s *Store) LoadPrivateKey() (*primitives.PrivateKey, error) { // A
	blob, err := s.kv.Read(privateKeyKey)
	if errors.Is(err, keyValStore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("identityStore: read private key: %w", err)
	}
	if len(blob) <= primitives.NonceSize {
		return nil, fmt.Errorf("identityStore: %w: stored key too short", primitives.ErrInvalidKeyMaterial)
	}
	dev, err := s.device()
	if err != nil {
		return nil, err
	}
	priv, err := primitives.OpenSealedPrivateKey(dev, blob[:primitives.NonceSize], blob[primitives.NonceSize:])
	if err != nil {
		return nil, fmt.Errorf("identityStore: open private key: %w", err)
	}
	return priv, nil
}

// Forget removes the stored identity. The device key is kept.
func (s *Store) Forget() error { // A
	return s.kv.Delete(privateKeyKey)
}
