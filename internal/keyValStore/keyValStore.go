// Package keyValStore is a small badger wrapper for device-local state.
package keyValStore

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned by Read for a missing key.
var ErrNotFound = errors.New("keyValStore: key not found")

type StoreConfig struct {
	Path             string // badger directory, ignored when InMemory is set
	InMemory         bool
	MinimumFreeSpace int // in GB, 0 disables the check
	Logger           *logrus.Logger
}

type KeyValStore struct {
	config       StoreConfig
	badgerDB     *badger.DB
	log          *logrus.Logger
	readCounter  uint64
	writeCounter uint64
}

func NewKeyValStore(config StoreConfig) (*KeyValStore, error) { // A
	if config.Logger == nil {
		config.Logger = logrus.New()
		config.Logger.SetLevel(logrus.WarnLevel)
	}

	err := config.checkConfig()
	if err != nil {
		return nil, fmt.Errorf("error checking config for KeyValStore: %w", err)
	}

	opts := badger.DefaultOptions(config.Path)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(config.Logger)
	opts.ValueLogFileSize = 1024 * 1024 * 16
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("error opening badger: %w", err)
	}

	config.Logger.WithFields(logrus.Fields{
		"path":     config.Path,
		"inMemory": config.InMemory,
	}).Debug("key value store opened")

	return &KeyValStore{
		config:   config,
		badgerDB: db,
		log:      config.Logger,
	}, nil
}

func (k *KeyValStore) Write(key []byte, value []byte) error { // A
	atomic.AddUint64(&k.writeCounter, 1)
	return k.badgerDB.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (k *KeyValStore) Read(key []byte) ([]byte, error) { // A
	atomic.AddUint64(&k.readCounter, 1)
	var value []byte
	err := k.badgerDB.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error reading key %q: %w", key, err)
	}
	return value, nil
}

// ReadOrCreate returns the value under key. When the key is missing, create
// supplies a value which is stored in the same transaction.
func (k *KeyValStore) ReadOrCreate(key []byte, create func() ([]byte, error)) ([]byte, error) { // A
	atomic.AddUint64(&k.readCounter, 1)
	var value []byte
	err := k.badgerDB.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == nil {
			value, err = item.ValueCopy(nil)
			return err
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		value, err = create()
		if err != nil {
			return err
		}
		atomic.AddUint64(&k.writeCounter, 1)
		return txn.Set(key, value)
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (k *KeyValStore) Delete(key []byte) error { // A
	atomic.AddUint64(&k.writeCounter, 1)
	return k.badgerDB.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// Counters returns the number of reads and writes since open.
func (k *KeyValStore) Counters() (reads, writes uint64) { // A
	return atomic.LoadUint64(&k.readCounter), atomic.LoadUint64(&k.writeCounter)
}

func (k *KeyValStore) Close() error { // A
	if err := k.Clean(); err != nil {
		k.log.WithError(err).Warn("clean before close failed")
	}
	reads, writes := k.Counters()
	k.log.WithFields(logrus.Fields{
		"path":   k.config.Path,
		"reads":  reads,
		"writes": writes,
	}).Debug("key value store closed")
	return k.badgerDB.Close()
}

func (k *KeyValStore) Clean() error { // A
	if k.config.InMemory {
		return nil
	}
	err := k.badgerDB.Sync()
	if err != nil {
		return fmt.Errorf("error syncing db: %w", err)
	}

	err = k.badgerDB.RunValueLogGC(0.5)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return fmt.Errorf("error cleaning db: %w", err)
	}
	return nil
}
