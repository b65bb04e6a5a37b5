// Package store is the device-local persistence layer: credentials and
// wrapped data-encryption keys live here between launches. Values are sealed
// at rest under a store key stretched from the device passphrase, so the
// on-disk database never holds plaintext secrets.
package store

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/denysvitali/happy-flutter-sub000/internal/crypto"
)

var ErrNotFound = errors.New("store: key not found")

// Local is the minimal surface the rest of the core needs from device
// storage.
type Local interface {
	Put(key string, value []byte) error
	Get(key string) ([]byte, error)
	Delete(key string) error
	// DeletePrefix removes every key under prefix in one transaction.
	DeletePrefix(prefix string) error
	// Scan calls fn for each key/value under prefix. Values are decrypted.
	Scan(prefix string, fn func(key string, value []byte) error) error
	Close() error
}

type Config struct {
	Path   string
	Logger *zap.Logger

	// StoreKey seals values at rest. Derive with crypto.StretchPassphrase.
	StoreKey [32]byte
}

type badgerStore struct {
	db     *badger.DB
	key    [32]byte
	logger *zap.Logger
}

func Open(cfg Config) (Local, error) {
	if cfg.Path == "" {
		return nil, errors.New("store: path required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	opts := badger.DefaultOptions(cfg.Path)
	opts.Logger = nil
	opts.SyncWrites = true
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", cfg.Path, err)
	}
	return &badgerStore{db: db, key: cfg.StoreKey, logger: cfg.Logger}, nil
}

func (s *badgerStore) Put(key string, value []byte) error {
	sealed, err := crypto.SealWith(s.key[:], value, []byte("store:"+key))
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), sealed)
	})
}

func (s *badgerStore) Get(key string) ([]byte, error) {
	var sealed []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		sealed, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	value, err := crypto.OpenWith(s.key[:], sealed, []byte("store:"+key))
	if err != nil {
		// at-rest corruption reads as absence, the caller re-syncs
		s.logger.Warn("store: discarding undecryptable record", zap.String("key", key))
		return nil, ErrNotFound
	}
	return value, nil
}

func (s *badgerStore) Delete(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (s *badgerStore) DeletePrefix(prefix string) error {
	return s.db.DropPrefix([]byte(prefix))
}

func (s *badgerStore) Scan(prefix string, fn func(key string, value []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			sealed, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			value, err := crypto.OpenWith(s.key[:], sealed, []byte("store:"+key))
			if err != nil {
				s.logger.Warn("store: skipping undecryptable record", zap.String("key", key))
				continue
			}
			if err := fn(key, value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *badgerStore) Close() error {
	crypto.Zero32(&s.key)
	return s.db.Close()
}
