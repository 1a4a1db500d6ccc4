package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"kairo/internal/logging"
)

// BadgerConfig holds settings for the badger-backed store.
type BadgerConfig struct {
	Path       string
	InMemory   bool
	SyncWrites bool
	GCInterval time.Duration
}

// DefaultBadgerConfig returns production defaults for the given path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:       path,
		SyncWrites: true,
		GCInterval: 10 * time.Minute,
	}
}

// BadgerStore is the persistent Store implementation backed by BadgerDB.
// Badger's SSI transactions give us the optimistic conflict detection the
// cycle lock protocol depends on.
type BadgerStore struct {
	db     *badger.DB
	stopGC chan struct{}
	done   chan struct{}
}

// OpenBadger opens (or creates) a badger-backed store.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(badgerLogger{})
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}

	s := &BadgerStore{
		db:     db,
		stopGC: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.runGC(cfg.GCInterval)
	logging.Store("badger store opened at %q (inMemory=%v)", cfg.Path, cfg.InMemory)
	return s, nil
}

func (s *BadgerStore) runGC(interval time.Duration) {
	defer close(s.done)
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			// ErrNoRewrite just means nothing to collect.
			if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				logging.Get(logging.CategoryStore).Warn("value log GC: %v", err)
			}
		}
	}
}

type badgerTx struct {
	txn *badger.Txn
}

func (t *badgerTx) Get(key string, out interface{}) error {
	item, err := t.txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, out); err != nil {
			return fmt.Errorf("failed to decode %s: %w", key, err)
		}
		return nil
	})
}

func (t *badgerTx) Set(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := t.txn.Set([]byte(key), data); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (t *badgerTx) Delete(key string) error {
	if err := t.txn.Delete([]byte(key)); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Update runs fn in a serializable transaction. A commit-time race is
// reported as ErrConflict without retrying; the caller owns that decision.
func (s *BadgerStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn})
	})
	if errors.Is(err, badger.ErrConflict) {
		return ErrConflict
	}
	return err
}

// Get decodes a single document.
func (s *BadgerStore) Get(ctx context.Context, key string, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		return (&badgerTx{txn: txn}).Get(key, out)
	})
}

// Set writes a single document.
func (s *BadgerStore) Set(ctx context.Context, key string, value interface{}) error {
	return s.Update(ctx, func(tx Tx) error {
		return tx.Set(key, value)
	})
}

// Delete removes a single document.
func (s *BadgerStore) Delete(ctx context.Context, key string) error {
	return s.Update(ctx, func(tx Tx) error {
		return tx.Delete(key)
	})
}

// List scans documents under prefix, up to limit, optionally in
// descending key order.
func (s *BadgerStore) List(ctx context.Context, prefix string, limit int, reverse bool) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var entries []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.Reverse = reverse
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := []byte(prefix)
		if reverse {
			// Seek past the end of the prefix range for descending scans.
			seek = append(append([]byte{}, prefix...), 0xff)
		}
		for it.Seek(seek); it.ValidForPrefix([]byte(prefix)); it.Next() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("failed to copy value for %s: %w", item.Key(), err)
			}
			entries = append(entries, Entry{Key: string(item.KeyCopy(nil)), Value: val})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Close stops the GC loop and closes the database.
func (s *BadgerStore) Close() error {
	close(s.stopGC)
	<-s.done
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger store: %w", err)
	}
	return nil
}

// badgerLogger routes badger's internal logging into our store category.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	logging.Get(logging.CategoryStore).Error(format, args...)
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	logging.Get(logging.CategoryStore).Warn(format, args...)
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	logging.StoreDebug(format, args...)
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	logging.StoreDebug(format, args...)
}
