// Package store provides the document store used by KAIRO. Documents are
// JSON values addressed by slash-separated keys ("cycles/<id>",
// "stances/<cycleId>_<actor>", ...). Writers use serializable transactions;
// concurrent conflicting updates surface as ErrConflict so callers can
// decide whether to retry or treat the loss as someone else winning a race.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned when a transaction lost a write race.
	ErrConflict = errors.New("transaction conflict")
	// ErrClosed is returned when the store has been closed.
	ErrClosed = errors.New("store closed")
)

// Tx is a read-write transaction. Reads observe a consistent snapshot;
// writes become visible atomically on commit.
type Tx interface {
	// Get decodes the document at key into out. Returns ErrNotFound if
	// the document does not exist.
	Get(key string, out interface{}) error
	// Set encodes value as JSON and stages it at key.
	Set(key string, value interface{}) error
	// Delete stages removal of the document at key.
	Delete(key string) error
}

// Entry is one document returned by a prefix scan.
type Entry struct {
	Key   string
	Value []byte
}

// Store is the document store interface. Both the badger-backed store and
// the in-memory store implement it.
type Store interface {
	// Get decodes a single document outside any transaction.
	Get(ctx context.Context, key string, out interface{}) error
	// Set writes a single document in its own transaction.
	Set(ctx context.Context, key string, value interface{}) error
	// Delete removes a single document.
	Delete(ctx context.Context, key string) error
	// Update runs fn in a serializable read-write transaction. If the
	// commit races with another writer the whole call returns ErrConflict
	// and nothing is applied.
	Update(ctx context.Context, fn func(tx Tx) error) error
	// List returns up to limit documents with the given key prefix.
	// When reverse is true the scan runs in descending key order.
	List(ctx context.Context, prefix string, limit int, reverse bool) ([]Entry, error)
	// Close releases the store.
	Close() error
}
