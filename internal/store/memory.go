package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store used in tests and for ephemeral runs.
// Transactions take a global lock, so they are trivially serializable;
// ErrConflict never occurs here.
type MemoryStore struct {
	mu     sync.Mutex
	docs   map[string][]byte
	closed bool
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

type memoryTx struct {
	store   *MemoryStore
	writes  map[string][]byte
	deletes map[string]bool
}

func (t *memoryTx) Get(key string, out interface{}) error {
	if t.deletes[key] {
		return ErrNotFound
	}
	data, ok := t.writes[key]
	if !ok {
		data, ok = t.store.docs[key]
	}
	if !ok {
		return ErrNotFound
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

func (t *memoryTx) Set(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	delete(t.deletes, key)
	t.writes[key] = data
	return nil
}

func (t *memoryTx) Delete(key string) error {
	delete(t.writes, key)
	t.deletes[key] = true
	return nil
}

// Update runs fn under the store lock and applies staged writes on success.
func (s *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tx := &memoryTx{
		store:   s,
		writes:  make(map[string][]byte),
		deletes: make(map[string]bool),
	}
	if err := fn(tx); err != nil {
		return err
	}
	for k := range tx.deletes {
		delete(s.docs, k)
	}
	for k, v := range tx.writes {
		s.docs[k] = v
	}
	return nil
}

// Get decodes a single document.
func (s *MemoryStore) Get(ctx context.Context, key string, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	data, ok := s.docs[key]
	if !ok {
		return ErrNotFound
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

// Set writes a single document.
func (s *MemoryStore) Set(ctx context.Context, key string, value interface{}) error {
	return s.Update(ctx, func(tx Tx) error {
		return tx.Set(key, value)
	})
}

// Delete removes a single document.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	return s.Update(ctx, func(tx Tx) error {
		return tx.Delete(key)
	})
}

// List scans documents under prefix in key order.
func (s *MemoryStore) List(ctx context.Context, prefix string, limit int, reverse bool) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	var keys []string
	for k := range s.docs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if reverse {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}

	var entries []Entry
	for _, k := range keys {
		if limit > 0 && len(entries) >= limit {
			break
		}
		val := make([]byte, len(s.docs[k]))
		copy(val, s.docs[k])
		entries = append(entries, Entry{Key: k, Value: val})
	}
	return entries, nil
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
