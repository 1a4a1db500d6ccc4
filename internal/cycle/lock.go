package cycle

import (
	"context"
	"errors"
	"time"

	"kairo/internal/logging"
	"kairo/internal/model"
	"kairo/internal/store"
)

// AcquireResult says what the lock attempt found.
type AcquireResult int

const (
	// Acquired means this process owns cycle creation for the window.
	Acquired AcquireResult = iota
	// AlreadyLocked means another holder is mid-creation and not stale.
	AlreadyLocked
	// AlreadyCompleted means the window's cycle already exists.
	AlreadyCompleted
	// StoreError means the attempt failed closed on a storage error.
	StoreError
)

func (r AcquireResult) String() string {
	switch r {
	case Acquired:
		return "acquired"
	case AlreadyLocked:
		return "already_locked"
	case AlreadyCompleted:
		return "already_completed"
	case StoreError:
		return "store_error"
	}
	return "unknown"
}

// AcquireLock claims the creation lock for a window. A processing lock
// whose holder has exceeded ttl is treated as abandoned and taken over.
// Storage errors never grant the lock.
func AcquireLock(ctx context.Context, s store.Store, windowID string, ttl time.Duration, now time.Time) AcquireResult {
	result := StoreError
	err := s.Update(ctx, func(tx store.Tx) error {
		var lock model.Lock
		err := tx.Get(model.LockKey(windowID), &lock)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err == nil {
			switch lock.Status {
			case "completed":
				result = AlreadyCompleted
				return nil
			case "processing":
				if !lockStale(lock, ttl, now) {
					result = AlreadyLocked
					return nil
				}
				logging.CycleWarn("taking over stale lock for %s (started %s)", windowID, lock.StartedAt)
			}
		}
		result = Acquired
		return tx.Set(model.LockKey(windowID), model.Lock{
			Status:    "processing",
			StartedAt: now.UTC().Format(time.RFC3339),
		})
	})
	if err != nil {
		logging.CycleWarn("lock acquire for %s failed closed: %v", windowID, err)
		return StoreError
	}
	return result
}

// CompleteLock marks the window's cycle as created.
func CompleteLock(ctx context.Context, s store.Store, windowID, cycleID string, now time.Time) {
	lock := model.Lock{
		Status:      "completed",
		CompletedAt: now.UTC().Format(time.RFC3339),
		CycleID:     cycleID,
	}
	if err := s.Set(ctx, model.LockKey(windowID), lock); err != nil {
		logging.CycleWarn("failed to complete lock for %s: %v", windowID, err)
	}
}

// lockStale reports whether a processing lock has outlived its holder.
// A missing start time is treated as stale so broken locks cannot wedge
// the scheduler forever.
func lockStale(lock model.Lock, ttl time.Duration, now time.Time) bool {
	if lock.StartedAt == "" {
		return true
	}
	startedAt, err := time.Parse(time.RFC3339, lock.StartedAt)
	if err != nil {
		return true
	}
	return now.Sub(startedAt) > ttl
}
