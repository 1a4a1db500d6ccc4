// Package cycle owns the windowed scheduler: it decides when a new
// cycle is due, guards creation with a per-window lock, runs the
// deliberation pipeline, and finalizes the cycle that just closed.
package cycle

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Window is one fixed-length scheduling slot. Every instant maps to
// exactly one window, so concurrent schedulers converge on the same
// window ID and the same lock key.
type Window struct {
	ID       string
	StartsAt time.Time
	EndsAt   time.Time
}

// WindowFor floors now onto the interval grid.
func WindowFor(now time.Time, interval time.Duration) Window {
	ms := now.UnixMilli()
	step := interval.Milliseconds()
	start := ms - ms%step
	startsAt := time.UnixMilli(start).UTC()
	return Window{
		ID:       "w_" + strconv.FormatInt(start, 36),
		StartsAt: startsAt,
		EndsAt:   time.UnixMilli(start + step).UTC(),
	}
}

// NewCycleID derives a sortable-enough unique cycle ID from the window
// start time.
func NewCycleID(startsAt time.Time) string {
	return fmt.Sprintf("c_%s_%s", strconv.FormatInt(startsAt.UnixMilli(), 36), uuid.NewString()[:8])
}
