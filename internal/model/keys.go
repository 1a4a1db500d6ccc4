package model

import "fmt"

// Document key layout. Slash-separated prefixes keep each collection
// scannable in one range.
const (
	StateKey      = "state/latest"
	CyclePrefix   = "cycles/"
	StancePrefix  = "stances/"
	LockPrefix    = "locks/"
	EventPrefix   = "events/"
	PatternPrefix = "votepatterns/"
)

// CycleKey returns the document key for a cycle record.
func CycleKey(cycleID string) string {
	return CyclePrefix + cycleID
}

// StanceKey returns the document key for one actor's vote on one cycle.
// One key per (cycle, actor) is what makes double voting impossible.
func StanceKey(cycleID, actorID string) string {
	return fmt.Sprintf("%s%s_%s", StancePrefix, cycleID, actorID)
}

// CycleStancePrefix returns the scan prefix for all votes on one cycle.
func CycleStancePrefix(cycleID string) string {
	return StancePrefix + cycleID + "_"
}

// LockKey returns the document key for a window's creation lock.
func LockKey(windowID string) string {
	return LockPrefix + "cycle_" + windowID
}

// EventKey returns the document key for an audit event. Millisecond
// timestamp prefix keeps events time-ordered; the suffix breaks ties.
func EventKey(unixMs int64, suffix string) string {
	return fmt.Sprintf("%s%013d_%s", EventPrefix, unixMs, suffix)
}

// VotePatternKey returns the document key for one recorded vote pattern.
// Timestamp-ordered keys keep retention pruning a prefix walk.
func VotePatternKey(unixMs int64, suffix string) string {
	return fmt.Sprintf("%s%013d_%s", PatternPrefix, unixMs, suffix)
}
