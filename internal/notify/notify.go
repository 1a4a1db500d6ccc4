// Package notify announces cycle milestones to outside channels.
package notify

import "context"

// Notifier posts public announcements. Implementations must be safe for
// concurrent use; failures are reported, never fatal to the cycle.
type Notifier interface {
	// AnnounceTransmission publishes a new cycle's transmission.
	AnnounceTransmission(ctx context.Context, cycleIndex int, transmission string) error
	// AnnounceWinner publishes the finalized option for a cycle.
	AnnounceWinner(ctx context.Context, cycleIndex int, option string) error
}

// Nop discards all announcements.
type Nop struct{}

func (Nop) AnnounceTransmission(ctx context.Context, cycleIndex int, transmission string) error {
	return nil
}

func (Nop) AnnounceWinner(ctx context.Context, cycleIndex int, option string) error {
	return nil
}
