// Package integrity gates vote intake: wallet reputation, reputation-scaled
// rate limiting, signature verification, and anomaly detection. A wallet
// flagged by any detector stays flagged; there is no unflag path.
package integrity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kairo/internal/logging"
	"kairo/internal/store"
)

const reputationPrefix = "reputation/"

// Flag records one anomaly strike against a wallet.
type Flag struct {
	Reason string `json:"reason"`
	At     string `json:"at"`
}

// WalletReputation tracks one actor's voting history.
type WalletReputation struct {
	Wallet          string  `json:"wallet"`
	FirstSeen       string  `json:"firstSeen"`
	LastSeen        string  `json:"lastSeen"`
	TotalVotes      int     `json:"totalVotes"`
	ReputationScore float64 `json:"reputationScore"`
	Flagged         bool    `json:"flagged"`
	Flags           []Flag  `json:"flags,omitempty"`
}

// ComputeScore maps account age and activity to a reputation score in
// [0,100]. Monotonic in both inputs.
func ComputeScore(daysSinceFirst int, totalVotes int) float64 {
	score := float64(daysSinceFirst)*2 + float64(totalVotes)*0.5
	if score > 100 {
		return 100
	}
	return score
}

// Reputation loads a wallet's reputation, returning a fresh zero-score
// record for unseen wallets.
func (s *Service) Reputation(ctx context.Context, wallet string) (*WalletReputation, error) {
	var rep WalletReputation
	err := s.store.Get(ctx, reputationPrefix+wallet, &rep)
	if errors.Is(err, store.ErrNotFound) {
		now := s.now().UTC().Format(time.RFC3339)
		return &WalletReputation{
			Wallet:    wallet,
			FirstSeen: now,
			LastSeen:  now,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load reputation for %s: %w", wallet, err)
	}
	return &rep, nil
}

// RecordVote bumps a wallet's vote count and recomputes its score. Called
// once per accepted vote.
func (s *Service) RecordVote(ctx context.Context, wallet string) (*WalletReputation, error) {
	rep, err := s.Reputation(ctx, wallet)
	if err != nil {
		return nil, err
	}
	now := s.now()
	firstSeen, err := time.Parse(time.RFC3339, rep.FirstSeen)
	if err != nil {
		firstSeen = now
		rep.FirstSeen = now.UTC().Format(time.RFC3339)
	}
	daysSinceFirst := int(now.Sub(firstSeen).Hours() / 24)

	rep.TotalVotes++
	rep.LastSeen = now.UTC().Format(time.RFC3339)
	rep.ReputationScore = ComputeScore(daysSinceFirst, rep.TotalVotes)

	if err := s.store.Set(ctx, reputationPrefix+wallet, rep); err != nil {
		return nil, fmt.Errorf("failed to save reputation for %s: %w", wallet, err)
	}
	return rep, nil
}

// FlagWallet marks a wallet permanently and appends the reason to its
// flag history.
func (s *Service) FlagWallet(ctx context.Context, wallet, reason string) error {
	rep, err := s.Reputation(ctx, wallet)
	if err != nil {
		return err
	}
	rep.Flagged = true
	rep.Flags = append(rep.Flags, Flag{Reason: reason, At: s.now().UTC().Format(time.RFC3339)})
	if err := s.store.Set(ctx, reputationPrefix+wallet, rep); err != nil {
		return fmt.Errorf("failed to flag wallet %s: %w", wallet, err)
	}
	logging.VotesWarn("wallet %s flagged: %s (total flags %d)", wallet, reason, len(rep.Flags))
	return nil
}
