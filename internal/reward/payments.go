package reward

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by the disabled payment client.
var ErrNotConfigured = errors.New("payment client not configured")

// ClaimSourceOverride marks a claim amount taken from configuration
// instead of an on-chain claim.
const ClaimSourceOverride = "override"

// ClaimResult describes one creator-fee claim.
type ClaimResult struct {
	ClaimedLamports int64
	Signature       string
	Source          string
}

// PaymentClient abstracts the on-chain side of payouts: claiming accrued
// creator fees and sending one batch of equal transfers.
type PaymentClient interface {
	// ClaimCreatorFees pulls accrued fees into the payer account and
	// reports how many lamports landed.
	ClaimCreatorFees(ctx context.Context) (ClaimResult, error)
	// SendBatch transfers lamports to every recipient in one
	// transaction and returns its signature.
	SendBatch(ctx context.Context, recipients []string, lamports int64) (string, error)
	// ValidRecipient reports whether the wallet can receive a transfer.
	ValidRecipient(wallet string) bool
}

// DisabledClient is the stand-in when no chain credentials are
// configured; every payout run records a skip.
type DisabledClient struct{}

func (DisabledClient) ClaimCreatorFees(ctx context.Context) (ClaimResult, error) {
	return ClaimResult{}, ErrNotConfigured
}

func (DisabledClient) SendBatch(ctx context.Context, recipients []string, lamports int64) (string, error) {
	return "", ErrNotConfigured
}

func (DisabledClient) ValidRecipient(wallet string) bool { return false }
