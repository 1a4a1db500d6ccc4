package reward

import (
	"context"
	"errors"
	"time"

	"kairo/internal/logging"
	"kairo/internal/model"
	"kairo/internal/store"
)

// Skip reasons recorded on the cycle's creatorFees document.
const (
	SkipNotConfigured  = "NOT_CONFIGURED"
	SkipNoValidWinners = "NO_VALID_WINNERS"
	SkipNoFees         = "NO_FEES"
	SkipDust           = "DUST"
)

var errFeesOwned = errors.New("creator fees already owned")

// tryStartFees is the payout claim guard: a transactional transition of
// creatorFees.status from absent to processing. Any concurrent owner,
// completed record, or store error means not acquired.
func (f *Finalizer) tryStartFees(ctx context.Context, cycleID string) bool {
	err := f.store.Update(ctx, func(tx store.Tx) error {
		var cycle model.Cycle
		if err := tx.Get(model.CycleKey(cycleID), &cycle); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if cycle.CreatorFees != nil {
			switch cycle.CreatorFees.Status {
			case model.FeesProcessing, model.FeesCompleted:
				return errFeesOwned
			}
		}
		cycle.CreatorFees = &model.CreatorFees{
			Status:    model.FeesProcessing,
			StartedAt: f.now().UTC().Format(time.RFC3339),
		}
		return tx.Set(model.CycleKey(cycleID), cycle)
	})
	if err != nil {
		if !errors.Is(err, errFeesOwned) {
			logging.RewardWarn("payout guard for %s failed closed: %v", cycleID, err)
		}
		return false
	}
	return true
}

// setFees overwrites the cycle's creatorFees record.
func (f *Finalizer) setFees(ctx context.Context, cycleID string, fees *model.CreatorFees) {
	err := f.store.Update(ctx, func(tx store.Tx) error {
		var cycle model.Cycle
		if err := tx.Get(model.CycleKey(cycleID), &cycle); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		cycle.CreatorFees = fees
		return tx.Set(model.CycleKey(cycleID), cycle)
	})
	if err != nil {
		logging.Get(logging.CategoryReward).Error("failed to record fees status for %s: %v", cycleID, err)
	}
}

// DistributeFees runs the payout protocol for a finalized reward. Safe
// to call repeatedly: the claim guard admits exactly one run past the
// processing transition, and every outcome lands as a terminal status
// (completed, skipped, failed). Failed runs are not retried.
func (f *Finalizer) DistributeFees(ctx context.Context, cycleID string, reward *model.Reward) {
	if reward == nil || len(reward.Winners) == 0 {
		return
	}
	if f.cfg.CreatorFeeShareBps <= 0 {
		return
	}
	if !f.tryStartFees(ctx, cycleID) {
		return
	}
	nowStr := func() string { return f.now().UTC().Format(time.RFC3339) }

	if _, disabled := f.payments.(DisabledClient); disabled || !f.cfg.PayoutsEnabled {
		f.setFees(ctx, cycleID, &model.CreatorFees{Status: model.FeesSkipped, Reason: SkipNotConfigured, At: nowStr()})
		return
	}

	// Distinct winners that pass recipient validation.
	seen := make(map[string]bool)
	var recipients []string
	for _, w := range reward.Winners {
		if seen[w] || !f.payments.ValidRecipient(w) {
			continue
		}
		seen[w] = true
		recipients = append(recipients, w)
	}
	if len(recipients) == 0 {
		f.setFees(ctx, cycleID, &model.CreatorFees{Status: model.FeesSkipped, Reason: SkipNoValidWinners, At: nowStr()})
		return
	}

	// A configured override amount skips the on-chain claim entirely.
	claim := ClaimResult{ClaimedLamports: f.cfg.CreatorFeeOverrideLamports, Source: ClaimSourceOverride}
	if claim.ClaimedLamports <= 0 {
		var err error
		claim, err = f.payments.ClaimCreatorFees(ctx)
		if err != nil {
			f.failFees(ctx, cycleID, err)
			return
		}
	}
	if claim.ClaimedLamports <= 0 {
		f.setFees(ctx, cycleID, &model.CreatorFees{
			Status:      model.FeesSkipped,
			Reason:      SkipNoFees,
			ClaimSource: claim.Source,
			At:          nowStr(),
		})
		return
	}

	poolLamports := claim.ClaimedLamports * f.cfg.CreatorFeeShareBps / 10_000
	perWinner := poolLamports / int64(len(recipients))
	if perWinner < f.cfg.CreatorFeeMinLamport {
		f.setFees(ctx, cycleID, &model.CreatorFees{
			Status:          model.FeesSkipped,
			Reason:          SkipDust,
			ClaimedLamports: claim.ClaimedLamports,
			PoolLamports:    poolLamports,
			PerWinner:       perWinner,
			ClaimSignature:  claim.Signature,
			ClaimSource:     claim.Source,
			At:              nowStr(),
		})
		return
	}

	var signatures []string
	batchSize := f.cfg.MaxTransfersPerTx
	if batchSize < 1 {
		batchSize = 1
	}
	for start := 0; start < len(recipients); start += batchSize {
		end := start + batchSize
		if end > len(recipients) {
			end = len(recipients)
		}
		sig, err := f.payments.SendBatch(ctx, recipients[start:end], perWinner)
		if err != nil {
			f.failFees(ctx, cycleID, err)
			return
		}
		signatures = append(signatures, sig)
	}

	f.setFees(ctx, cycleID, &model.CreatorFees{
		Status:           model.FeesCompleted,
		ClaimedLamports:  claim.ClaimedLamports,
		PoolLamports:     poolLamports,
		PerWinner:        perWinner,
		WinnersCount:     len(recipients),
		ClaimSignature:   claim.Signature,
		ClaimSource:      claim.Source,
		PayoutSignatures: signatures,
		CompletedAt:      nowStr(),
	})
	f.recordEvent(ctx, model.Event{
		Type:    model.EventFeesDistributed,
		CycleID: cycleID,
		At:      nowStr(),
		Payload: map[string]interface{}{
			"claimedLamports":   claim.ClaimedLamports,
			"poolLamports":      poolLamports,
			"perWinnerLamports": perWinner,
			"winnersCount":      len(recipients),
			"payoutSignatures":  signatures,
		},
	})
	logging.Reward("cycle %s fees distributed: %d lamports to %d winners across %d batches",
		cycleID, poolLamports, len(recipients), len(signatures))
}

func (f *Finalizer) failFees(ctx context.Context, cycleID string, cause error) {
	msg := cause.Error()
	if len(msg) > 160 {
		msg = msg[:160]
	}
	f.setFees(ctx, cycleID, &model.CreatorFees{
		Status:  model.FeesFailed,
		Reason:  "ERROR",
		Message: msg,
		At:      f.now().UTC().Format(time.RFC3339),
	})
	logging.Get(logging.CategoryReward).Error("payout for %s failed: %v", cycleID, cause)
}
