package reward

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"kairo/internal/config"
	"kairo/internal/model"
	"kairo/internal/store"
)

type fakePayments struct {
	claim      ClaimResult
	claimErr   error
	sendErr    error
	claimCalls int
	batches    [][]string
	lamports   []int64
	invalid    map[string]bool
}

func (f *fakePayments) ClaimCreatorFees(ctx context.Context) (ClaimResult, error) {
	f.claimCalls++
	return f.claim, f.claimErr
}

func (f *fakePayments) SendBatch(ctx context.Context, recipients []string, lamports int64) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	batch := make([]string, len(recipients))
	copy(batch, recipients)
	f.batches = append(f.batches, batch)
	f.lamports = append(f.lamports, lamports)
	return fmt.Sprintf("sig-%d", len(f.batches)), nil
}

func (f *fakePayments) ValidRecipient(wallet string) bool {
	return !f.invalid[wallet]
}

func testConfig() config.RewardConfig {
	return config.RewardConfig{
		WinnersPerCycle:      5,
		CreatorFeeShareBps:   5_000,
		CreatorFeeMinLamport: 1_000,
		MaxTransfersPerTx:    8,
		PayoutsEnabled:       true,
	}
}

func newTestFinalizer(t *testing.T, payments PaymentClient) (*Finalizer, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })
	f := NewFinalizer(st, payments, testConfig())
	f.SetSeed(42)
	f.SetClock(func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) })
	return f, st
}

func seedVotes(t *testing.T, st *store.MemoryStore, cycleID, stance string, wallets ...string) {
	t.Helper()
	ctx := context.Background()
	for _, w := range wallets {
		doc := model.Stance{CycleID: cycleID, ActorID: w, Stance: stance}
		if err := st.Set(ctx, model.StanceKey(cycleID, w), doc); err != nil {
			t.Fatalf("seed vote: %v", err)
		}
	}
}

func loadCycle(t *testing.T, st *store.MemoryStore, cycleID string) model.Cycle {
	t.Helper()
	var cycle model.Cycle
	if err := st.Get(context.Background(), model.CycleKey(cycleID), &cycle); err != nil {
		t.Fatalf("load cycle: %v", err)
	}
	return cycle
}

func TestSelectWeightedOptionLandslide(t *testing.T) {
	f, _ := newTestFinalizer(t, DisabledClient{})
	counts := model.StanceCounts{Reject: 50}
	for i := 0; i < 20; i++ {
		if got := f.SelectWeightedOption(counts); got != model.StanceReject {
			t.Fatalf("draw %d: got %s, want REJECT", i, got)
		}
	}
}

func TestSelectWeightedOptionZeroVotes(t *testing.T) {
	f, _ := newTestFinalizer(t, DisabledClient{})
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		option := f.SelectWeightedOption(model.StanceCounts{})
		if !model.ValidStance(option) {
			t.Fatalf("uniform fallback produced %q", option)
		}
		seen[option] = true
	}
	if len(seen) != len(model.Stances) {
		t.Errorf("uniform fallback hit %d options over 200 draws, want %d", len(seen), len(model.Stances))
	}
}

func TestFinalizeCyclePicksDistinctWinners(t *testing.T) {
	f, st := newTestFinalizer(t, &fakePayments{claim: ClaimResult{ClaimedLamports: 1_000_000, Signature: "claim", Source: "pool"}})
	const cycleID = "c_win"
	wallets := make([]string, 12)
	for i := range wallets {
		wallets[i] = fmt.Sprintf("wallet%02d", i)
	}
	seedVotes(t, st, cycleID, model.StanceAlign, wallets...)

	reward, err := f.FinalizeCycle(context.Background(), cycleID, model.StanceCounts{Align: 12})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if reward == nil || !reward.Finalized {
		t.Fatal("expected a finalized reward")
	}
	if reward.Option != model.StanceAlign {
		t.Fatalf("option = %s, want ALIGN", reward.Option)
	}
	if len(reward.Winners) != 5 {
		t.Fatalf("got %d winners, want 5", len(reward.Winners))
	}
	seen := map[string]bool{}
	for _, w := range reward.Winners {
		if seen[w] {
			t.Fatalf("winner %s drawn twice", w)
		}
		seen[w] = true
	}
	cycle := loadCycle(t, st, cycleID)
	if cycle.Reward == nil || cycle.Reward.Option != reward.Option {
		t.Error("reward not persisted on cycle doc")
	}
}

func TestFinalizeCycleFewerActorsThanWinners(t *testing.T) {
	f, st := newTestFinalizer(t, DisabledClient{})
	const cycleID = "c_small"
	seedVotes(t, st, cycleID, model.StanceWithhold, "a", "b")

	reward, err := f.FinalizeCycle(context.Background(), cycleID, model.StanceCounts{Withhold: 2})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if len(reward.Winners) != 2 {
		t.Fatalf("got %d winners, want 2", len(reward.Winners))
	}
}

func TestFinalizeCycleNoActorsForOption(t *testing.T) {
	f, _ := newTestFinalizer(t, DisabledClient{})
	reward, err := f.FinalizeCycle(context.Background(), "c_empty", model.StanceCounts{Align: 3})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if reward != nil {
		t.Fatalf("expected no reward without voters, got %+v", reward)
	}
}

func TestFinalizeCycleIdempotent(t *testing.T) {
	payments := &fakePayments{claim: ClaimResult{ClaimedLamports: 1_000_000}}
	f, st := newTestFinalizer(t, payments)
	const cycleID = "c_once"
	seedVotes(t, st, cycleID, model.StanceAlign, "a", "b", "c")

	first, err := f.FinalizeCycle(context.Background(), cycleID, model.StanceCounts{Align: 3})
	if err != nil {
		t.Fatalf("first finalize: %v", err)
	}
	second, err := f.FinalizeCycle(context.Background(), cycleID, model.StanceCounts{Align: 3})
	if err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	if second != nil {
		t.Fatal("re-finalize must not draw again")
	}
	cycle := loadCycle(t, st, cycleID)
	if cycle.Reward.At != first.At || cycle.Reward.Option != first.Option {
		t.Error("re-finalize changed the stored reward")
	}
	if payments.claimCalls != 1 {
		t.Errorf("claim called %d times, payout guard should admit one run", payments.claimCalls)
	}
}

func TestDistributeFeesCompleted(t *testing.T) {
	payments := &fakePayments{claim: ClaimResult{ClaimedLamports: 1_000_000, Signature: "claim-sig", Source: "pool"}}
	f, st := newTestFinalizer(t, payments)
	const cycleID = "c_paid"
	reward := &model.Reward{Option: model.StanceAlign, Winners: []string{"w1", "w2", "w3"}, Finalized: true}

	f.DistributeFees(context.Background(), cycleID, reward)

	cycle := loadCycle(t, st, cycleID)
	fees := cycle.CreatorFees
	if fees == nil || fees.Status != model.FeesCompleted {
		t.Fatalf("fees = %+v, want completed", fees)
	}
	if fees.PoolLamports != 500_000 {
		t.Errorf("pool = %d, want 500000 (50%% of claim)", fees.PoolLamports)
	}
	if fees.PerWinner != 166_666 {
		t.Errorf("per winner = %d, want 166666", fees.PerWinner)
	}
	if fees.WinnersCount != 3 || fees.ClaimSignature != "claim-sig" {
		t.Errorf("unexpected completed record: %+v", fees)
	}
	if len(payments.batches) != 1 || len(payments.batches[0]) != 3 {
		t.Errorf("batches = %v, want one batch of 3", payments.batches)
	}
	if payments.lamports[0] != 166_666 {
		t.Errorf("batch lamports = %d, want 166666", payments.lamports[0])
	}
}

func TestDistributeFeesOverrideSkipsClaim(t *testing.T) {
	payments := &fakePayments{claim: ClaimResult{ClaimedLamports: 999, Source: "pool"}}
	f, st := newTestFinalizer(t, payments)
	f.cfg.CreatorFeeOverrideLamports = 1_000_000
	reward := &model.Reward{Option: model.StanceAlign, Winners: []string{"w1", "w2"}, Finalized: true}

	f.DistributeFees(context.Background(), "c_override", reward)

	if payments.claimCalls != 0 {
		t.Errorf("claim called %d times, want 0 with an override configured", payments.claimCalls)
	}
	cycle := loadCycle(t, st, "c_override")
	fees := cycle.CreatorFees
	if fees == nil || fees.Status != model.FeesCompleted {
		t.Fatalf("fees = %+v, want completed", fees)
	}
	if fees.ClaimSource != ClaimSourceOverride {
		t.Errorf("claim source = %q, want %q", fees.ClaimSource, ClaimSourceOverride)
	}
	if fees.ClaimedLamports != 1_000_000 || fees.PoolLamports != 500_000 || fees.PerWinner != 250_000 {
		t.Errorf("override math wrong: %+v", fees)
	}
}

func TestDistributeFeesBatchesTransfers(t *testing.T) {
	payments := &fakePayments{claim: ClaimResult{ClaimedLamports: 10_000_000}}
	f, st := newTestFinalizer(t, payments)
	f.cfg.MaxTransfersPerTx = 2
	reward := &model.Reward{Winners: []string{"a", "b", "c", "d", "e"}, Finalized: true}

	f.DistributeFees(context.Background(), "c_batch", reward)

	if len(payments.batches) != 3 {
		t.Fatalf("got %d batches, want 3 (2+2+1)", len(payments.batches))
	}
	if len(payments.batches[2]) != 1 {
		t.Errorf("last batch has %d recipients, want 1", len(payments.batches[2]))
	}
	cycle := loadCycle(t, st, "c_batch")
	if got := len(cycle.CreatorFees.PayoutSignatures); got != 3 {
		t.Errorf("recorded %d payout signatures, want 3", got)
	}
}

func TestDistributeFeesSkipsWithoutClient(t *testing.T) {
	f, st := newTestFinalizer(t, DisabledClient{})
	reward := &model.Reward{Winners: []string{"a"}, Finalized: true}

	f.DistributeFees(context.Background(), "c_norpc", reward)

	cycle := loadCycle(t, st, "c_norpc")
	if cycle.CreatorFees.Status != model.FeesSkipped || cycle.CreatorFees.Reason != SkipNotConfigured {
		t.Fatalf("fees = %+v, want skipped NOT_CONFIGURED", cycle.CreatorFees)
	}
}

func TestDistributeFeesSkipsInvalidWinners(t *testing.T) {
	payments := &fakePayments{invalid: map[string]bool{"bad1": true, "bad2": true}}
	f, st := newTestFinalizer(t, payments)
	reward := &model.Reward{Winners: []string{"bad1", "bad2"}, Finalized: true}

	f.DistributeFees(context.Background(), "c_invalid", reward)

	cycle := loadCycle(t, st, "c_invalid")
	if cycle.CreatorFees.Reason != SkipNoValidWinners {
		t.Fatalf("reason = %s, want NO_VALID_WINNERS", cycle.CreatorFees.Reason)
	}
	if payments.claimCalls != 0 {
		t.Error("claim must not run without valid recipients")
	}
}

func TestDistributeFeesSkipsWhenNothingClaimed(t *testing.T) {
	payments := &fakePayments{claim: ClaimResult{ClaimedLamports: 0, Source: "pool"}}
	f, st := newTestFinalizer(t, payments)
	reward := &model.Reward{Winners: []string{"a"}, Finalized: true}

	f.DistributeFees(context.Background(), "c_nofees", reward)

	cycle := loadCycle(t, st, "c_nofees")
	fees := cycle.CreatorFees
	if fees.Status != model.FeesSkipped || fees.Reason != SkipNoFees {
		t.Fatalf("fees = %+v, want skipped NO_FEES", fees)
	}
	if fees.ClaimSource != "pool" {
		t.Errorf("claim source = %q, want pool", fees.ClaimSource)
	}
}

func TestDistributeFeesSkipsDust(t *testing.T) {
	payments := &fakePayments{claim: ClaimResult{ClaimedLamports: 9_000, Signature: "dust-sig"}}
	f, st := newTestFinalizer(t, payments)
	reward := &model.Reward{Winners: []string{"a", "b", "c", "d", "e"}, Finalized: true}

	f.DistributeFees(context.Background(), "c_dust", reward)

	cycle := loadCycle(t, st, "c_dust")
	fees := cycle.CreatorFees
	if fees.Status != model.FeesSkipped || fees.Reason != SkipDust {
		t.Fatalf("fees = %+v, want skipped DUST", fees)
	}
	// pool = 4500, split 5 ways = 900, under the 1000 lamport floor.
	if fees.PerWinner != 900 {
		t.Fatalf("per winner = %d, want 900", fees.PerWinner)
	}
	if len(payments.batches) != 0 {
		t.Error("dust payout must not send transfers")
	}
}

func TestDistributeFeesFailureRecorded(t *testing.T) {
	payments := &fakePayments{
		claim:   ClaimResult{ClaimedLamports: 1_000_000},
		sendErr: errors.New(strings.Repeat("x", 300)),
	}
	f, st := newTestFinalizer(t, payments)
	reward := &model.Reward{Winners: []string{"a"}, Finalized: true}

	f.DistributeFees(context.Background(), "c_fail", reward)

	cycle := loadCycle(t, st, "c_fail")
	fees := cycle.CreatorFees
	if fees.Status != model.FeesFailed || fees.Reason != "ERROR" {
		t.Fatalf("fees = %+v, want failed ERROR", fees)
	}
	if len(fees.Message) != 160 {
		t.Errorf("failure message length %d, want truncation to 160", len(fees.Message))
	}
}

func TestDistributeFeesGuardBlocksCompleted(t *testing.T) {
	payments := &fakePayments{claim: ClaimResult{ClaimedLamports: 1_000_000}}
	f, st := newTestFinalizer(t, payments)
	const cycleID = "c_guard"
	cycle := model.Cycle{CycleID: cycleID, CreatorFees: &model.CreatorFees{Status: model.FeesCompleted}}
	if err := st.Set(context.Background(), model.CycleKey(cycleID), cycle); err != nil {
		t.Fatal(err)
	}

	f.DistributeFees(context.Background(), cycleID, &model.Reward{Winners: []string{"a"}, Finalized: true})

	if payments.claimCalls != 0 {
		t.Error("completed payout must not run again")
	}
}

func TestDistributeFeesDeduplicatesWinners(t *testing.T) {
	payments := &fakePayments{claim: ClaimResult{ClaimedLamports: 1_000_000}}
	f, _ := newTestFinalizer(t, payments)
	reward := &model.Reward{Winners: []string{"a", "a", "b"}, Finalized: true}

	f.DistributeFees(context.Background(), "c_dup", reward)

	if len(payments.batches) != 1 || len(payments.batches[0]) != 2 {
		t.Fatalf("batches = %v, want one batch of 2 distinct recipients", payments.batches)
	}
}
