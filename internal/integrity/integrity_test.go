package integrity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"testing"
	"time"

	"github.com/mr-tron/base58"

	"kairo/internal/store"
)

func newTestService(t *testing.T) (*Service, *time.Time) {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })
	svc := NewService(st)
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return current })
	return svc, &current
}

func TestComputeScore(t *testing.T) {
	tests := []struct {
		days, votes int
		want        float64
	}{
		{10, 20, 30},
		{100, 100, 100},
		{0, 0, 0},
		{0, 4, 2},
		{50, 1, 100}, // 100.5 caps at 100
	}
	for _, tt := range tests {
		if got := ComputeScore(tt.days, tt.votes); got != tt.want {
			t.Errorf("ComputeScore(%d,%d) = %f, want %f", tt.days, tt.votes, got, tt.want)
		}
	}
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		score float64
		name  string
		max   int
	}{
		{85, "trusted", 20},
		{60, "established", 12},
		{30, "regular", 8},
		{5, "new", 3},
		{80, "trusted", 20},
		{19.9, "new", 3},
	}
	for _, tt := range tests {
		tier := TierFor(tt.score)
		if tier.Name != tt.name || tier.MaxRequests != tt.max {
			t.Errorf("TierFor(%f) = %s/%d, want %s/%d", tt.score, tier.Name, tier.MaxRequests, tt.name, tt.max)
		}
	}
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	svc, current := newTestService(t)
	tier := TierFor(0) // new: 3/min

	for i := 0; i < 3; i++ {
		if ok := svc.limiter.Allow("w1", tier); !ok {
			t.Fatalf("attempt %d should pass", i)
		}
	}
	if ok := svc.limiter.Allow("w1", tier); ok {
		t.Error("4th attempt within window should be rejected")
	}
	// After the window slides, attempts pass again.
	*current = current.Add(61 * time.Second)
	if ok := svc.limiter.Allow("w1", tier); !ok {
		t.Error("attempt after window should pass")
	}
	// Other keys are independent.
	if ok := svc.limiter.Allow("w2", tier); !ok {
		t.Error("separate wallet should not share the budget")
	}
}

func TestAllowUsesConfiguredWindow(t *testing.T) {
	svc, current := newTestService(t)
	svc.SetRateWindow(10 * time.Second)

	for i := 0; i < 3; i++ {
		if ok, _ := svc.Allow("w1", 0); !ok {
			t.Fatalf("attempt %d should pass", i)
		}
	}
	if ok, _ := svc.Allow("w1", 0); ok {
		t.Error("4th attempt within the configured window should be rejected")
	}
	// The shortened window slides well before the tier default would.
	*current = current.Add(11 * time.Second)
	if ok, tier := svc.Allow("w1", 0); !ok || tier.Window != 10*time.Second {
		t.Errorf("attempt after the configured window should pass with window %s, got ok=%v window=%s", 10*time.Second, ok, tier.Window)
	}
}

func TestReputationRecordVote(t *testing.T) {
	svc, current := newTestService(t)
	ctx := context.Background()

	rep, err := svc.RecordVote(ctx, "walletA")
	if err != nil {
		t.Fatal(err)
	}
	if rep.TotalVotes != 1 {
		t.Errorf("totalVotes = %d", rep.TotalVotes)
	}
	if rep.ReputationScore != 0.5 {
		t.Errorf("score = %f, want 0.5 (0 days, 1 vote)", rep.ReputationScore)
	}

	// 10 days later with 19 more votes: days*2 + votes*0.5 = 20 + 10 = 30.
	*current = current.Add(10 * 24 * time.Hour)
	for i := 0; i < 19; i++ {
		rep, err = svc.RecordVote(ctx, "walletA")
		if err != nil {
			t.Fatal(err)
		}
	}
	if rep.TotalVotes != 20 {
		t.Errorf("totalVotes = %d", rep.TotalVotes)
	}
	if rep.ReputationScore != 30 {
		t.Errorf("score = %f, want 30", rep.ReputationScore)
	}
}

func TestFlagWalletIsPermanentAndAccumulates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if err := svc.FlagWallet(ctx, "walletB", ReasonRapid); err != nil {
		t.Fatal(err)
	}
	if err := svc.FlagWallet(ctx, "walletB", ReasonCoordinated); err != nil {
		t.Fatal(err)
	}
	rep, err := svc.Reputation(ctx, "walletB")
	if err != nil {
		t.Fatal(err)
	}
	if !rep.Flagged {
		t.Error("wallet should stay flagged")
	}
	if len(rep.Flags) != 2 {
		t.Errorf("flags = %d, want 2", len(rep.Flags))
	}
	if rep.Flags[0].Reason != ReasonRapid || rep.Flags[1].Reason != ReasonCoordinated {
		t.Errorf("flag order wrong: %+v", rep.Flags)
	}
}

func TestDetectCoordinated(t *testing.T) {
	tests := []struct {
		name    string
		offsets []time.Duration
		want    bool
	}{
		{"five votes inside 10s", []time.Duration{0, time.Second, 2 * time.Second, 3 * time.Second, 4 * time.Second}, true},
		{"five votes spread wide", []time.Duration{0, 3 * time.Second, 11 * time.Second, 18 * time.Second, 25 * time.Second}, false},
		{"only three votes", []time.Duration{0, time.Second, 2 * time.Second}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, current := newTestService(t)
			ctx := context.Background()
			base := *current
			for i, off := range tt.offsets {
				svc.recordPattern(ctx, VotePattern{
					Wallet:    fmt.Sprintf("w%d", i),
					CycleID:   "c1",
					Stance:    "ALIGN",
					Timestamp: base.Add(off),
				})
			}
			*current = base.Add(26 * time.Second)
			got := svc.DetectCoordinated(ctx, "c1")
			if got.Coordinated != tt.want {
				t.Errorf("coordinated = %v, want %v", got.Coordinated, tt.want)
			}
			if tt.want && len(got.Wallets) != len(tt.offsets) {
				t.Errorf("implicated wallets = %d, want %d", len(got.Wallets), len(tt.offsets))
			}
		})
	}
}

func TestDetectCoordinatedAcrossInstances(t *testing.T) {
	// Two service instances over one store: a burst split between them
	// must still implicate every wallet.
	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }
	a := NewService(st)
	a.SetClock(clock)
	b := NewService(st)
	b.SetClock(clock)

	ctx := context.Background()
	cycleStart := current.Add(-time.Minute)
	instances := []*Service{a, b}
	for i := 0; i < 5; i++ {
		current = current.Add(time.Second)
		instances[i%2].RunDetection(ctx, fmt.Sprintf("split%d", i), "c7", "REJECT", cycleStart)
	}

	for i := 0; i < 5; i++ {
		rep, err := a.Reputation(ctx, fmt.Sprintf("split%d", i))
		if err != nil {
			t.Fatal(err)
		}
		if !rep.Flagged {
			t.Errorf("wallet split%d should be flagged", i)
		}
	}
}

func TestDetectRapid(t *testing.T) {
	svc, current := newTestService(t)
	ctx := context.Background()
	base := *current
	for i := 0; i < 3; i++ {
		svc.recordPattern(ctx, VotePattern{Wallet: "wX", CycleID: fmt.Sprintf("c%d", i), Timestamp: base.Add(time.Duration(i) * time.Minute)})
	}
	*current = base.Add(4 * time.Minute)
	if rapid, _ := svc.DetectRapid(ctx, "wX"); rapid {
		t.Error("exactly 3 votes must not trip the detector")
	}
	svc.recordPattern(ctx, VotePattern{Wallet: "wX", CycleID: "c4", Timestamp: *current})
	if rapid, count := svc.DetectRapid(ctx, "wX"); !rapid || count != 4 {
		t.Errorf("4 votes in 300s should trip, got rapid=%v count=%d", rapid, count)
	}
}

func TestPrunePatterns(t *testing.T) {
	svc, current := newTestService(t)
	ctx := context.Background()
	base := *current
	svc.recordPattern(ctx, VotePattern{Wallet: "old", CycleID: "c1", Timestamp: base.Add(-15 * time.Minute)})
	svc.recordPattern(ctx, VotePattern{Wallet: "fresh", CycleID: "c1", Timestamp: base.Add(-time.Minute)})

	if err := svc.PrunePatterns(ctx); err != nil {
		t.Fatal(err)
	}
	kept := svc.recentPatterns(ctx, base.Add(-time.Hour))
	if len(kept) != 1 || kept[0].Wallet != "fresh" {
		t.Errorf("kept = %+v, want only the fresh pattern", kept)
	}
}

func TestDetectImmediate(t *testing.T) {
	svc, _ := newTestService(t)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if !svc.DetectImmediate(start.Add(3*time.Second), start) {
		t.Error("3s after cycle start should be immediate")
	}
	if svc.DetectImmediate(start.Add(6*time.Second), start) {
		t.Error("6s after cycle start should pass")
	}
}

func TestRunDetectionFlagsWholeCoordinatedGroup(t *testing.T) {
	svc, current := newTestService(t)
	ctx := context.Background()
	cycleStart := current.Add(-time.Minute)

	for i := 0; i < 5; i++ {
		wallet := fmt.Sprintf("group%d", i)
		*current = current.Add(time.Second)
		svc.RunDetection(ctx, wallet, "c9", "REJECT", cycleStart)
	}

	// All five coordinated wallets end up flagged.
	for i := 0; i < 5; i++ {
		rep, err := svc.Reputation(ctx, fmt.Sprintf("group%d", i))
		if err != nil {
			t.Fatal(err)
		}
		if !rep.Flagged {
			t.Errorf("wallet group%d should be flagged", i)
		}
	}
}

func TestBuildVoteMessage(t *testing.T) {
	got := BuildVoteMessage("c_abc_12345678", "ALIGN", "2026-03-01T12:05:00Z")
	want := "KAIRO VOTE\ncycleId: c_abc_12345678\nstance: ALIGN\nexpires: 2026-03-01T12:05:00Z"
	if got != want {
		t.Errorf("message = %q, want %q", got, want)
	}
}

func TestVerifyWalletSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	wallet := base58.Encode(pub)
	message := BuildVoteMessage("c1", "ALIGN", "2026-03-01T12:05:00Z")
	sig := base58.Encode(ed25519.Sign(priv, []byte(message)))

	if !VerifyWalletSignature(wallet, message, sig) {
		t.Error("valid signature rejected")
	}
	if VerifyWalletSignature(wallet, message+" tampered", sig) {
		t.Error("tampered message accepted")
	}
	if VerifyWalletSignature(wallet, message, base58.Encode(make([]byte, ed25519.SignatureSize))) {
		t.Error("zero signature accepted")
	}
	if VerifyWalletSignature("", message, sig) {
		t.Error("empty wallet accepted")
	}
	if VerifyWalletSignature("not-base58-0OIl", message, sig) {
		t.Error("malformed wallet accepted")
	}
}
