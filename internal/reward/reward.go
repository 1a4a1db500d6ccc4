// Package reward closes out finished cycles: it draws the winning option
// weighted by vote counts, samples the winner set, and runs the
// idempotent creator-fee payout protocol.
package reward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"kairo/internal/config"
	"kairo/internal/logging"
	"kairo/internal/model"
	"kairo/internal/store"
)

// Finalizer selects winners and disburses creator fees.
type Finalizer struct {
	store    store.Store
	payments PaymentClient
	cfg      config.RewardConfig

	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// NewFinalizer creates a finalizer. payments may be a DisabledClient;
// finalization still runs, payouts just record skips.
func NewFinalizer(s store.Store, payments PaymentClient, cfg config.RewardConfig) *Finalizer {
	if payments == nil {
		payments = DisabledClient{}
	}
	return &Finalizer{
		store:    s,
		payments: payments,
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
	}
}

// SetSeed fixes the draw seed. Test hook.
func (f *Finalizer) SetSeed(seed int64) {
	f.mu.Lock()
	f.rng = rand.New(rand.NewSource(seed))
	f.mu.Unlock()
}

// SetClock overrides the time source. Test hook.
func (f *Finalizer) SetClock(now func() time.Time) { f.now = now }

func (f *Finalizer) randFloat() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rng.Float64()
}

func (f *Finalizer) randIntn(n int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rng.Intn(n)
}

// SelectWeightedOption draws one option with probability proportional to
// its vote count. With zero votes every option is equally likely.
func (f *Finalizer) SelectWeightedOption(counts model.StanceCounts) string {
	total := counts.Total()
	if total == 0 {
		option := model.Stances[f.randIntn(len(model.Stances))]
		logging.Reward("no votes, uniform fallback picked %s", option)
		return option
	}
	r := f.randFloat() * float64(total)
	cumulative := 0.0
	for _, stance := range model.Stances {
		cumulative += float64(counts.Get(stance))
		if r < cumulative {
			logging.Reward("weighted draw picked %s (%d of %d votes)", stance, counts.Get(stance), total)
			return stance
		}
	}
	return model.Stances[len(model.Stances)-1]
}

// pickWinners samples up to max distinct actors without replacement.
func (f *Finalizer) pickWinners(actors []string, max int) []string {
	pool := make([]string, len(actors))
	copy(pool, actors)
	limit := max
	if len(pool) < limit {
		limit = len(pool)
	}
	out := make([]string, 0, limit)
	for len(out) < limit {
		idx := f.randIntn(len(pool))
		out = append(out, pool[idx])
		pool = append(pool[:idx], pool[idx+1:]...)
	}
	return out
}

// actorsByOption scans a cycle's votes for actors who chose the option.
func (f *Finalizer) actorsByOption(ctx context.Context, cycleID, option string) ([]string, error) {
	entries, err := f.store.List(ctx, model.CycleStancePrefix(cycleID), 0, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list stances for %s: %w", cycleID, err)
	}
	var actors []string
	for _, e := range entries {
		var stance model.Stance
		if err := json.Unmarshal(e.Value, &stance); err != nil {
			continue
		}
		if stance.Stance == option && stance.ActorID != "" {
			actors = append(actors, stance.ActorID)
		}
	}
	return actors, nil
}

// FinalizeCycle closes out the given cycle: if its reward is already
// finalized it only re-attempts disbursement (the payout guard keeps
// that idempotent); otherwise it draws the option, samples winners,
// persists the reward, and then disburses.
func (f *Finalizer) FinalizeCycle(ctx context.Context, cycleID string, counts model.StanceCounts) (*model.Reward, error) {
	if cycleID == "" {
		return nil, nil
	}

	var cycle model.Cycle
	err := f.store.Get(ctx, model.CycleKey(cycleID), &cycle)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to load cycle %s: %w", cycleID, err)
	}
	if cycle.Reward != nil && cycle.Reward.Finalized {
		f.DistributeFees(ctx, cycleID, cycle.Reward)
		return nil, nil
	}

	option := f.SelectWeightedOption(counts)
	actors, err := f.actorsByOption(ctx, cycleID, option)
	if err != nil {
		return nil, err
	}
	if len(actors) == 0 {
		logging.RewardWarn("no actors voted %s on cycle %s, skipping reward", option, cycleID)
		return nil, nil
	}

	winners := f.pickWinners(actors, f.cfg.WinnersPerCycle)
	reward := &model.Reward{
		Option:      option,
		Winners:     winners,
		PoolPercent: 50,
		At:          f.now().UTC().Format(time.RFC3339),
		Finalized:   true,
		VoteCounts:  counts,
	}

	if err := f.store.Update(ctx, func(tx store.Tx) error {
		var doc model.Cycle
		if err := tx.Get(model.CycleKey(cycleID), &doc); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		doc.Reward = reward
		doc.StanceCounts = counts
		return tx.Set(model.CycleKey(cycleID), doc)
	}); err != nil {
		return nil, fmt.Errorf("failed to save reward for %s: %w", cycleID, err)
	}

	f.DistributeFees(ctx, cycleID, reward)
	f.recordEvent(ctx, model.Event{
		Type:    model.EventRewardSelected,
		CycleID: cycleID,
		At:      f.now().UTC().Format(time.RFC3339),
		Payload: map[string]interface{}{
			"option":      option,
			"winnerCount": len(winners),
			"counts":      counts,
		},
	})
	logging.Reward("cycle %s finalized: option %s, %d winners", cycleID, option, len(winners))
	return reward, nil
}

func (f *Finalizer) recordEvent(ctx context.Context, event model.Event) {
	key := model.EventKey(f.now().UnixMilli(), uuid.NewString()[:8])
	if err := f.store.Set(ctx, key, event); err != nil {
		logging.RewardWarn("failed to record event %s: %v", event.Type, err)
	}
}
