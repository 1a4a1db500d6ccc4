package cycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"kairo/internal/config"
	"kairo/internal/integrity"
	"kairo/internal/logging"
	"kairo/internal/model"
	"kairo/internal/notify"
	"kairo/internal/pipeline"
	"kairo/internal/reward"
	"kairo/internal/store"
)

const (
	archiveDefaultLimit = 10
	archiveMaxLimit     = 50
)

// Service runs the cycle lifecycle: rotation on the window grid, cycle
// generation, vote intake, and archive reads.
type Service struct {
	store     store.Store
	pipe      *pipeline.Pipeline
	finalizer *reward.Finalizer
	integrity *integrity.Service
	notifier  notify.Notifier
	cfg       *config.Config
	version   string
	balances  BalanceChecker

	now    func() time.Time
	rotate singleflight.Group
}

// NewService wires the cycle service. A nil notifier disables
// announcements.
func NewService(s store.Store, pipe *pipeline.Pipeline, fin *reward.Finalizer, integ *integrity.Service, notifier notify.Notifier, cfg *config.Config, version string) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if integ != nil {
		integ.SetRateWindow(cfg.RateLimitWindow())
	}
	return &Service{
		store:     s,
		pipe:      pipe,
		finalizer: fin,
		integrity: integ,
		notifier:  notifier,
		cfg:       cfg,
		version:   version,
		now:       time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Integrity exposes the vote-integrity layer.
func (s *Service) Integrity() *integrity.Service { return s.integrity }

// LatestState reads the live state document without rotating.
func (s *Service) LatestState(ctx context.Context) (*model.State, error) {
	var state model.State
	err := s.store.Get(ctx, model.StateKey, &state)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// IsLocked reports whether voting on the state is closed: no state at
// all, an explicit lock, or a cycle past its end time.
func (s *Service) IsLocked(state *model.State) bool {
	if state == nil || state.Locked {
		return true
	}
	if state.CycleEndsAt == "" {
		return false
	}
	endsAt, err := time.Parse(time.RFC3339, state.CycleEndsAt)
	if err != nil {
		return false
	}
	return s.now().After(endsAt)
}

// EnsureCurrentCycle returns the state for the current window, rotating
// first if the stored state belongs to an older window. Concurrent
// callers collapse onto one rotation.
func (s *Service) EnsureCurrentCycle(ctx context.Context) (*model.State, error) {
	v, err, _ := s.rotate.Do("rotate", func() (interface{}, error) {
		return s.maybeRotate(ctx)
	})
	if err != nil {
		return nil, err
	}
	state, _ := v.(*model.State)
	return state, nil
}

func (s *Service) maybeRotate(ctx context.Context) (*model.State, error) {
	now := s.now()
	window := WindowFor(now, s.cfg.CycleInterval())

	state, err := s.LatestState(ctx)
	if err != nil {
		return nil, err
	}

	if state == nil {
		return s.rotateUnderLock(ctx, window, "boot", nil)
	}

	stateWindow := s.windowOf(state)
	if stateWindow != window.ID {
		return s.rotateUnderLock(ctx, window, "auto", state)
	}

	if s.IsLocked(state) {
		// Same window but unusable state; regenerate in place.
		logging.CycleWarn("state for %s is locked inside its own window, regenerating", state.CycleID)
		return s.generateCycle(ctx, "auto", nil, "")
	}
	return state, nil
}

// rotateUnderLock acquires the window lock and generates the window's
// cycle. Losing the lock race re-reads and serves whatever the winner
// published, falling back to the pre-acquisition state.
func (s *Service) rotateUnderLock(ctx context.Context, window Window, createdBy string, fallback *model.State) (*model.State, error) {
	result := AcquireLock(ctx, s.store, window.ID, s.cfg.LockTTL(), s.now())
	if result != Acquired {
		logging.Cycle("window %s lock not acquired (%s), serving stored state", window.ID, result)
		latest, err := s.LatestState(ctx)
		if err != nil {
			return nil, err
		}
		if latest != nil {
			return latest, nil
		}
		return fallback, nil
	}

	// Re-check under the lock: another process may have already rotated
	// into this window before we acquired.
	latest, err := s.LatestState(ctx)
	if err != nil {
		return nil, err
	}
	if latest != nil && s.windowOf(latest) == window.ID {
		CompleteLock(ctx, s.store, window.ID, latest.CycleID, s.now())
		return latest, nil
	}

	state, err := s.generateCycle(ctx, createdBy, &window, "")
	if err != nil {
		return nil, err
	}
	CompleteLock(ctx, s.store, window.ID, state.CycleID, s.now())
	return state, nil
}

// windowOf maps a state's start timestamp onto the window grid.
func (s *Service) windowOf(state *model.State) string {
	at, err := time.Parse(time.RFC3339, state.At)
	if err != nil {
		return ""
	}
	return WindowFor(at, s.cfg.CycleInterval()).ID
}

// GenerateAdminCycle force-creates a cycle outside the scheduler grid.
func (s *Service) GenerateAdminCycle(ctx context.Context, seed string) (*model.State, error) {
	return s.generateCycle(ctx, "admin", nil, seed)
}

// generateCycle finalizes the prior cycle and publishes a new one. When
// window is nil the cycle starts now and runs one interval.
func (s *Service) generateCycle(ctx context.Context, createdBy string, window *Window, seed string) (*model.State, error) {
	timer := logging.StartTimer(logging.CategoryCycle, "generate")
	defer timer.Stop()

	prior, err := s.LatestState(ctx)
	if err != nil {
		return nil, err
	}

	priorMemory := ""
	cycleIndex := 0
	if prior != nil {
		priorMemory = prior.Memory
		cycleIndex = prior.CycleIndex + 1
		s.finalizePrior(ctx, prior)
	}

	startsAt := s.now().UTC()
	endsAt := startsAt.Add(s.cfg.CycleInterval())
	if window != nil {
		startsAt = window.StartsAt
		endsAt = window.EndsAt
	}
	cycleID := NewCycleID(startsAt)

	res, err := s.pipe.Generate(ctx, priorMemory)
	if err != nil {
		return nil, fmt.Errorf("deliberation for %s failed: %w", cycleID, err)
	}

	deliberation := make([]model.Turn, 0, len(res.Deliberation))
	texts := make([]string, 0, len(res.Deliberation))
	for _, turn := range res.Deliberation {
		deliberation = append(deliberation, model.Turn{Speaker: turn.Speaker, Text: turn.Text})
		texts = append(texts, turn.Text)
	}
	memory := pipeline.BuildCarryMemory(priorMemory, res.Transmission, strings.Join(texts, " / "), s.cfg.Pipeline.MaxMemoryChars)

	state := &model.State{
		CycleID:             cycleID,
		CycleIndex:          cycleIndex,
		At:                  startsAt.Format(time.RFC3339),
		Transmission:        res.Transmission,
		Trace:               res.Trace,
		Integrity:           res.Integrity,
		RepeatRisk:          res.RepeatRisk,
		Deliberation:        deliberation,
		Topics:              res.Topics,
		TopicsVersion:       res.TopicsVersion,
		SeedConcept:         res.SeedConcept,
		SeedConceptsVersion: res.SeedsVersion,
		DoctrineVersion:     s.pipe.Doctrine().Version(),
		ModelMeta:           model.ModelMeta{Primary: res.ModelMeta.Primary, Auditor: res.ModelMeta.Auditor},
		Seed:                seed,
		Memory:              memory,
		Locked:              false,
		CycleEndsAt:         endsAt.Format(time.RFC3339),
	}
	cycleDoc := &model.Cycle{
		CycleID:             cycleID,
		CycleIndex:          cycleIndex,
		At:                  state.At,
		Transmission:        res.Transmission,
		Trace:               res.Trace,
		Integrity:           res.Integrity,
		RepeatRisk:          res.RepeatRisk,
		Deliberation:        deliberation,
		Topics:              res.Topics,
		TopicsVersion:       res.TopicsVersion,
		SeedConcept:         res.SeedConcept,
		SeedConceptsVersion: res.SeedsVersion,
		DoctrineVersion:     state.DoctrineVersion,
		AuditIssues:         res.AuditIssues,
		AuditFlags:          model.AuditFlags{RepeatRisk: res.AuditFlags.RepeatRisk, ContradictionRisk: res.AuditFlags.ContradictionRisk},
		ModelMeta:           state.ModelMeta,
		Seed:                seed,
		Memory:              memory,
		CreatedBy:           createdBy,
		Version:             s.version,
	}

	if err := s.store.Set(ctx, model.StateKey, state); err != nil {
		return nil, fmt.Errorf("failed to publish state for %s: %w", cycleID, err)
	}
	if err := s.store.Set(ctx, model.CycleKey(cycleID), cycleDoc); err != nil {
		return nil, fmt.Errorf("failed to archive cycle %s: %w", cycleID, err)
	}
	if _, err := pipeline.UpdateMemory(ctx, s.store, res.Transmission, res.Topics); err != nil {
		logging.CycleWarn("memory update for %s failed: %v", cycleID, err)
	}
	s.recordEvent(ctx, model.Event{
		Type:    model.EventCycleCreated,
		CycleID: cycleID,
		At:      s.now().UTC().Format(time.RFC3339),
		Payload: map[string]interface{}{"createdBy": createdBy},
	})
	if err := s.notifier.AnnounceTransmission(ctx, cycleIndex, res.Transmission); err != nil {
		logging.NotifyWarn("transmission announcement for cycle %d failed: %v", cycleIndex, err)
	}
	logging.Cycle("cycle %d published (%s, by %s, integrity %s)", cycleIndex, cycleID, createdBy, res.Integrity)
	return state, nil
}

// finalizePrior draws the prior cycle's reward and announces the winner.
// Finalization problems never block the new cycle.
func (s *Service) finalizePrior(ctx context.Context, prior *model.State) {
	rw, err := s.finalizer.FinalizeCycle(ctx, prior.CycleID, prior.StanceCounts)
	if err != nil {
		logging.RewardWarn("finalizing %s failed: %v", prior.CycleID, err)
		return
	}
	if rw == nil {
		return
	}
	if err := s.notifier.AnnounceWinner(ctx, prior.CycleIndex, rw.Option); err != nil {
		logging.NotifyWarn("winner announcement for cycle %d failed: %v", prior.CycleIndex, err)
	}
}

func (s *Service) recordEvent(ctx context.Context, event model.Event) {
	key := model.EventKey(s.now().UnixMilli(), uuid.NewString()[:8])
	if err := s.store.Set(ctx, key, event); err != nil {
		logging.CycleWarn("failed to record event %s: %v", event.Type, err)
	}
}

// Run probes for due rotations until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SchedulerTick())
	defer ticker.Stop()
	logging.Boot("scheduler running, tick %s, interval %s", s.cfg.SchedulerTick(), s.cfg.CycleInterval())
	for {
		select {
		case <-ctx.Done():
			logging.Boot("scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.EnsureCurrentCycle(ctx); err != nil {
				logging.CycleWarn("scheduled rotation failed: %v", err)
			}
			if err := s.integrity.PrunePatterns(ctx); err != nil {
				logging.CycleWarn("vote pattern pruning failed: %v", err)
			}
		}
	}
}

// ArchiveEntry is the trimmed public view of one archived cycle.
type ArchiveEntry struct {
	CycleID       string             `json:"cycleId"`
	CycleIndex    int                `json:"cycleIndex"`
	At            string             `json:"at"`
	Transmission  string             `json:"transmission"`
	Trace         string             `json:"trace,omitempty"`
	Integrity     string             `json:"integrity"`
	Topics        []string           `json:"topics"`
	SeedConcept   string             `json:"seedConcept,omitempty"`
	StanceCounts  model.StanceCounts `json:"stanceCounts"`
	VoteIntegrity string             `json:"voteIntegrity"`
}

// Archive returns the newest cycles, newest first.
func (s *Service) Archive(ctx context.Context, limit int) ([]ArchiveEntry, error) {
	if limit <= 0 {
		limit = archiveDefaultLimit
	}
	if limit > archiveMaxLimit {
		limit = archiveMaxLimit
	}
	entries, err := s.store.List(ctx, "cycles/", 0, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list archive: %w", err)
	}
	cycles := make([]model.Cycle, 0, len(entries))
	for _, e := range entries {
		var c model.Cycle
		if err := json.Unmarshal(e.Value, &c); err != nil {
			logging.CycleWarn("skipping unreadable archive doc %s: %v", e.Key, err)
			continue
		}
		cycles = append(cycles, c)
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i].CycleIndex > cycles[j].CycleIndex })
	if len(cycles) > limit {
		cycles = cycles[:limit]
	}
	out := make([]ArchiveEntry, 0, len(cycles))
	for _, c := range cycles {
		out = append(out, ArchiveEntry{
			CycleID:       c.CycleID,
			CycleIndex:    c.CycleIndex,
			At:            c.At,
			Transmission:  c.Transmission,
			Trace:         c.Trace,
			Integrity:     c.Integrity,
			Topics:        c.Topics,
			SeedConcept:   c.SeedConcept,
			StanceCounts:  c.StanceCounts,
			VoteIntegrity: model.ComputeIntegrity(c.StanceCounts),
		})
	}
	return out, nil
}
