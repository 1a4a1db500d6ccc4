package integrity

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"kairo/internal/logging"
	"kairo/internal/model"
)

// Detection windows.
const (
	coordinatedWindow = 30 * time.Second
	coordinatedSpread = 10 * time.Second
	coordinatedMin    = 5
	rapidWindow       = 300 * time.Second
	rapidMax          = 3
	botMinDelay       = 5 * time.Second
	patternRetention  = 10 * time.Minute
)

// Anomaly reasons written into wallet flags.
const (
	ReasonCoordinated = "coordinated_voting"
	ReasonRapid       = "rapid_voting"
	ReasonImmediate   = "immediate_voting"
)

// VotePattern is one recorded vote kept for anomaly analysis. Patterns
// are persisted so detectors see votes cast through every instance
// sharing the store, not just their own.
type VotePattern struct {
	Wallet    string    `json:"wallet"`
	CycleID   string    `json:"cycleId"`
	Stance    string    `json:"stance"`
	Timestamp time.Time `json:"timestamp"`
}

// recordPattern persists one pattern under a timestamp-ordered key. The
// wallet suffix keeps concurrent writers from colliding on one key.
func (s *Service) recordPattern(ctx context.Context, p VotePattern) {
	key := model.VotePatternKey(p.Timestamp.UnixMilli(), p.Wallet)
	if err := s.store.Set(ctx, key, p); err != nil {
		logging.VotesWarn("failed to record vote pattern for %s: %v", p.Wallet, err)
	}
}

// recentPatterns returns every stored pattern newer than since. Detector
// errors degrade to an empty view rather than blocking the vote.
func (s *Service) recentPatterns(ctx context.Context, since time.Time) []VotePattern {
	entries, err := s.store.List(ctx, model.PatternPrefix, 0, false)
	if err != nil {
		logging.VotesWarn("vote pattern scan failed: %v", err)
		return nil
	}
	var out []VotePattern
	for _, e := range entries {
		var p VotePattern
		if err := json.Unmarshal(e.Value, &p); err != nil {
			logging.VotesWarn("skipping unreadable vote pattern %s: %v", e.Key, err)
			continue
		}
		if p.Timestamp.After(since) {
			out = append(out, p)
		}
	}
	return out
}

// PrunePatterns deletes patterns older than the retention horizon. Keys
// are timestamp-ordered, so the walk stops at the first retained entry.
// Meant for a scheduler tick, not the vote path.
func (s *Service) PrunePatterns(ctx context.Context) error {
	entries, err := s.store.List(ctx, model.PatternPrefix, 0, false)
	if err != nil {
		return err
	}
	cutoffMs := s.now().Add(-patternRetention).UnixMilli()
	for _, e := range entries {
		tsDigits := e.Key[len(model.PatternPrefix):]
		if len(tsDigits) > 13 {
			tsDigits = tsDigits[:13]
		}
		ms, err := strconv.ParseInt(tsDigits, 10, 64)
		if err != nil {
			continue
		}
		if ms > cutoffMs {
			break
		}
		if err := s.store.Delete(ctx, e.Key); err != nil {
			return err
		}
	}
	return nil
}

// CoordinatedResult is the coordinated-voting verdict.
type CoordinatedResult struct {
	Coordinated bool
	Count       int
	Stance      string
	Wallets     []string
}

// DetectCoordinated looks for ≥5 same-stance votes on one cycle within
// the trailing 30s whose first-to-last spread is under 10s.
func (s *Service) DetectCoordinated(ctx context.Context, cycleID string) CoordinatedResult {
	since := s.now().Add(-coordinatedWindow)
	var recent []VotePattern
	for _, p := range s.recentPatterns(ctx, since) {
		if p.CycleID == cycleID {
			recent = append(recent, p)
		}
	}
	if len(recent) < coordinatedMin {
		return CoordinatedResult{}
	}

	groups := make(map[string][]VotePattern)
	for _, p := range recent {
		groups[p.Stance] = append(groups[p.Stance], p)
	}
	for stance, group := range groups {
		if len(group) < coordinatedMin {
			continue
		}
		earliest, latest := group[0].Timestamp, group[0].Timestamp
		for _, p := range group[1:] {
			if p.Timestamp.Before(earliest) {
				earliest = p.Timestamp
			}
			if p.Timestamp.After(latest) {
				latest = p.Timestamp
			}
		}
		if latest.Sub(earliest) < coordinatedSpread {
			wallets := make([]string, len(group))
			for i, p := range group {
				wallets[i] = p.Wallet
			}
			logging.VotesWarn("coordinated voting on cycle %s: %d votes for %s in %v",
				cycleID, len(group), stance, latest.Sub(earliest))
			return CoordinatedResult{Coordinated: true, Count: len(group), Stance: stance, Wallets: wallets}
		}
	}
	return CoordinatedResult{}
}

// DetectRapid reports whether the wallet has cast more than 3 votes in
// the trailing 300s, across any cycles.
func (s *Service) DetectRapid(ctx context.Context, wallet string) (bool, int) {
	count := 0
	for _, p := range s.recentPatterns(ctx, s.now().Add(-rapidWindow)) {
		if p.Wallet == wallet {
			count++
		}
	}
	if count > rapidMax {
		logging.VotesWarn("rapid voting by %s: %d votes in %v", wallet, count, rapidWindow)
		return true, count
	}
	return false, count
}

// DetectImmediate reports whether the vote landed within 5s of the
// cycle's start.
func (s *Service) DetectImmediate(voteAt, cycleStart time.Time) bool {
	return voteAt.Sub(cycleStart) < botMinDelay
}

// Anomaly describes one detector hit.
type Anomaly struct {
	Type    string   `json:"type"`
	Count   int      `json:"count,omitempty"`
	Stance  string   `json:"stance,omitempty"`
	Wallets []string `json:"wallets,omitempty"`
}

// RunDetection records the vote pattern and runs all three detectors.
// Every implicated wallet gets flagged; the vote itself already counted,
// the flags bite on the next attempt.
func (s *Service) RunDetection(ctx context.Context, wallet, cycleID, stance string, cycleStart time.Time) []Anomaly {
	now := s.now()
	s.recordPattern(ctx, VotePattern{Wallet: wallet, CycleID: cycleID, Stance: stance, Timestamp: now})

	var anomalies []Anomaly

	if coordinated := s.DetectCoordinated(ctx, cycleID); coordinated.Coordinated {
		anomalies = append(anomalies, Anomaly{
			Type:    ReasonCoordinated,
			Count:   coordinated.Count,
			Stance:  coordinated.Stance,
			Wallets: coordinated.Wallets,
		})
		for _, w := range coordinated.Wallets {
			if err := s.FlagWallet(ctx, w, ReasonCoordinated); err != nil {
				logging.Get(logging.CategoryVotes).Error("failed to flag %s: %v", w, err)
			}
		}
	}

	if rapid, count := s.DetectRapid(ctx, wallet); rapid {
		anomalies = append(anomalies, Anomaly{Type: ReasonRapid, Count: count})
		if err := s.FlagWallet(ctx, wallet, ReasonRapid); err != nil {
			logging.Get(logging.CategoryVotes).Error("failed to flag %s: %v", wallet, err)
		}
	}

	if s.DetectImmediate(now, cycleStart) {
		anomalies = append(anomalies, Anomaly{Type: ReasonImmediate})
		if err := s.FlagWallet(ctx, wallet, ReasonImmediate); err != nil {
			logging.Get(logging.CategoryVotes).Error("failed to flag %s: %v", wallet, err)
		}
	}

	if len(anomalies) > 0 {
		logging.VotesWarn("anomalies for %s on %s: %d", wallet, cycleID, len(anomalies))
	}
	return anomalies
}
