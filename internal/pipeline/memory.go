package pipeline

import (
	"context"
	"errors"
	"fmt"

	"kairo/internal/store"
)

const memoryKey = "memory/recent"

// Ring buffer caps for transmission memory. All lists are newest-first.
const (
	maxSummaries = 50
	maxTopics    = 50
	maxPhrases   = 200
	maxFullTexts = 10
)

// Memory holds recent transmission context used for variety enforcement.
type Memory struct {
	LastSummaries []string `json:"lastSummaries"`
	LastTopics    []string `json:"lastTopics"`
	LastPhrases   []string `json:"lastPhrases"`
	LastFull      []string `json:"lastFull"`
}

// LoadMemory reads the memory document, returning an empty memory if it
// does not exist yet.
func LoadMemory(ctx context.Context, s store.Store) (*Memory, error) {
	var m Memory
	err := s.Get(ctx, memoryKey, &m)
	if errors.Is(err, store.ErrNotFound) {
		return &Memory{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load memory: %w", err)
	}
	return &m, nil
}

// UpdateMemory prepends the new transmission's summary, topics, bigrams
// and full text, trims each list to its cap, and persists the result.
func UpdateMemory(ctx context.Context, s store.Store, transmission string, topics []string) (*Memory, error) {
	m, err := LoadMemory(ctx, s)
	if err != nil {
		return nil, err
	}

	m.LastSummaries = prependCapped(m.LastSummaries, []string{BuildSummary(transmission)}, maxSummaries)
	m.LastTopics = prependCapped(m.LastTopics, topics, maxTopics)
	m.LastPhrases = prependCapped(m.LastPhrases, ExtractBigrams(transmission), maxPhrases)
	m.LastFull = prependCapped(m.LastFull, []string{transmission}, maxFullTexts)

	if err := s.Set(ctx, memoryKey, m); err != nil {
		return nil, fmt.Errorf("failed to save memory: %w", err)
	}
	return m, nil
}

func prependCapped(existing, newest []string, limit int) []string {
	out := make([]string, 0, len(newest)+len(existing))
	out = append(out, newest...)
	out = append(out, existing...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// RepeatRisk is the variety gate verdict for one candidate transmission.
type RepeatRisk struct {
	Risky bool
	Score float64
}

// ComputeRepeatRisk compares the candidate's bigrams against every stored
// full text and flags the candidate when the best overlap exceeds the
// threshold.
func ComputeRepeatRisk(transmission string, m *Memory, threshold float64) RepeatRisk {
	current := ExtractBigrams(transmission)
	var max float64
	for _, past := range m.LastFull {
		if overlap := ComputeOverlap(current, ExtractBigrams(past)); overlap > max {
			max = overlap
		}
	}
	return RepeatRisk{Risky: max > threshold, Score: max}
}

// AvoidPhrases returns up to limit distinct recent bigrams, newest first.
func (m *Memory) AvoidPhrases(limit int) []string {
	seen := make(map[string]bool, len(m.LastPhrases))
	var out []string
	for _, p := range m.LastPhrases {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
		if len(out) >= limit {
			break
		}
	}
	return out
}
