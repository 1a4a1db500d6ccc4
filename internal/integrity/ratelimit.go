package integrity

import (
	"sync"
	"time"
)

// RateTier is one reputation band's vote budget.
type RateTier struct {
	Name        string
	MaxRequests int
	Window      time.Duration
}

// TierFor maps a reputation score to its rate-limit tier.
func TierFor(score float64) RateTier {
	switch {
	case score >= 80:
		return RateTier{Name: "trusted", MaxRequests: 20, Window: time.Minute}
	case score >= 50:
		return RateTier{Name: "established", MaxRequests: 12, Window: time.Minute}
	case score >= 20:
		return RateTier{Name: "regular", MaxRequests: 8, Window: time.Minute}
	default:
		return RateTier{Name: "new", MaxRequests: 3, Window: time.Minute}
	}
}

// RateLimiter is a per-key sliding-window counter.
type RateLimiter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

// NewRateLimiter creates an empty limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		hits: make(map[string][]time.Time),
		now:  time.Now,
	}
}

// Allow evicts attempts older than the tier window, rejects when the
// retained count has reached the tier limit, and otherwise records this
// attempt. Rejected attempts are not recorded.
func (r *RateLimiter) Allow(key string, tier RateTier) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	windowStart := now.Add(-tier.Window)
	var recent []time.Time
	for _, t := range r.hits[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= tier.MaxRequests {
		r.hits[key] = recent
		return false
	}
	r.hits[key] = append(recent, now)
	return true
}

// Allow checks and records one vote attempt for the wallet at the tier
// implied by its reputation score. A configured rate window replaces the
// tier default.
func (s *Service) Allow(wallet string, score float64) (bool, RateTier) {
	tier := TierFor(score)
	if s.rateWindow > 0 {
		tier.Window = s.rateWindow
	}
	return s.limiter.Allow(wallet, tier), tier
}
