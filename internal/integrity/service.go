package integrity

import (
	"time"

	"kairo/internal/store"
)

// Service bundles the vote-integrity checks over one store. Vote
// patterns and wallet reputation are persisted so every instance sharing
// the store sees the same picture; only the rate limiter is in-process,
// its window being shorter than any plausible restart gap's impact.
type Service struct {
	store      store.Store
	limiter    *RateLimiter
	rateWindow time.Duration
	now        func() time.Time
}

// NewService creates an integrity service.
func NewService(s store.Store) *Service {
	return &Service{
		store:   s,
		limiter: NewRateLimiter(),
		now:     time.Now,
	}
}

// SetRateWindow overrides the sliding window applied to every rate
// tier. Non-positive durations keep the tier default.
func (s *Service) SetRateWindow(d time.Duration) {
	if d > 0 {
		s.rateWindow = d
	}
}

// SetClock overrides the time source. Test hook.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
	s.limiter.now = now
}
