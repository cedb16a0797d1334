package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// XRateStore is an InMemoryStore alternative backed by golang.org/x/time/rate
// instead of the hand-rolled TokenBucket above. It exists because a single
// classifier instance fielding both LLM calls and dispatcher throttling
// benefits from the standard library-adjacent limiter's well-tested burst
// accounting; InMemoryStore remains the in-process store the classifier
// binary wires when no Redis address is configured.
type XRateStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewXRateStore returns an empty XRateStore.
func NewXRateStore() *XRateStore {
	return &XRateStore{limiters: make(map[string]*rate.Limiter)}
}

// Allow implements Store using a per-actor x/time/rate.Limiter, lazily
// created from policy on first use and reused thereafter.
func (s *XRateStore) Allow(_ context.Context, actorID string, policy Policy, cost int) (bool, error) {
	s.mu.Lock()
	lim, ok := s.limiters[actorID]
	if !ok {
		perSec := float64(policy.RequestsPerMinute) / 60.0
		if perSec <= 0 {
			perSec = 1
		}
		burst := policy.Burst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(perSec), burst)
		s.limiters[actorID] = lim
	}
	s.mu.Unlock()

	return lim.AllowN(time.Now(), cost), nil
}
