package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// sweepEvery is how many checks pass between sweeps of idle keys.
const sweepEvery = 256

// MemoryLimiter keeps sliding windows in process memory. It serves single-instance
// deployments and runs when Redis is disabled.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	checks  int
	now     func() time.Time
	log     *slog.Logger
}

var _ Limiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter returns an in-memory limiter.
func NewMemoryLimiter(log *slog.Logger) *MemoryLimiter {
	if log == nil {
		log = slog.Default()
	}

	return &MemoryLimiter{
		windows: make(map[string][]time.Time),
		now:     time.Now,
		log:     log,
	}
}

// Check records a request for key unless the window is already full.
func (m *MemoryLimiter) Check(_ context.Context, key string, limit int, window time.Duration) (*Result, error) {
	now := m.now()
	windowStart := now.Add(-window)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.checks++
	if m.checks%sweepEvery == 0 {
		m.sweepLocked(windowStart)
	}

	requests := keepRecent(m.windows[key], windowStart)
	allowed := len(requests) < limit
	if allowed {
		requests = append(requests, now)
	}
	m.windows[key] = requests

	result := &Result{
		Allowed:   allowed,
		Remaining: remaining(limit, len(requests)),
		ResetAt:   now.Add(window),
	}
	if len(requests) > 0 {
		result.ResetAt = requests[0].Add(window)
	}

	if !allowed {
		return result, ErrLimitExceeded
	}
	return result, nil
}

func (m *MemoryLimiter) sweepLocked(windowStart time.Time) {
	for key, requests := range m.windows {
		if len(requests) == 0 || requests[len(requests)-1].Before(windowStart) {
			delete(m.windows, key)
		}
	}
}

func keepRecent(reqs []time.Time, windowStart time.Time) []time.Time {
	first := 0
	for first < len(reqs) && reqs[first].Before(windowStart) {
		first++
	}

	if first == 0 {
		return reqs
	}

	n := copy(reqs, reqs[first:])
	return reqs[:n]
}
