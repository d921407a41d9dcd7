// Package ratelimit enforces each profile's per-window request allowance.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrBackendUnavailable is returned when no counter backend can answer and
	// the limiter is configured to fail closed.
	ErrBackendUnavailable = errors.New("rate limit backend unavailable")
)

// Decision describes the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int // 0 when unlimited
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per user in fixed windows.
type Limiter interface {
	// Allow records one request for userID and reports whether it fits in
	// limit requests for the current window. limit <= 0 means unlimited.
	Allow(ctx context.Context, userID string, limit int) (Decision, error)
}

// unlimited is the decision for profiles without a cap.
func unlimited() Decision {
	return Decision{Allowed: true}
}

func decide(count int64, limit int, resetAt time.Time) Decision {
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// MemoryLimiter implements Limiter with in-process fixed windows.
type MemoryLimiter struct {
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*counter
}

type counter struct {
	start time.Time
	count int64
}

// NewMemoryLimiter creates a MemoryLimiter with the given window length.
func NewMemoryLimiter(window time.Duration) *MemoryLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &MemoryLimiter{
		window:  window,
		now:     time.Now,
		windows: make(map[string]*counter),
	}
}

// Allow implements Limiter.
func (m *MemoryLimiter) Allow(_ context.Context, userID string, limit int) (Decision, error) {
	if limit <= 0 {
		return unlimited(), nil
	}
	start := m.now().Truncate(m.window)

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.windows[userID]
	if !ok || !c.start.Equal(start) {
		c = &counter{start: start}
		m.windows[userID] = c
	}
	c.count++
	return decide(c.count, limit, start.Add(m.window)), nil
}

// Sweep drops counters from finished windows.
func (m *MemoryLimiter) Sweep() {
	start := m.now().Truncate(m.window)
	m.mu.Lock()
	for id, c := range m.windows {
		if c.start.Before(start) {
			delete(m.windows, id)
		}
	}
	m.mu.Unlock()
}

// Sweeper is a limiter holding in-process counters that need pruning.
type Sweeper interface {
	Sweep()
}

// RunSweeper calls s.Sweep every interval until ctx is done.
func RunSweeper(ctx context.Context, s Sweeper, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
