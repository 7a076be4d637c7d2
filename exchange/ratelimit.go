package exchange

import (
	"sync"
	"time"
)

// WindowLimiter is a local, defensive request budget enforced before
// dispatch, independent of the exchange's own limits. It admits up to budget
// requests per (endpoint group) key within a fixed window; requests beyond
// the budget are rejected, not queued, with a computable retry-after.
type WindowLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	budget  int
	budgets map[string]int
	buckets map[string]*windowBucket

	now func() time.Time
}

type windowBucket struct {
	start time.Time
	count int
}

// NewWindowLimiter creates a limiter admitting budget requests per window
// for every key unless a per-group override is set.
func NewWindowLimiter(budget int, window time.Duration) *WindowLimiter {
	if budget <= 0 {
		budget = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &WindowLimiter{
		window:  window,
		budget:  budget,
		budgets: make(map[string]int),
		buckets: make(map[string]*windowBucket),
		now:     time.Now,
	}
}

// SetBudget overrides the request budget for one endpoint group.
func (l *WindowLimiter) SetBudget(group string, budget int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if budget > 0 {
		l.budgets[group] = budget
	}
}

// Allow admits one request for the given endpoint group or returns a
// rate-limit error carrying the remaining window as the retry-after hint.
// The window resets once it has fully elapsed; the admitting call after a
// reset counts as the first of the new window.
func (l *WindowLimiter) Allow(exchange, group string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[group]
	if !ok || now.Sub(b.start) >= l.window {
		l.buckets[group] = &windowBucket{start: now, count: 1}
		return nil
	}

	budget := l.budget
	if override, ok := l.budgets[group]; ok {
		budget = override
	}
	if b.count >= budget {
		retryAfter := l.window - now.Sub(b.start)
		return NewRateLimitError(exchange, "local request budget exceeded for "+group, retryAfter)
	}
	b.count++
	return nil
}

// Remaining reports how many requests the group may still issue in the
// current window.
func (l *WindowLimiter) Remaining(group string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	budget := l.budget
	if override, ok := l.budgets[group]; ok {
		budget = override
	}
	b, ok := l.buckets[group]
	if !ok || l.now().Sub(b.start) >= l.window {
		return budget
	}
	if b.count >= budget {
		return 0
	}
	return budget - b.count
}
