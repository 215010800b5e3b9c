package llm

import (
	"sync"
	"time"
)

const (
	// DefaultRateLimit is the number of completions a sender may trigger per
	// window when nothing else is configured.
	DefaultRateLimit = 10
	// DefaultRateWindow is the sliding window of the rate limiter.
	DefaultRateWindow = time.Minute
	// DefaultDailyTokenBudget caps the tokens one guild may spend per UTC day.
	DefaultDailyTokenBudget = 200_000
)

// RateLimiter is a per-sender sliding-window limiter. It keeps at most
// limit timestamps per active sender. Safe for concurrent use.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	calls  map[string][]time.Time
	now    func() time.Time
}

// NewRateLimiter allows limit calls per sender per window. Non-positive
// values take the defaults.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &RateLimiter{limit: limit, window: window, calls: make(map[string][]time.Time), now: time.Now}
}

// Allow records a call for sender and reports whether it is within quota.
// A refused call is not recorded.
func (r *RateLimiter) Allow(sender string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	recent := r.prune(sender, now)
	if len(recent) >= r.limit {
		return false
	}
	r.calls[sender] = append(recent, now)
	return true
}

// Remaining returns how many calls sender may still make in the window.
func (r *RateLimiter) Remaining(sender string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return max(r.limit-len(r.prune(sender, r.now())), 0)
}

// prune drops timestamps older than the window. Must hold r.mu.
func (r *RateLimiter) prune(sender string, now time.Time) []time.Time {
	cutoff := now.Add(-r.window)
	kept := r.calls[sender][:0]
	for _, t := range r.calls[sender] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(r.calls, sender)
		return nil
	}
	r.calls[sender] = kept
	return kept
}

// TokenBudget caps the completion tokens a guild may spend per UTC day.
// Allow is checked before a call and Record after it, so one call may
// overshoot the budget. Safe for concurrent use.
type TokenBudget struct {
	mu     sync.Mutex
	budget int
	used   map[string]int
	day    string
	now    func() time.Time
}

// NewTokenBudget returns a budget of daily tokens per guild. Non-positive
// values take DefaultDailyTokenBudget.
func NewTokenBudget(daily int) *TokenBudget {
	if daily <= 0 {
		daily = DefaultDailyTokenBudget
	}
	return &TokenBudget{budget: daily, used: make(map[string]int), now: time.Now}
}

// Budget returns the daily allowance.
func (b *TokenBudget) Budget() int { return b.budget }

// Allow reports whether guild still has tokens left today.
func (b *TokenBudget) Allow(guild string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()
	return b.used[guild] < b.budget
}

// Record adds tokens to guild's usage for today.
func (b *TokenBudget) Record(guild string, tokens int) {
	if tokens <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()
	b.used[guild] += tokens
}

// Remaining returns today's unspent tokens for guild.
func (b *TokenBudget) Remaining(guild string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()
	return max(b.budget-b.used[guild], 0)
}

// rollover clears all counters when the UTC day changes. Must hold b.mu.
func (b *TokenBudget) rollover() {
	today := b.now().UTC().Format(time.DateOnly)
	if today != b.day {
		b.day = today
		clear(b.used)
	}
}
