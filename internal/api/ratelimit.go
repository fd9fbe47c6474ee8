package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// accountLimiter keeps one token bucket per account.
type accountLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
	idle     time.Duration
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newAccountLimiter(perSecond float64, burst int) *accountLimiter {
	return &accountLimiter{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idle:     10 * time.Minute,
	}
}

// Allow consumes a token from account's bucket.
func (l *accountLimiter) Allow(account string) bool {
	now := time.Now()
	l.mu.Lock()
	e, ok := l.limiters[account]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[account] = e
	}
	e.lastSeen = now
	l.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}

// Prune drops buckets of accounts idle for longer than the idle window.
func (l *accountLimiter) Prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for account, e := range l.limiters {
		if now.Sub(e.lastSeen) > l.idle {
			delete(l.limiters, account)
			n++
		}
	}
	return n
}
