package httpapi

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// loginLimiter rate limits login attempts per client IP.
type loginLimiter struct {
	perMinute int

	mu    sync.Mutex
	items map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const limiterIdleEviction = 30 * time.Minute

func newLoginLimiter(perMinute int) *loginLimiter {
	return &loginLimiter{
		perMinute: perMinute,
		items:     make(map[string]*limiterEntry),
	}
}

func (l *loginLimiter) allow(ip string) bool {
	if l.perMinute <= 0 {
		return true
	}
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, entry := range l.items {
		if now.Sub(entry.lastSeen) > limiterIdleEviction {
			delete(l.items, key)
		}
	}
	entry, ok := l.items[ip]
	if !ok {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(float64(l.perMinute)/60.0), l.perMinute),
		}
		l.items[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.Allow()
}
