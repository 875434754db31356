package ws

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipLimiter throttles connection attempts per client IP with a token
// bucket per address. Entries idle for ten minutes are dropped.
type ipLimiter struct {
	mu      sync.Mutex
	entries map[string]*ipLimiterEntry
	rps     float64
}

type ipLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPLimiter(ctx context.Context, rps float64) *ipLimiter {
	l := &ipLimiter{
		entries: make(map[string]*ipLimiterEntry),
		rps:     rps,
	}
	go l.cleanup(ctx)
	return l
}

func (l *ipLimiter) Allow(ip string) bool {
	l.mu.Lock()
	entry, ok := l.entries[ip]
	if !ok {
		entry = &ipLimiterEntry{
			limiter: rate.NewLimiter(rate.Limit(l.rps), int(l.rps)*2),
		}
		l.entries[ip] = entry
	}
	entry.lastSeen = time.Now()
	l.mu.Unlock()

	return entry.limiter.Allow()
}

func (l *ipLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			cutoff := time.Now().Add(-10 * time.Minute)
			for ip, entry := range l.entries {
				if entry.lastSeen.Before(cutoff) {
					delete(l.entries, ip)
				}
			}
			l.mu.Unlock()
		}
	}
}
