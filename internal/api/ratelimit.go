package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// userLimiter hands out one token bucket per caller. Buckets that sit idle are
// pruned on the next lookup after pruneEvery.
type userLimiter struct {
	mu         sync.Mutex
	limit      rate.Limit
	burst      int
	buckets    map[string]*bucket
	lastPrune  time.Time
	pruneEvery time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newUserLimiter allows perMinute requests per caller. Zero disables limiting.
func newUserLimiter(perMinute int) *userLimiter {
	if perMinute <= 0 {
		return nil
	}
	burst := perMinute / 6
	if burst < 5 {
		burst = 5
	}
	return &userLimiter{
		limit:      rate.Limit(float64(perMinute) / 60),
		burst:      burst,
		buckets:    make(map[string]*bucket),
		pruneEvery: 10 * time.Minute,
	}
}

func (l *userLimiter) Allow(userID string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastPrune) > l.pruneEvery {
		for id, b := range l.buckets {
			if now.Sub(b.lastSeen) > l.pruneEvery {
				delete(l.buckets, id)
			}
		}
		l.lastPrune = now
	}
	b, ok := l.buckets[userID]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[userID] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}
