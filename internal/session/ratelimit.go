package session

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipLimiterTTL is how long a per-IP limiter survives without traffic before
// it is evicted, bounding memory use under churn from transient peers.
const ipLimiterTTL = 10 * time.Minute

// RateLimiter enforces a per-peer-IP requests-per-second quota using one
// token bucket per IP, created lazily on first contact.
type RateLimiter struct {
	mu        sync.Mutex
	perSecond rate.Limit
	burst     int
	limiters  map[string]*limiterEntry
	lastSweep time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// NewRateLimiter returns a limiter allowing maxReqsPerSec requests per
// second per peer IP, with a matching burst of the same size.
func NewRateLimiter(maxReqsPerSec int) *RateLimiter {
	return &RateLimiter{
		perSecond: rate.Limit(maxReqsPerSec),
		burst:     maxReqsPerSec,
		limiters:  make(map[string]*limiterEntry),
		lastSweep: time.Now(),
	}
}

// Allow reports whether peerIP may proceed under its current token bucket.
func (r *RateLimiter) Allow(peerIP string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked()

	e, ok := r.limiters[peerIP]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(r.perSecond, r.burst)}
		r.limiters[peerIP] = e
	}

	e.lastUsed = time.Now()

	return e.limiter.Allow()
}

func (r *RateLimiter) sweepLocked() {
	if time.Since(r.lastSweep) < ipLimiterTTL {
		return
	}

	cutoff := time.Now().Add(-ipLimiterTTL)
	for ip, e := range r.limiters {
		if e.lastUsed.Before(cutoff) {
			delete(r.limiters, ip)
		}
	}

	r.lastSweep = time.Now()
}
