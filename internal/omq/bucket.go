package omq

import (
	"sync"
	"time"
)

// tokenBucket is a per-link dequeue rate limiter: an elapsed-time
// refill scheme scoped to one link instead of one source address.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	rate       float64 // tokens added per second; 0 means unlimited
	burst      float64
}

// newTokenBucket builds a bucket that allows everything when rate is 0.
func newTokenBucket(ratePerSecond uint32, now time.Time) *tokenBucket {
	if ratePerSecond == 0 {
		return &tokenBucket{rate: 0}
	}
	burst := float64(ratePerSecond)
	return &tokenBucket{
		tokens:     burst,
		lastRefill: now,
		rate:       float64(ratePerSecond),
		burst:      burst,
	}
}

// allow reports whether a token is available at now, consuming it if so.
func (b *tokenBucket) allow(now time.Time) bool {
	if b.rate == 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefill)
	if elapsed > 0 {
		b.tokens += elapsed.Seconds() * b.rate
		if b.tokens > b.burst {
			b.tokens = b.burst
		}
		b.lastRefill = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}
