package llmrouter

import (
	"context"
	"sync"
	"time"
)

// tokenBucket is a hand-rolled requests-per-minute limiter for the remote
// role. The pack carries no dedicated rate-limiting library, so this
// follows the standard refill-on-read bucket algorithm.
type tokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	last       time.Time
}

func newTokenBucket(rpm int) *tokenBucket {
	cap := float64(rpm)
	return &tokenBucket{
		capacity:   cap,
		tokens:     cap,
		refillRate: cap / 60.0,
		last:       time.Now(),
	}
}

// take blocks until a token is available or ctx is done.
func (b *tokenBucket) take(ctx context.Context) error {
	for {
		if b.tryTake() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (b *tokenBucket) tryTake() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.last).Seconds()
	b.last = now
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}
