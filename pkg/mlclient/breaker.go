/**
 * @description
 * A small consecutive-failure circuit breaker. After threshold consecutive
 * failures the breaker opens and Allow returns false until the cooldown
 * elapses, at which point one probe attempt is let through.
 */
package mlclient

import (
	"sync"
	"time"
)

type circuitBreaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	failures  int
	openedAt  time.Time
}

func newCircuitBreaker(threshold int, cooldown time.Duration) *circuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &circuitBreaker{threshold: threshold, cooldown: cooldown}
}

// Allow reports whether a call may proceed. An open breaker admits a single
// probe once the cooldown has elapsed.
func (b *circuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.threshold {
		return true
	}
	if time.Since(b.openedAt) >= b.cooldown {
		// Half-open: let one probe through. A failure re-opens immediately.
		b.failures = b.threshold - 1
		return true
	}
	return false
}

func (b *circuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

func (b *circuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures == b.threshold {
		b.openedAt = time.Now()
	}
}
