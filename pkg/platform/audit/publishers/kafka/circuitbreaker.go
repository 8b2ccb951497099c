package kafka

import (
	"sync"
	"time"
)

// circuitBreaker stops produce attempts while the brokers are unreachable so
// audit emission never stalls a verification pass.
type circuitBreaker struct {
	mu sync.RWMutex

	threshold int
	cooldown  time.Duration
	now       func() time.Time

	failures  int
	openUntil time.Time
	isOpen    bool
}

func newCircuitBreaker(threshold int, cooldown time.Duration) *circuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &circuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow returns true if the circuit is closed or the cooldown has expired.
func (cb *circuitBreaker) Allow() bool {
	cb.mu.RLock()
	if !cb.isOpen {
		cb.mu.RUnlock()
		return true
	}
	expired := cb.now().After(cb.openUntil)
	cb.mu.RUnlock()

	if !expired {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.isOpen && cb.now().After(cb.openUntil) {
		cb.isOpen = false
		cb.failures = 0
	}
	return !cb.isOpen
}

func (cb *circuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.isOpen = false
}

func (cb *circuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	if cb.failures >= cb.threshold {
		cb.isOpen = true
		cb.openUntil = cb.now().Add(cb.cooldown)
	}
}

func (cb *circuitBreaker) IsOpen() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.isOpen
}
