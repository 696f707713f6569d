package actual

import (
	"sync"
	"time"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// breaker fails fast after threshold consecutive failed requests and lets a
// single probe through once cooldown has elapsed.
type breaker struct {
	mu        sync.Mutex
	state     breakerState
	failures  int
	threshold int
	cooldown  time.Duration
	openedAt  time.Time
	now       func() time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case stateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = stateHalfOpen
		return true
	case stateHalfOpen:
		// one probe at a time
		return false
	default:
		return true
	}
}

func (b *breaker) success() {
	b.mu.Lock()
	b.state = stateClosed
	b.failures = 0
	b.mu.Unlock()
}

func (b *breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.state == stateHalfOpen || b.failures >= b.threshold {
		b.state = stateOpen
		b.openedAt = b.now()
	}
}

// abort returns a half-open breaker to open without counting a failure, so the
// next caller may probe again. Used when the probe was cancelled.
func (b *breaker) abort() {
	b.mu.Lock()
	if b.state == stateHalfOpen {
		b.state = stateOpen
		b.openedAt = b.now().Add(-b.cooldown)
	}
	b.mu.Unlock()
}
