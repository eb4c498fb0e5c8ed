package core

import (
	"fmt"
	"sync"
)

// IterationLimiter enforces a maximum number of steps. It backs the per-agent
// activation cap; the session-wide ceiling lives in SessionState so that it
// can be passed around explicitly.
type IterationLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewIterationLimiter creates a new limiter with a max number of steps.
// If max == 0, unlimited steps are allowed.
func NewIterationLimiter(max int) *IterationLimiter {
	return &IterationLimiter{max: max}
}

// Increment increases the counter and returns an error wrapping
// ErrMaxIterationsExceeded once the limit is exceeded.
func (l *IterationLimiter) Increment() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.count++
	if l.max > 0 && l.count > l.max {
		return fmt.Errorf("%w: %d steps allowed", ErrMaxIterationsExceeded, l.max)
	}

	return nil
}

// Count returns the current number of steps.
func (l *IterationLimiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.count
}

// Remaining returns how many steps are left before hitting the limit.
func (l *IterationLimiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max == 0 {
		return -1 // unlimited
	}

	return l.max - l.count
}

// Reset sets the counter back to zero.
func (l *IterationLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.count = 0
}
