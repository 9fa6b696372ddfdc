package orchestrator

import "sync"

// CallLimiter counts tool calls across one ProcessMessage run and reports when
// the configured cap is exceeded. If max == 0, the limiter never trips.
type CallLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewCallLimiter creates a limiter with a maximum number of tool calls.
func NewCallLimiter(max int) *CallLimiter {
	return &CallLimiter{max: max}
}

// Add records n executed tool calls.
func (cl *CallLimiter) Add(n int) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.count += n
}

// Exceeded reports whether the recorded calls surpass the cap.
func (cl *CallLimiter) Exceeded() bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.max > 0 && cl.count > cl.max
}

// Count returns the number of calls recorded so far.
func (cl *CallLimiter) Count() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.count
}

// Remaining returns how many calls are left before hitting the cap, or -1 when
// the limiter is unbounded.
func (cl *CallLimiter) Remaining() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.max == 0 {
		return -1
	}
	return cl.max - cl.count
}
