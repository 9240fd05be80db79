package ratelimit

import (
	"sync"
	"time"
)

// Global is the account-wide quota. One writer (the executor) marks it
// exhausted; every bucket reads it before admitting a job.
type Global struct {
	mu    sync.RWMutex
	clock Clock
	until time.Time
}

func NewGlobal(clock Clock) *Global {
	if clock == nil {
		clock = SystemClock()
	}
	return &Global{clock: clock}
}

// Set marks the global quota exhausted for reset.
func (g *Global) Set(reset time.Duration) {
	if reset < 0 {
		reset = 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.until = g.clock.Now().Add(reset)
}

// Active reports whether the global quota is exhausted and how much of the
// reset is left. It clears once reset has elapsed.
func (g *Global) Active() (bool, time.Duration) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.until.IsZero() {
		return false, 0
	}
	now := g.clock.Now()
	if !now.Before(g.until) {
		return false, 0
	}
	return true, g.until.Sub(now)
}
