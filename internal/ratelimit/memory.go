package ratelimit

import (
	"sync"
	"time"
)

// MemoryGate is an in-process SharedGate with no persistence. It backs
// tests and runtimes that opt out of cross-process sharing.
type MemoryGate struct {
	mu      sync.Mutex
	entries map[string]Entry
	now     func() time.Time
}

// NewMemoryGate creates an empty in-memory gate.
func NewMemoryGate() *MemoryGate {
	return &MemoryGate{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

// Snapshot reports the current wait for key, combined with the global scope.
func (g *MemoryGate) Snapshot(key string) Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	nowMs := g.now().UnixMilli()
	prune(g.entries, nowMs)
	return combinedSnapshot(g.entries, key, nowMs)
}

// RegisterHit records a rate-limit failure on key.
func (g *MemoryGate) RegisterHit(key string, suggestedDelay time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	nowMs := g.now().UnixMilli()
	registerHit(g.entries, key, suggestedDelay.Milliseconds(), nowMs)
	prune(g.entries, nowMs)
}

// RegisterSuccess unwinds one hit on key.
func (g *MemoryGate) RegisterSuccess(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	nowMs := g.now().UnixMilli()
	registerSuccess(g.entries, key, nowMs)
	prune(g.entries, nowMs)
}

// Len returns the number of tracked keys.
func (g *MemoryGate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
