package ratelimit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	stateFileName  = "retry-rate-limit-state.json"
	stateVersion   = 1
	writeDebounce  = 500 * time.Millisecond
	stateFilePerms = 0644
)

// persistedState is the serializable representation of the gate.
type persistedState struct {
	Version   int              `json:"version"`
	UpdatedAt string           `json:"updatedAt"`
	Entries   map[string]Entry `json:"entries"`
}

// FileGate is the file-backed SharedGate. Every mutation acquires a
// cross-process flock, merges the on-disk entries into memory (newest
// transition per key wins), applies the mutation, and schedules a
// debounced write. Keys a success unwound to zero are tombstoned so the
// next merge does not resurrect them from a stale file. If the lock
// cannot be acquired the mutation is applied in memory only and the
// write stays best-effort.
type FileGate struct {
	dir string

	mu         sync.Mutex
	entries    map[string]Entry
	dropped    map[string]int64
	dirty      bool
	writeTimer *time.Timer
	now        func() time.Time
}

// NewFileGate creates a gate persisted under dir, typically the user's
// runtime directory. The directory is created if missing.
func NewFileGate(dir string) (*FileGate, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create runtime dir: %w", err)
	}
	return &FileGate{
		dir:     dir,
		entries: make(map[string]Entry),
		dropped: make(map[string]int64),
		now:     time.Now,
	}, nil
}

// Snapshot reports the current wait for key, combined with the global
// scope. The read merges disk state so a block registered by another
// process is visible immediately.
func (g *FileGate) Snapshot(key string) Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	nowMs := g.now().UnixMilli()
	g.syncLocked(nowMs)
	return combinedSnapshot(g.entries, key, nowMs)
}

// RegisterHit records a rate-limit failure on key.
func (g *FileGate) RegisterHit(key string, suggestedDelay time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	nowMs := g.now().UnixMilli()
	g.syncLocked(nowMs)
	registerHit(g.entries, key, suggestedDelay.Milliseconds(), nowMs)
	delete(g.dropped, key)
	prune(g.entries, nowMs)
	g.scheduleWriteLocked()
}

// RegisterSuccess unwinds one hit on key.
func (g *FileGate) RegisterSuccess(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	nowMs := g.now().UnixMilli()
	g.syncLocked(nowMs)
	if at, gone := registerSuccess(g.entries, key, nowMs); gone {
		g.dropped[key] = at
	}
	g.scheduleWriteLocked()
}

// Flush writes any pending state synchronously. Call before process exit.
func (g *FileGate) Flush() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.writeTimer != nil {
		g.writeTimer.Stop()
		g.writeTimer = nil
	}
	if !g.dirty {
		return nil
	}
	return g.writeLocked()
}

// syncLocked merges the on-disk entries into memory and prunes. Merge runs
// before any mutation so concurrent processes never lose each other's
// hits. Lock failure degrades to memory-only.
func (g *FileGate) syncLocked(nowMs int64) {
	fl := stateLock(g.dir)
	if err := fl.Lock(); err == nil {
		if disk := g.readState(); disk != nil {
			merge(g.entries, disk, g.dropped)
		}
		_ = fl.Unlock()
	}
	prune(g.entries, nowMs)
	for key, at := range g.dropped {
		if nowMs-at > pruneAfterMs {
			delete(g.dropped, key)
		}
	}
}

// scheduleWriteLocked arms the debounce timer; consecutive mutations
// within the window coalesce into a single write.
func (g *FileGate) scheduleWriteLocked() {
	g.dirty = true
	if g.writeTimer != nil {
		return
	}
	g.writeTimer = time.AfterFunc(writeDebounce, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.writeTimer = nil
		if g.dirty {
			_ = g.writeLocked()
		}
	})
}

// writeLocked persists the merged state atomically under the file lock.
// Caller holds g.mu.
func (g *FileGate) writeLocked() error {
	fl := stateLock(g.dir)
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer func() { _ = fl.Unlock() }()

	// Re-merge under the lock so a write never clobbers entries another
	// process persisted since our last sync. Tombstoned keys stay out so
	// the write lands the unwind instead of restoring the old block.
	if disk := g.readState(); disk != nil {
		merge(g.entries, disk, g.dropped)
	}

	data, err := json.MarshalIndent(persistedState{
		Version:   stateVersion,
		UpdatedAt: g.now().UTC().Format(time.RFC3339),
		Entries:   g.entries,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal gate state: %w", err)
	}

	target := filepath.Join(g.dir, stateFileName)
	tmp := target + ".tmp"

	if err := os.WriteFile(tmp, data, stateFilePerms); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("rename temp file: %w", err)
	}

	g.dirty = false
	return nil
}

// readState loads the persisted entries, tolerating a missing or corrupt
// file by returning nil.
func (g *FileGate) readState() map[string]Entry {
	data, err := os.ReadFile(filepath.Join(g.dir, stateFileName))
	if err != nil {
		return nil
	}
	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil
	}
	return state.Entries
}
