// Package ratelimit implements the shared per-key rate-limit gate. After a
// provider 429 the gate blocks further dispatches on the same key until an
// adaptive delay has elapsed; successes unwind the block. State is shared
// across processes through a flock-protected JSON file.
package ratelimit

import (
	"time"
)

// GlobalKey participates in every lookup alongside the request key, so a
// provider-wide rate limit blocks all keys at once.
const GlobalKey = "__global__"

const (
	// maxHits caps the consecutive-failure counter per key.
	maxHits = 8
	// minBaseDelayMs floors the suggested delay on a hit.
	minBaseDelayMs = 800
	// maxAdaptiveDelayMs caps the exponential per-key delay.
	maxAdaptiveDelayMs = 120_000
	// successClampMs bounds how far untilMs may reach after a success.
	successClampMs = 800
	// pruneAfterMs drops idle entries whose block has expired.
	pruneAfterMs = 600_000
	// maxEntries caps the key map, evicting oldest-by-updatedAtMs.
	maxEntries = 64
)

// Entry is the persisted per-key gate state.
type Entry struct {
	UntilMs     int64 `json:"untilMs"`
	Hits        int   `json:"hits"`
	UpdatedAtMs int64 `json:"updatedAtMs"`
}

// Snapshot is the gate's answer for a key, already combined with the
// global scope: the longer of the two waits wins.
type Snapshot struct {
	Wait    time.Duration
	Hits    int
	UntilMs int64
}

// SharedGate is the admission barrier consulted before each dispatch.
// The default implementation is file-backed; tests use the in-memory one.
type SharedGate interface {
	// Snapshot reports the current wait for key, combined with GlobalKey.
	Snapshot(key string) Snapshot
	// RegisterHit records a rate-limit failure on key, growing the block
	// exponentially with the consecutive hit count.
	RegisterHit(key string, suggestedDelay time.Duration)
	// RegisterSuccess unwinds one hit on key and shrinks its block.
	RegisterSuccess(key string)
}

// entrySnapshot computes the snapshot for a single entry at nowMs.
func entrySnapshot(e Entry, nowMs int64) Snapshot {
	wait := e.UntilMs - nowMs
	if wait < 0 {
		wait = 0
	}
	return Snapshot{
		Wait:    time.Duration(wait) * time.Millisecond,
		Hits:    e.Hits,
		UntilMs: e.UntilMs,
	}
}

// combinedSnapshot merges the key scope with the global scope; the longer
// wait wins, with its hits and untilMs.
func combinedSnapshot(entries map[string]Entry, key string, nowMs int64) Snapshot {
	snap := entrySnapshot(entries[key], nowMs)
	if key == GlobalKey {
		return snap
	}
	global := entrySnapshot(entries[GlobalKey], nowMs)
	if global.Wait > snap.Wait {
		return global
	}
	return snap
}

// registerHit applies the hit transition to entries[key] at nowMs.
func registerHit(entries map[string]Entry, key string, suggestedMs, nowMs int64) Entry {
	e := entries[key]
	if e.Hits < maxHits {
		e.Hits++
	}

	baseDelay := suggestedMs
	if baseDelay < minBaseDelayMs {
		baseDelay = minBaseDelayMs
	}
	adaptive := baseDelay << (e.Hits - 1)
	if adaptive > maxAdaptiveDelayMs || adaptive < baseDelay {
		adaptive = maxAdaptiveDelayMs
	}

	// untilMs never moves backwards on a hit.
	if until := nowMs + adaptive; until > e.UntilMs {
		e.UntilMs = until
	}
	e.UpdatedAtMs = advance(e.UpdatedAtMs, nowMs)
	entries[key] = e
	return e
}

// registerSuccess applies the success transition; a key whose hits reach
// zero is dropped entirely. The returned timestamp marks the transition
// (the tombstone time when dropped is true) so callers that merge with
// external state can keep the unwind from being overwritten.
func registerSuccess(entries map[string]Entry, key string, nowMs int64) (at int64, dropped bool) {
	e, ok := entries[key]
	if !ok {
		return nowMs, false
	}
	at = advance(e.UpdatedAtMs, nowMs)
	e.Hits--
	if e.Hits <= 0 {
		delete(entries, key)
		return at, true
	}
	if clamp := nowMs + successClampMs; e.UntilMs > clamp {
		e.UntilMs = clamp
	}
	e.UpdatedAtMs = at
	entries[key] = e
	return at, false
}

// advance returns a strictly increasing update timestamp: transitions
// landing within the same millisecond still order after their
// predecessor, so a success is never outranked by the hit it unwinds.
func advance(prev, nowMs int64) int64 {
	return max(nowMs, prev+1)
}

// prune drops expired idle entries and enforces the map cap, evicting
// oldest-by-updatedAtMs when over capacity.
func prune(entries map[string]Entry, nowMs int64) {
	for key, e := range entries {
		if nowMs-e.UpdatedAtMs > pruneAfterMs && e.UntilMs <= nowMs {
			delete(entries, key)
		}
	}
	for len(entries) > maxEntries {
		oldestKey := ""
		oldestAt := int64(0)
		for key, e := range entries {
			if oldestKey == "" || e.UpdatedAtMs < oldestAt {
				oldestKey = key
				oldestAt = e.UpdatedAtMs
			}
		}
		delete(entries, oldestKey)
	}
}

// merge folds src into dst. Per key the entry with the newer updatedAtMs
// wins outright, so a local success is not undone by a stale on-disk
// entry; a timestamp tie keeps the stronger block. Keys in dropped were
// unwound to zero locally and stay gone unless src carries a strictly
// newer transition.
func merge(dst, src map[string]Entry, dropped map[string]int64) {
	for key, s := range src {
		if dropAt, ok := dropped[key]; ok && s.UpdatedAtMs <= dropAt {
			continue
		}
		d, ok := dst[key]
		switch {
		case !ok || s.UpdatedAtMs > d.UpdatedAtMs:
			dst[key] = s
		case s.UpdatedAtMs == d.UpdatedAtMs:
			if s.UntilMs > d.UntilMs {
				d.UntilMs = s.UntilMs
			}
			if s.Hits > d.Hits {
				d.Hits = s.Hits
			}
			dst[key] = d
		}
	}
}
