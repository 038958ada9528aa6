// Package watcher implements the streaming indexer: an fsnotify-backed
// filesystem notifier with adaptive debouncing, path relevance filtering,
// per-delta git reconciliation (via the indexer's changed-paths path),
// dynamic watch-tree expansion, and health/alert telemetry: a
// pending-paths set plus a single outstanding timer, with an adaptive
// debounce tuned to observed indexing load.
package watcher

import (
	"time"
)

// recentDedupeWindow bounds how long a path is remembered in the
// within-window dedup ring.
const recentDedupeWindow = 750 * time.Millisecond

// forceFullScanThreshold is the pending-path count beyond which a batch
// is processed as a full incremental scan instead of a paths hint.
const forceFullScanThreshold = 512

// recentPath remembers when a path was last recorded, for the within-
// window dedup check.
type recentPath struct {
	path string
	at   time.Time
}

// DebounceState is the per-watcher mutable debounce bookkeeping described
// across events until the deadline fires.
type DebounceState struct {
	Debounce time.Duration
	MaxBatch time.Duration

	PendingCount    int
	FirstEvent      time.Time
	LastEvent       time.Time
	Dirty           bool
	ForceImmediate  bool
	ForceFullScan   bool
	PendingPaths    map[string]struct{}
	Reason          string

	recent []recentPath
}

// NewDebounceState returns a DebounceState with the starting rungs of the
// adaptive ladders.
func NewDebounceState() *DebounceState {
	return &DebounceState{
		Debounce:     500 * time.Millisecond,
		MaxBatch:     3000 * time.Millisecond,
		PendingPaths: make(map[string]struct{}),
	}
}

// RecordEvent folds one relevant filesystem event into the pending batch.
// now is passed explicitly so tests can drive the clock deterministically.
func (d *DebounceState) RecordEvent(path string, now time.Time) {
	d.LastEvent = now
	if d.FirstEvent.IsZero() {
		d.FirstEvent = now
	}
	d.PendingCount++
	d.Dirty = true

	if !d.withinDedupeWindow(path, now) {
		d.PendingPaths[path] = struct{}{}
		d.recent = append(d.recent, recentPath{path: path, at: now})
	}

	if len(d.PendingPaths) > forceFullScanThreshold {
		d.ForceFullScan = true
		d.PendingPaths = make(map[string]struct{})
	}
}

// withinDedupeWindow reports whether path was already recorded within the
// last recentDedupeWindow, pruning stale entries as it scans.
func (d *DebounceState) withinDedupeWindow(path string, now time.Time) bool {
	cutoff := now.Add(-recentDedupeWindow)
	kept := d.recent[:0]
	found := false
	for _, rp := range d.recent {
		if rp.at.Before(cutoff) {
			continue
		}
		kept = append(kept, rp)
		if rp.path == path {
			found = true
		}
	}
	d.recent = kept
	return found
}

// Deadline computes the instant at which the pending batch must fire, per
// min(last_event + debounce, first_event + max_batch),
// or "now" when ForceImmediate is set.
func (d *DebounceState) Deadline(now time.Time) time.Time {
	if d.ForceImmediate {
		return now
	}
	byQuiet := d.LastEvent.Add(d.Debounce)
	byBatch := d.FirstEvent.Add(d.MaxBatch)
	if byQuiet.Before(byBatch) {
		return byQuiet
	}
	return byBatch
}

// HasPending reports whether there is an in-flight batch awaiting its
// deadline.
func (d *DebounceState) HasPending() bool {
	return d.Dirty
}

// DrainPaths returns the accumulated pending paths (nil when
// ForceFullScan is set) without resetting
// state; callers reset separately once the cycle completes.
func (d *DebounceState) DrainPaths() []string {
	if d.ForceFullScan {
		return nil
	}
	out := make([]string, 0, len(d.PendingPaths))
	for p := range d.PendingPaths {
		out = append(out, p)
	}
	return out
}

// Reset clears all per-batch state after a cycle completes, preserving
// the adaptive Debounce/MaxBatch rungs which persist across cycles.
func (d *DebounceState) Reset() {
	d.PendingCount = 0
	d.FirstEvent = time.Time{}
	d.LastEvent = time.Time{}
	d.Dirty = false
	d.ForceImmediate = false
	d.ForceFullScan = false
	d.PendingPaths = make(map[string]struct{})
	d.Reason = ""
}
