package indexer

import (
	"strings"
	"time"

	"github.com/ctxengine/ctxd/internal/vectorstore"
)

// maxChangedPaths bounds the changed-paths fast path:
// a merged set exceeding this falls back to a full incremental rebuild.
const maxChangedPaths = 512

// reconcile merges the caller-supplied paths with whatever changed
// between the previously stored watermark's head and the current one,
// and decides whether the changed-paths fast path can proceed at all.
//
// Returns the merged path set, whether the caller must fall back to a
// full incremental run, and (when reconciliation succeeded) the new Git
// watermark to persist on commit.
func (idx *Indexer) reconcile(paths []string, models []ModelSpec) (merged []string, fallback bool, newWatermark *vectorstore.Watermark, err error) {
	state, ok, probeErr := idx.git.ProbeState(idx.root)
	if probeErr != nil || !ok {
		// No usable git state: nothing to reconcile against, but the
		// caller already confirmed preconditions, so proceed with just
		// the caller's paths and a filesystem watermark.
		wm := vectorstore.NewFsWatermark("", time.Now())
		return dedupePaths(paths), false, &wm, nil
	}

	wm := vectorstore.NewGitWatermark(state.Head, state.Dirty, state.DirtyHash, time.Now())

	prevHead, prevDirty, havePrev := idx.firstStoredGitWatermark(models)

	merged = append(merged, paths...)
	merged = append(merged, state.DirtyPaths...)

	if havePrev && prevHead != state.Head {
		if prevDirty {
			// Cannot safely reconcile across a HEAD move when the
			// previous watermark was already dirty.
			return nil, true, nil, nil
		}
		between, diffOK, diffErr := idx.git.ChangedPathsBetween(idx.root, prevHead, state.Head, maxChangedPaths)
		if diffErr != nil || !diffOK {
			return nil, true, nil, nil
		}
		merged = append(merged, between...)
	}

	merged = dedupePaths(merged)

	for _, p := range merged {
		if strings.EqualFold(baseName(p), ".gitignore") {
			return nil, true, nil, nil
		}
	}
	if len(merged) > maxChangedPaths {
		return nil, true, nil, nil
	}

	return merged, false, &wm, nil
}

// firstStoredGitWatermark returns the first model store's previously
// persisted Git watermark head/dirty fields, if any model has one.
func (idx *Indexer) firstStoredGitWatermark(models []ModelSpec) (head string, dirty bool, ok bool) {
	for _, m := range models {
		s, loadErr := vectorstore.Load(IndexDir(idx.root, m.ID), m.ID)
		if loadErr != nil || s == nil {
			continue
		}
		if s.Watermark.IsGit() {
			return s.Watermark.GitHead, s.Watermark.GitDirty, true
		}
	}
	return "", false, false
}

func dedupePaths(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func baseName(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}
