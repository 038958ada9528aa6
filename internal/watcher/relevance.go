package watcher

import (
	"path/filepath"
	"strings"

	"github.com/ctxengine/ctxd/internal/scanner"
)

// RelevanceFilter decides whether a filesystem event is worth debouncing
// and, separately, whether a newly-created directory is worth descending
// into for dynamic watch expansion. It delegates to the
// same predicate the scanner uses for a full walk so the watcher and the
// indexer never disagree about what counts as indexable.
type RelevanceFilter struct {
	root string
	scan *scanner.Scanner
}

// NewRelevanceFilter returns a filter bound to root's scanner rules.
func NewRelevanceFilter(root string, sc *scanner.Scanner) *RelevanceFilter {
	return &RelevanceFilter{root: root, scan: sc}
}

// IsRelevant reports whether absPath is relevant
func (f *RelevanceFilter) IsRelevant(absPath string) bool {
	rel, err := filepath.Rel(f.root, absPath)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == "" {
		return false
	}
	return f.scan.IsRelevant(rel)
}

// IsGitignore reports whether absPath's basename is ".gitignore"
// (case-insensitive), which always triggers a full-scan fallback
// regardless of the general relevance rule.
func (f *RelevanceFilter) IsGitignore(absPath string) bool {
	return strings.EqualFold(filepath.Base(absPath), ".gitignore")
}

// IsWatchableDir reports whether a newly observed directory passes the
// directory-granularity relevance check used for dynamic watch expansion
//: the same segment-based ignore rules as files, applied
// to the directory path itself rather than a file beneath it.
func (f *RelevanceFilter) IsWatchableDir(absDir string) bool {
	rel, err := filepath.Rel(f.root, absDir)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == "" {
		return true
	}
	// Reuse the file relevance check against a synthetic sentinel file
	// inside the directory: IsRelevant's segment walk covers directory
	// names identically whether or not the final segment is a file. The
	// sentinel itself must not be dot-prefixed or a known noise/secret
	// name, or it would fail the basename checks for unrelated reasons.
	return f.scan.IsRelevant(rel + "/watchprobe.tmp")
}
