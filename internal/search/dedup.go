package search

import (
	"sort"
	"strings"

	"github.com/ctxengine/ctxd/internal/chunk"
)

// FormattedItem is one post-formatting search output row, the unit
// dedup-and-merge operates on.
type FormattedItem struct {
	FilePath  string     `json:"file_path"`
	StartLine int        `json:"start_line"`
	EndLine   int        `json:"end_line"`
	Content   string     `json:"content"`
	Symbol    string     `json:"symbol,omitempty"`
	Kind      chunk.Kind `json:"kind,omitempty"`
	Score     float64    `json:"score"`
	Reason    string     `json:"reason,omitempty"` // higher-priority rationale kept across a merge
	Imports   []string   `json:"imports,omitempty"`
}

// DedupeStats reports what DedupeAndMerge did, for callers that surface
// it in a response envelope.
type DedupeStats struct {
	Dropped int
	Merged  int
}

// mergeGapLines is the max line gap allowed between
// two same-file entries before they're ineligible for similarity merging.
const mergeGapLines = 10

// jaccardMergeThreshold is the minimum token-set Jaccard similarity
// required to merge two non-overlapping,
// within-gap entries.
const jaccardMergeThreshold = 0.8

// reasonPriority orders rationale strings so a merge keeps the
// higher-priority one; unrecognized reasons sort last.
var reasonPriority = map[string]int{
	"direct_hit":  0,
	"graph_nodes": 1,
	"related":     2,
}

// RejectPath is a caller-supplied predicate over a file path; true means
// the path is rejected by the active profile.
type RejectPath func(path string) bool

// DedupeAndMerge hard-filters rejected paths, drops exact duplicate
// spans, and merges adjacent same-file entries that overlap or read as
// near-identical within a small line gap.
func DedupeAndMerge(items []FormattedItem, reject RejectPath) ([]FormattedItem, DedupeStats) {
	var stats DedupeStats

	filtered := items[:0:0]
	for _, it := range items {
		if reject != nil && reject(it.FilePath) {
			stats.Dropped++
			continue
		}
		filtered = append(filtered, it)
	}

	seen := make(map[string]struct{}, len(filtered))
	unique := filtered[:0:0]
	for _, it := range filtered {
		key := dedupeKey(it)
		if _, ok := seen[key]; ok {
			stats.Dropped++
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, it)
	}

	sort.SliceStable(unique, func(i, j int) bool {
		a, b := unique[i], unique[j]
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		if a.StartLine != b.StartLine {
			return a.StartLine < b.StartLine
		}
		return a.EndLine < b.EndLine
	})

	merged := make([]FormattedItem, 0, len(unique))
	for _, it := range unique {
		if len(merged) > 0 {
			last := &merged[len(merged)-1]
			if last.FilePath == it.FilePath && shouldMerge(*last, it) {
				*last = mergeItems(*last, it)
				stats.Merged++
				continue
			}
		}
		merged = append(merged, it)
	}

	return merged, stats
}

func dedupeKey(it FormattedItem) string {
	return it.FilePath + "\x00" + itoa(it.StartLine) + "\x00" + itoa(it.EndLine)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// shouldMerge reports whether b should be folded into a: overlapping
// spans, or within the line-gap threshold with high token similarity.
func shouldMerge(a, b FormattedItem) bool {
	if b.StartLine <= a.EndLine {
		return true // overlap
	}
	if b.StartLine-a.EndLine > mergeGapLines {
		return false
	}
	return jaccard(tokenize(a.Content), tokenize(b.Content)) >= jaccardMergeThreshold
}

func mergeItems(a, b FormattedItem) FormattedItem {
	out := a
	if b.EndLine > out.EndLine {
		out.EndLine = b.EndLine
	}
	if b.Score > out.Score {
		out.Content = b.Content
		out.Symbol = b.Symbol
		out.Kind = b.Kind
		out.Score = b.Score
	}
	out.Imports = chunk.DedupeImports(append(append([]string{}, a.Imports...), b.Imports...))
	if reasonPriority[b.Reason] < reasonPriority[a.Reason] {
		out.Reason = b.Reason
	}
	return out
}

// tokenize lowercases, splits on whitespace, and trims non-alphanumeric
// runs from each token's edges.
func tokenize(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, field := range strings.Fields(s) {
		trimmed := strings.TrimFunc(strings.ToLower(field), func(r rune) bool {
			return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
		})
		if trimmed != "" {
			out[trimmed] = struct{}{}
		}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
