package readpack

import (
	"fmt"
	"sort"
)

// ResponseMode controls how much of the assembled pack survives
// budget shrinkage.
type ResponseMode string

const (
	ResponseModeFull    ResponseMode = "full"
	ResponseModeCompact ResponseMode = "compact"
	ResponseModeMinimal ResponseMode = "minimal"
)

// Reason is a snippet's inclusion rationale; its ordering sets overlap
// dedupe priority ("needle > halo > anchor > none").
type Reason string

const (
	ReasonNeedle Reason = "needle"
	ReasonHalo   Reason = "halo"
	ReasonAnchor Reason = "anchor"
	ReasonNone   Reason = "none"
)

func (r Reason) tier() int {
	switch r {
	case ReasonNeedle:
		return 3
	case ReasonHalo:
		return 2
	case ReasonAnchor:
		return 1
	default:
		return 0
	}
}

// SnippetKind is a snippet's content classification; its ordering sets
// the second overlap-dedupe priority tier ("Code > Config > Doc > none").
type SnippetKind string

const (
	KindCode   SnippetKind = "code"
	KindConfig SnippetKind = "config"
	KindDoc    SnippetKind = "doc"
	KindNone   SnippetKind = "none"
)

func (k SnippetKind) tier() int {
	switch k {
	case KindCode:
		return 3
	case KindConfig:
		return 2
	case KindDoc:
		return 1
	default:
		return 0
	}
}

// Snippet is one source-span entry in an assembled section.
type Snippet struct {
	FilePath  string
	StartLine int
	EndLine   int
	Content   string
	Reason    Reason
	Kind      SnippetKind
	IsFocus   bool // the anchor file the caller is centered on; never collapsed
}

func (s Snippet) priority() (int, int, int) {
	return s.Reason.tier(), s.Kind.tier(), s.EndLine - s.StartLine
}

// Section is one named group of snippets within a ReadPack (e.g.
// "context", "related", "questions").
type Section struct {
	Name     string
	Snippets []Snippet
}

// Truncation names why a ReadPack stopped short.
type Truncation string

const (
	TruncationNone     Truncation = ""
	TruncationMaxChars Truncation = "max_chars"
	TruncationTimeout  Truncation = "timeout"
)

// ReadPack is read_pack's output envelope.
type ReadPack struct {
	Intent       Intent
	ResponseMode ResponseMode
	Sections     []Section
	NextActions  []string
	Meta         map[string]any
	NextCursor   string
	Truncated    bool
	Truncation   Truncation
	UsedChars    int
}

// DedupeOverlaps per-file overlap dedupe:
// focus-file anchors are never collapsed; among the rest, full
// containment and exact duplicates keep the higher-priority span, and
// ≥70%-covered partial overlaps collapse into the higher-priority one.
func DedupeOverlaps(snippets []Snippet) []Snippet {
	byFile := make(map[string][]Snippet)
	var order []string
	for _, s := range snippets {
		if _, ok := byFile[s.FilePath]; !ok {
			order = append(order, s.FilePath)
		}
		byFile[s.FilePath] = append(byFile[s.FilePath], s)
	}

	var out []Snippet
	for _, file := range order {
		out = append(out, dedupeFile(byFile[file])...)
	}
	return out
}

func dedupeFile(snippets []Snippet) []Snippet {
	var focus, rest []Snippet
	for _, s := range snippets {
		if s.IsFocus {
			focus = append(focus, s)
		} else {
			rest = append(rest, s)
		}
	}

	sort.SliceStable(rest, func(i, j int) bool { return rest[i].StartLine < rest[j].StartLine })

	var kept []Snippet
	for _, s := range rest {
		merged := false
		for i := range kept {
			if overlapRelation(kept[i], s) {
				kept[i] = higherPriority(kept[i], s)
				merged = true
				break
			}
		}
		if !merged {
			kept = append(kept, s)
		}
	}

	return append(focus, kept...)
}

// overlapRelation reports whether a and b should be subject to
// dedupe collapse: full containment, exact duplicate, or ≥70% partial
// overlap of the smaller span.
func overlapRelation(a, b Snippet) bool {
	if a.StartLine == b.StartLine && a.EndLine == b.EndLine {
		return true
	}
	if contains(a, b) || contains(b, a) {
		return true
	}
	overlapStart := max(a.StartLine, b.StartLine)
	overlapEnd := min(a.EndLine, b.EndLine)
	if overlapEnd < overlapStart {
		return false
	}
	overlapLen := overlapEnd - overlapStart + 1
	smaller := min(a.EndLine-a.StartLine+1, b.EndLine-b.StartLine+1)
	if smaller == 0 {
		return false
	}
	return float64(overlapLen)/float64(smaller) >= 0.7
}

func contains(outer, inner Snippet) bool {
	return outer.StartLine <= inner.StartLine && outer.EndLine >= inner.EndLine
}

func higherPriority(a, b Snippet) Snippet {
	pa1, pa2, pa3 := a.priority()
	pb1, pb2, pb3 := b.priority()
	if pb1 != pa1 {
		if pb1 > pa1 {
			return mergeSpan(b, a)
		}
		return mergeSpan(a, b)
	}
	if pb2 != pa2 {
		if pb2 > pa2 {
			return mergeSpan(b, a)
		}
		return mergeSpan(a, b)
	}
	if pb3 > pa3 {
		return mergeSpan(b, a)
	}
	return mergeSpan(a, b)
}

// mergeSpan keeps winner's content/reason/kind but extends its span to
// cover loser's, so a collapsed overlap never silently shrinks coverage.
func mergeSpan(winner, loser Snippet) Snippet {
	out := winner
	if loser.StartLine < out.StartLine {
		out.StartLine = loser.StartLine
	}
	if loser.EndLine > out.EndLine {
		out.EndLine = loser.EndLine
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// ShrinkToFit ordered budget shrink policy,
// mutating pack in place until its rendered size is within maxChars (as
// measured by sizeFn) or every step has been exhausted.
func ShrinkToFit(pack *ReadPack, maxChars int, sizeFn func(*ReadPack) int) error {
	if sizeFn(pack) <= maxChars {
		pack.UsedChars = sizeFn(pack)
		return nil
	}

	steps := []func(*ReadPack) bool{
		shrinkRecallSnippetsBeforeQuestions,
		shrinkTrailingSections,
		shrinkNextActions,
		shrinkMeta,
		shrinkAllSectionsKeepCursor,
		shrinkNextCursor,
	}

	for _, step := range steps {
		for step(pack) {
			pack.Truncated = true
			pack.Truncation = TruncationMaxChars
			if sizeFn(pack) <= maxChars {
				pack.UsedChars = sizeFn(pack)
				return nil
			}
		}
		if sizeFn(pack) <= maxChars {
			pack.UsedChars = sizeFn(pack)
			return nil
		}
	}

	return fmt.Errorf("readpack: max_chars_too_small(%d)", sizeFn(pack))
}

// shrinkRecallSnippetsBeforeQuestions drops the last snippet of the
// first section, in section order, that is not "questions" and still
// has snippets; "questions" sections are never touched. Applies only
// in Recall mode (step 1).
func shrinkRecallSnippetsBeforeQuestions(p *ReadPack) bool {
	if p.Intent != IntentRecall {
		return false
	}
	for i := range p.Sections {
		if p.Sections[i].Name == "questions" {
			continue
		}
		if len(p.Sections[i].Snippets) > 0 {
			p.Sections[i].Snippets = p.Sections[i].Snippets[:len(p.Sections[i].Snippets)-1]
			return true
		}
	}
	return false
}

// shrinkTrailingSections drops the last section while more than one remains (step 2).
func shrinkTrailingSections(p *ReadPack) bool {
	if len(p.Sections) <= 1 {
		return false
	}
	p.Sections = p.Sections[:len(p.Sections)-1]
	return true
}

// shrinkNextActions drops next_actions wholesale (step 3).
func shrinkNextActions(p *ReadPack) bool {
	if len(p.NextActions) == 0 {
		return false
	}
	p.NextActions = nil
	return true
}

// shrinkMeta drops meta unless response_mode is Full (step 4).
func shrinkMeta(p *ReadPack) bool {
	if p.ResponseMode == ResponseModeFull || len(p.Meta) == 0 {
		return false
	}
	p.Meta = nil
	return true
}

// shrinkAllSectionsKeepCursor drops all remaining sections, keeping
// next_cursor (step 5: "pagination state is cheap and priceless").
func shrinkAllSectionsKeepCursor(p *ReadPack) bool {
	if len(p.Sections) == 0 {
		return false
	}
	p.Sections = nil
	return true
}

// shrinkNextCursor is the last resort: drop next_cursor too (step 6).
func shrinkNextCursor(p *ReadPack) bool {
	if p.NextCursor == "" {
		return false
	}
	p.NextCursor = ""
	return true
}

// MinMaxChars/MaxMaxChars bound the retry suggestion ShrinkToFit's
// caller attaches to a max_chars_too_small failure.
const (
	MinMaxChars = 2_000
	MaxMaxChars = 200_000
)

// RetryMaxChars doubles current, clamped to [MinMaxChars, MaxMaxChars],
// for a max_chars_too_small retry suggestion.
func RetryMaxChars(current int) int {
	doubled := current * 2
	if doubled < MinMaxChars {
		return MinMaxChars
	}
	if doubled > MaxMaxChars {
		return MaxMaxChars
	}
	return doubled
}

// ClampTimeout timeout_ms clamp to
// [1_000, 300_000], defaulting to 12_000.
func ClampTimeout(timeoutMs int) int {
	const (
		minTimeoutMs     = 1_000
		maxTimeoutMs     = 300_000
		defaultTimeoutMs = 12_000
	)
	if timeoutMs <= 0 {
		return defaultTimeoutMs
	}
	if timeoutMs < minTimeoutMs {
		return minTimeoutMs
	}
	if timeoutMs > maxTimeoutMs {
		return maxTimeoutMs
	}
	return timeoutMs
}
