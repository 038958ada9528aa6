package meaningpack

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderEmitsHeaderSectionsDictEvidenceAndNBAInOrder(t *testing.T) {
	t.Parallel()

	p := NewPack(NBA{Action: "continue", Detail: "resume work"})
	p.AddLine(SectionAnchors, "entry main.go")
	p.AddLine(SectionContracts, "func Foo() error")
	tok := p.Intern("/repo/main.go")
	p.AddLine(SectionAnchors, "path "+tok)
	evTok := p.AddEvidence(Evidence{FilePath: "main.go", StartLine: 1, EndLine: 3, SHA256: "abc123"})
	p.AddLine(SectionContracts, "see "+evTok)

	out := p.Render()

	assert.True(t, strings.HasPrefix(out, "CPV1\n"), "render must start with the CPV1 header")

	anchorsIdx := strings.Index(out, "ANCHORS\n")
	contractsIdx := strings.Index(out, "CONTRACTS\n")
	dictIdx := strings.Index(out, "DICT\n")
	evidenceIdx := strings.Index(out, "EVIDENCE\n")
	nbaIdx := strings.Index(out, "NBA continue resume work\n")

	require.NotEqual(t, -1, anchorsIdx)
	require.NotEqual(t, -1, contractsIdx)
	require.NotEqual(t, -1, dictIdx)
	require.NotEqual(t, -1, evidenceIdx)
	require.NotEqual(t, -1, nbaIdx)

	assert.True(t, anchorsIdx < contractsIdx, "ANCHORS must render before CONTRACTS per sectionOrder")
	assert.True(t, contractsIdx < dictIdx, "body sections must render before DICT")
	assert.True(t, dictIdx < evidenceIdx, "DICT must render before EVIDENCE")
	assert.True(t, evidenceIdx < nbaIdx, "NBA must be the final line")
	assert.True(t, strings.HasSuffix(out, "NBA continue resume work\n"), "NBA must be the last line of the document")
}

func TestInternReusesTokenForRepeatedString(t *testing.T) {
	t.Parallel()

	p := NewPack(NBA{Action: "noop"})
	first := p.Intern("/repo/shared.go")
	second := p.Intern("/repo/shared.go")
	third := p.Intern("/repo/other.go")

	assert.Equal(t, first, second, "interning the same string twice must return the same token")
	assert.NotEqual(t, first, third)
	assert.Equal(t, "d0", first)
	assert.Equal(t, "d1", third)
}

func TestAddEvidenceReturnsSequentialTokens(t *testing.T) {
	t.Parallel()

	p := NewPack(NBA{Action: "noop"})
	tok0 := p.AddEvidence(Evidence{FilePath: "a.go", StartLine: 1, EndLine: 2})
	tok1 := p.AddEvidence(Evidence{FilePath: "b.go", StartLine: 3, EndLine: 4})

	assert.Equal(t, "ev0", tok0)
	assert.Equal(t, "ev1", tok1)
}

// TestRenderOmitsDictAndEvidenceSectionsWhenEmpty checks that a pack with
// no interned strings or evidence never emits an empty DICT/EVIDENCE
// header.
func TestRenderOmitsDictAndEvidenceSectionsWhenEmpty(t *testing.T) {
	t.Parallel()

	p := NewPack(NBA{Action: "noop"})
	p.AddLine(SectionAnchors, "plain line, no tokens")

	out := p.Render()
	assert.NotContains(t, out, "DICT\n")
	assert.NotContains(t, out, "EVIDENCE\n")
}

// TestShrinkDropsLowestPrioritySectionLinesBeforeHigherPriorityOnes
// checks shrink ordering: body lines are shed from the
// lowest-priority remaining section first.
func TestShrinkDropsLowestPrioritySectionLinesBeforeHigherPriorityOnes(t *testing.T) {
	t.Parallel()

	p := NewPack(NBA{Action: "noop"})
	p.AddLine(SectionAnchors, strings.Repeat("a", 40))
	p.AddLine(SectionBrokers, strings.Repeat("b", 40))

	full := p.Render()
	require.True(t, len(full) > 60)

	out := p.Shrink(len(full) - 10)
	assert.Contains(t, out, "ANCHORS\n", "higher-priority ANCHORS content must survive before BROKERS")
	assert.NotContains(t, out, "BROKERS\n", "lowest-priority BROKERS line must be shed first")
}

// TestShrinkFallsBackToMinimalPackWhenBudgetImpossiblySmall checks the
// terminal fallback: once every section and line is gone, Shrink
// collapses to a single evidence pointer and an evidence_fetch NBA.
func TestShrinkFallsBackToMinimalPackWhenBudgetImpossiblySmall(t *testing.T) {
	t.Parallel()

	p := NewPack(NBA{Action: "continue"})
	p.AddLine(SectionAnchors, strings.Repeat("a", 100))
	tok := p.AddEvidence(Evidence{FilePath: "main.go", StartLine: 1, EndLine: 2})
	p.AddLine(SectionAnchors, "see "+tok)

	out := p.Shrink(1)
	assert.True(t, strings.HasPrefix(out, "CPV1\n"))
	assert.Contains(t, out, "NBA evidence_fetch\n")
	assert.True(t, strings.HasSuffix(out, "NBA evidence_fetch\n"))
	assert.Contains(t, out, "EVIDENCE\n  ev0 main.go:1-2\n", "minimalPack must keep exactly one evidence pointer at its original index")
	assert.NotContains(t, out, "ANCHORS\n")
	assert.NotContains(t, out, "DICT\n")
}

// TestShrinkPreservesDictionaryTokenStabilityAcrossPrune is a regression
// test for a bug where Render regenerated DICT token labels from each
// surviving entry's post-prune position instead of its originally
// interned token: pruning an earlier-interned, now-unreferenced string
// used to silently renumber every later token still baked into a
// surviving body line.
func TestShrinkPreservesDictionaryTokenStabilityAcrossPrune(t *testing.T) {
	t.Parallel()

	p := NewPack(NBA{Action: "a"})
	lowTok := p.Intern("low")   // interned first -> "d0"
	highTok := p.Intern("high") // interned second -> "d1"
	require.Equal(t, "d0", lowTok)
	require.Equal(t, "d1", highTok)

	p.AddLine(SectionBrokers, "x "+lowTok)  // lowest-priority section: shed first
	p.AddLine(SectionAnchors, "y "+highTok) // highest-priority section: must survive

	full := p.Render()
	require.Equal(t, 65, len(full), "sanity check on the hand-traced full render length")

	out := p.Shrink(41)
	assert.Contains(t, out, "y d1", "the surviving body line must still reference d1")
	assert.Contains(t, out, "DICT\n  d1=high\n", "the surviving dictionary entry must keep its original token, not be renumbered to d0")
	assert.NotContains(t, out, "d0", "the pruned low entry's token must not reappear anywhere in the output")
}

// TestShrinkPreservesEvidenceIndexStabilityAcrossPrune mirrors the
// dictionary regression above for Evidence: pruneUnused used to compact
// p.Evidence into a filtered slice, which shifts a surviving entry's
// index the same way truncating the dictionary did.
func TestShrinkPreservesEvidenceIndexStabilityAcrossPrune(t *testing.T) {
	t.Parallel()

	p := NewPack(NBA{Action: "a"})
	lowEv := p.AddEvidence(Evidence{FilePath: "low.go", StartLine: 1, EndLine: 1})   // "ev0"
	highEv := p.AddEvidence(Evidence{FilePath: "high.go", StartLine: 2, EndLine: 2}) // "ev1"
	require.Equal(t, "ev0", lowEv)
	require.Equal(t, "ev1", highEv)

	p.AddLine(SectionBrokers, "x "+lowEv)  // lowest-priority section: shed first
	p.AddLine(SectionAnchors, "y "+highEv) // highest-priority section: must survive

	full := p.Render()
	require.Equal(t, 87, len(full), "sanity check on the hand-traced full render length")

	out := p.Shrink(54)
	assert.Contains(t, out, "y ev1", "the surviving body line must still reference ev1")
	assert.Contains(t, out, "EVIDENCE\n  ev1 high.go:2-2\n", "the surviving evidence entry must keep index 1, not be compacted to 0")
	assert.NotContains(t, out, "ev0", "the pruned low evidence entry must not render at all")
}

func TestSortedSectionNamesReturnsOnlyNonEmptySectionsAlphabetically(t *testing.T) {
	t.Parallel()

	p := NewPack(NBA{Action: "noop"})
	p.AddLine(SectionFlows, "flow line")
	p.AddLine(SectionAnchors, "anchor line")

	got := p.SortedSectionNames()
	require.Len(t, got, 2)
	assert.True(t, got[0] < got[1], "SortedSectionNames must return names in sorted order")
}
