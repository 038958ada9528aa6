// Package meaningpack renders the CPV1 "cognitive pack": a
// line-oriented, deterministic text summary with an interned string
// dictionary and evidence pointers: one line per logical fact,
// assembled with a strings.Builder against a fixed section grammar.
package meaningpack

import (
	"fmt"
	"sort"
	"strings"
)

// Header identifies a CPV1 document; every rendered pack starts with
// this line.
const Header = "CPV1"

// SectionName enumerates CPV1's fixed section grammar, in render order.
type SectionName string

const (
	SectionAnchors     SectionName = "ANCHORS"
	SectionCanon       SectionName = "CANON"
	SectionBoundaries  SectionName = "BOUNDARIES"
	SectionMap         SectionName = "MAP"
	SectionOutputs     SectionName = "OUTPUTS"
	SectionEntrypoints SectionName = "ENTRYPOINTS"
	SectionContracts   SectionName = "CONTRACTS"
	SectionFlows       SectionName = "FLOWS"
	SectionBrokers     SectionName = "BROKERS"
	SectionDict        SectionName = "DICT"
	SectionEvidence    SectionName = "EVIDENCE"
)

// sectionOrder is the priority CPV1 sections render in, and the
// low-to-high-priority order the shrink policy removes body lines in
// ("remove low-priority body lines before high-priority").
var sectionOrder = []SectionName{
	SectionAnchors, SectionCanon, SectionBoundaries, SectionMap,
	SectionOutputs, SectionEntrypoints, SectionContracts, SectionFlows,
	SectionBrokers, SectionDict, SectionEvidence,
}

// Evidence is a (file, span) pointer backing a claim (glossary:
// GLOSSARY's Evidence).
type Evidence struct {
	FilePath  string
	StartLine int
	EndLine   int
	SHA256    string
}

// NBA is the pack's mandatory final next-best-action line.
type NBA struct {
	Action string
	Detail string
}

// Pack is the in-memory model rendered to CPV1 text.
type Pack struct {
	Sections  map[SectionName][]string
	Evidence  []Evidence
	NBA       NBA
	dict      *dictionary
}

// NewPack returns an empty Pack with its string dictionary initialized.
func NewPack(nba NBA) *Pack {
	return &Pack{Sections: make(map[SectionName][]string), NBA: nba, dict: newDictionary()}
}

// AddLine appends one body line to section, after interning any path-
// or label-like tokens the caller has already resolved via Intern.
func (p *Pack) AddLine(section SectionName, line string) {
	p.Sections[section] = append(p.Sections[section], line)
}

// Intern registers s in the shared dictionary and returns its token
// ("d0", "d1", ...), reusing the token if s was already interned.
func (p *Pack) Intern(s string) string {
	return p.dict.intern(s)
}

// AddEvidence registers e and returns its token ("ev0", "ev1", ...).
func (p *Pack) AddEvidence(e Evidence) string {
	p.Evidence = append(p.Evidence, e)
	return fmt.Sprintf("ev%d", len(p.Evidence)-1)
}

type dictionary struct {
	tokens map[string]string
	order  []string
}

func newDictionary() *dictionary {
	return &dictionary{tokens: make(map[string]string)}
}

func (d *dictionary) intern(s string) string {
	if tok, ok := d.tokens[s]; ok {
		return tok
	}
	tok := fmt.Sprintf("d%d", len(d.order))
	d.tokens[s] = tok
	d.order = append(d.order, s)
	return tok
}

// Render emits the CPV1 text document: header, each non-empty section
// in sectionOrder, the DICT table, the EVIDENCE table, and a final NBA
// line.
func (p *Pack) Render() string {
	var b strings.Builder
	b.WriteString(Header)
	b.WriteByte('\n')

	for _, name := range sectionOrder {
		if name == SectionDict || name == SectionEvidence {
			continue // rendered separately below, after all body sections
		}
		lines := p.Sections[name]
		if len(lines) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s\n", name)
		for _, line := range lines {
			fmt.Fprintf(&b, "  %s\n", line)
		}
	}

	if len(p.dict.order) > 0 {
		b.WriteString("DICT\n")
		for _, s := range p.dict.order {
			fmt.Fprintf(&b, "  %s=%s\n", p.dict.tokens[s], s)
		}
	}

	if p.hasLiveEvidence() {
		b.WriteString("EVIDENCE\n")
		for i, e := range p.Evidence {
			if e.FilePath == "" {
				continue // tombstoned by pruneUnused; index i must stay stable for surviving ev<i> references
			}
			if e.SHA256 != "" {
				fmt.Fprintf(&b, "  ev%d %s:%d-%d %s\n", i, e.FilePath, e.StartLine, e.EndLine, e.SHA256)
			} else {
				fmt.Fprintf(&b, "  ev%d %s:%d-%d\n", i, e.FilePath, e.StartLine, e.EndLine)
			}
		}
	}

	b.WriteString("NBA ")
	b.WriteString(p.NBA.Action)
	if p.NBA.Detail != "" {
		b.WriteByte(' ')
		b.WriteString(p.NBA.Detail)
	}
	b.WriteByte('\n')

	return b.String()
}

// Shrink deterministic shrink policy:
// remove low-priority body lines before high-priority ones (iterating
// sectionOrder from its tail), preserve NBA throughout, prune
// dictionary/evidence entries that no longer appear in any remaining
// line, then drop whole sections, and as a last resort collapse to a
// minimal pack with at most one evidence pointer and an
// "evidence_fetch" NBA.
func (p *Pack) Shrink(maxChars int) string {
	rendered := p.Render()
	if len(rendered) <= maxChars {
		return rendered
	}

	// Pruning tombstones evidence as lines go; keep the originals so the
	// minimal pack can still carry one pointer.
	evidence := append([]Evidence(nil), p.Evidence...)

	// Drop body lines, lowest-priority section first, one line at a
	// time, re-pruning the dictionary/evidence after each removal.
	for i := len(sectionOrder) - 1; i >= 0; i-- {
		name := sectionOrder[i]
		if name == SectionDict || name == SectionEvidence {
			continue
		}
		for len(p.Sections[name]) > 0 {
			p.Sections[name] = p.Sections[name][:len(p.Sections[name])-1]
			p.pruneUnused()
			rendered = p.Render()
			if len(rendered) <= maxChars {
				return rendered
			}
		}
	}

	// Drop whole sections entirely.
	for _, name := range sectionOrder {
		if name == SectionDict || name == SectionEvidence {
			continue
		}
		if len(p.Sections[name]) == 0 {
			continue
		}
		delete(p.Sections, name)
		p.pruneUnused()
		rendered = p.Render()
		if len(rendered) <= maxChars {
			return rendered
		}
	}

	p.Evidence = evidence
	return p.minimalPack()
}

// pruneUnused drops dictionary and evidence entries no longer
// referenced by any remaining section line.
func (p *Pack) pruneUnused() {
	referenced := make(map[string]bool)
	for _, lines := range p.Sections {
		for _, line := range lines {
			markReferenced(line, referenced)
		}
	}

	keptOrder := p.dict.order[:0:0]
	keptTokens := make(map[string]string, len(p.dict.tokens))
	for _, s := range p.dict.order {
		tok := p.dict.tokens[s]
		if referenced[tok] {
			keptOrder = append(keptOrder, s)
			keptTokens[s] = tok
		}
	}
	p.dict.order = keptOrder
	p.dict.tokens = keptTokens

	// Tombstone rather than compact: an ev<i> reference in a surviving
	// line is baked in at its original index, so a pruned entry's slot
	// must stay empty instead of shifting later entries' indices.
	for i := range p.Evidence {
		if !referenced[fmt.Sprintf("ev%d", i)] {
			p.Evidence[i] = Evidence{}
		}
	}
}

// hasLiveEvidence reports whether any evidence entry survived pruning.
func (p *Pack) hasLiveEvidence() bool {
	for _, e := range p.Evidence {
		if e.FilePath != "" {
			return true
		}
	}
	return false
}

func markReferenced(line string, referenced map[string]bool) {
	for _, field := range strings.Fields(line) {
		trimmed := strings.Trim(field, ",.;:()")
		if strings.HasPrefix(trimmed, "d") || strings.HasPrefix(trimmed, "ev") {
			referenced[trimmed] = true
		}
	}
}

// minimalPack is the last-resort pack: at most one evidence pointer and
// an evidence_fetch NBA action.
func (p *Pack) minimalPack() string {
	var b strings.Builder
	b.WriteString(Header)
	b.WriteByte('\n')
	for i, e := range p.Evidence {
		if e.FilePath == "" {
			continue
		}
		b.WriteString("EVIDENCE\n")
		fmt.Fprintf(&b, "  ev%d %s:%d-%d\n", i, e.FilePath, e.StartLine, e.EndLine)
		break
	}
	b.WriteString("NBA evidence_fetch\n")
	return b.String()
}

// SortedSectionNames returns the names of the sections p has non-empty
// content for, sorted alphabetically (not in sectionOrder), for callers
// that want to inspect what survived a shrink.
func (p *Pack) SortedSectionNames() []SectionName {
	var out []SectionName
	for _, name := range sectionOrder {
		if len(p.Sections[name]) > 0 {
			out = append(out, name)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
