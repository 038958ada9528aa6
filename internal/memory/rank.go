package memory

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/blevesearch/bleve/v2"
)

// maxCandidates bounds the lexical-stage candidate pool before the
// (more expensive) embedding rerank; defaultMaxHits bounds the final
// result list returned to the caller.
const (
	maxCandidates  = 12
	defaultMaxHits = 8
)

// kindPriorityOrder mirrors the allow-list ordering the overlay uses to
// keep Facts-mode results low-noise: engineering conclusions first,
// conversational/raw traces last.
var kindPriorityOrder = []string{
	"decision", "plan", "blocker", "evidence", "change",
	"requirement", "note", "trace", "tool_output", "reply", "prompt",
}

func kindPriority(kind string) int {
	for i, k := range kindPriorityOrder {
		if k == kind {
			return len(kindPriorityOrder) - i
		}
	}
	return 0
}

// factsModeKinds is the set overlay_recent keeps when responseMode is
// compact ("Facts" in the overlay's own vocabulary): the daily-driver
// mode should read like a decision log, not a chat transcript.
var factsModeKinds = map[string]bool{
	"decision": true, "plan": true, "blocker": true, "evidence": true,
	"change": true, "requirement": true, "note": true, "trace": true,
	"tool_output": true,
}

// candidate is a storedCandidate plus the transient lexical score
// computed fresh for one query; never persisted.
type candidate struct {
	storedCandidate
	lexicalScore float64
}

// applyLexicalScores builds an ephemeral in-memory bleve index over the
// candidate pool's embed text and scores query against it, the same
// idiom internal/search/hybrid.go uses for the lexical half of hybrid
// search (rebuild-per-call keeps the index trivially consistent with
// whatever candidates loadCandidates just produced).
func applyLexicalScores(cands []candidate, query string) error {
	if len(cands) == 0 || query == "" {
		return nil
	}
	mapping := bleve.NewIndexMapping()
	idx, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return fmt.Errorf("memory: create lexical index: %w", err)
	}
	defer idx.Close()

	for i, c := range cands {
		doc := struct {
			Text string `json:"text"`
		}{Text: c.EmbedText}
		if err := idx.Index(docID(i), doc); err != nil {
			return fmt.Errorf("memory: index candidate: %w", err)
		}
	}

	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequest(q)
	req.Size = len(cands)
	res, err := idx.Search(req)
	if err != nil {
		return fmt.Errorf("memory: lexical query: %w", err)
	}

	var maxScore float64
	for _, hit := range res.Hits {
		if hit.Score > maxScore {
			maxScore = hit.Score
		}
	}
	scores := make(map[string]float64, len(res.Hits))
	for _, hit := range res.Hits {
		if maxScore > 0 {
			scores[hit.ID] = hit.Score / maxScore
		}
	}
	for i := range cands {
		cands[i].lexicalScore = scores[docID(i)]
	}
	return nil
}

func docID(i int) string {
	return fmt.Sprintf("c%d", i)
}

// selectForEmbedding takes the lexical stage's top slice forward into
// the (costlier) semantic rerank.
func selectForEmbedding(cands []candidate) []candidate {
	const selectCount = 8
	if len(cands) > selectCount {
		return cands[:selectCount]
	}
	return cands
}

// EmbedFunc embeds free text for semantic comparison; the overlay reuses
// the daemon's query embedder for both the query and the small selected
// candidate set rather than plumbing a second passage-mode embedder
// through just for this path.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// rankCandidates performs the overlay's second ranking stage: embed the
// query and the lexically-pre-filtered candidates, and sort by cosine
// similarity. Any embedding failure degrades to the lexical-only order
// rather than erroring the whole read-pack.
func rankCandidates(ctx context.Context, query string, selected []candidate, embed EmbedFunc) []Hit {
	if len(selected) == 0 {
		return nil
	}
	if embed == nil {
		return hitsFromCandidates(selected)
	}
	queryVec, err := embed(ctx, query)
	if err != nil || queryVec == nil {
		return hitsFromCandidates(selected)
	}

	type scored struct {
		c     candidate
		score float64
	}
	out := make([]scored, 0, len(selected))
	for _, c := range selected {
		vec, err := embed(ctx, c.EmbedText)
		if err != nil || vec == nil {
			out = append(out, scored{c: c, score: c.lexicalScore})
			continue
		}
		out = append(out, scored{c: c, score: cosineSimilarity(queryVec, vec)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })

	hits := make([]Hit, 0, len(out))
	for _, s := range out {
		hits = append(hits, toHit(s.c.storedCandidate, s.score))
	}
	return hits
}

func hitsFromCandidates(cands []candidate) []Hit {
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].lexicalScore > cands[j].lexicalScore })
	hits := make([]Hit, 0, len(cands))
	for _, c := range cands {
		hits = append(hits, toHit(c.storedCandidate, c.lexicalScore))
	}
	return hits
}

func toHit(c storedCandidate, score float64) Hit {
	return Hit{
		Kind:      c.Kind,
		Title:     c.Title,
		Score:     score,
		TsMs:      c.TsMs,
		Excerpt:   c.Excerpt,
		Reference: c.Reference,
	}
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// diversityCaps bounds how many of one kind the recent overlay surfaces
// per response, scaled down for narrower response modes.
func diversityCaps(responseMode string) map[string]int {
	cap3, cap2, cap1 := 3, 2, 1
	switch responseMode {
	case "full":
		return map[string]int{"default": cap3}
	case "minimal":
		return map[string]int{"default": cap1}
	default:
		return map[string]int{"default": cap2}
	}
}

// diversityState is the running per-kind count allowCandidateKind
// checks against caps.
type diversityState struct {
	counts map[string]int
}

func newDiversityState() *diversityState {
	return &diversityState{counts: make(map[string]int)}
}

func allowCandidateKind(kind string, state *diversityState, caps map[string]int) bool {
	limit, ok := caps[kind]
	if !ok {
		limit = caps["default"]
	}
	if state.counts[kind] >= limit {
		return false
	}
	state.counts[kind]++
	return true
}
