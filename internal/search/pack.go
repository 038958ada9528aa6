package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ctxengine/ctxd/internal/chunk"
	"github.com/ctxengine/ctxd/internal/corpus"
	"github.com/ctxengine/ctxd/internal/graph"
	"github.com/ctxengine/ctxd/internal/vectorstore"
)

// PathCategory is the file-path classification context-pack primaries
// are sorted by.
type PathCategory int

const (
	CategoryCode PathCategory = iota
	CategoryTest
	CategoryConfig
	CategoryOther
	CategoryDocs
)

var testPathMarkers = []string{"_test.", "/test/", "/tests/", "/spec/", "_spec."}
var configPathSuffixes = []string{".json", ".yaml", ".yml", ".toml", ".ini", ".cfg", ".conf"}
var docsPathSuffixes = []string{".md", ".mdx", ".rst", ".adoc", ".txt"}

// ClassifyPath buckets a file path as Code, Test, Config, Other, or
// Docs.
func ClassifyPath(path string) PathCategory {
	lower := strings.ToLower(path)
	for _, marker := range testPathMarkers {
		if strings.Contains(lower, marker) {
			return CategoryTest
		}
	}
	for _, suffix := range docsPathSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return CategoryDocs
		}
	}
	for _, suffix := range configPathSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return CategoryConfig
		}
	}
	if strings.HasSuffix(lower, ".go") || strings.HasSuffix(lower, ".rs") ||
		strings.HasSuffix(lower, ".py") || strings.HasSuffix(lower, ".ts") ||
		strings.HasSuffix(lower, ".js") || strings.HasSuffix(lower, ".java") ||
		strings.HasSuffix(lower, ".c") || strings.HasSuffix(lower, ".cpp") ||
		strings.HasSuffix(lower, ".h") {
		return CategoryCode
	}
	return CategoryOther
}

// kindRank orders categories for sorting, per prefer_code.
func kindRank(cat PathCategory, preferCode bool) int {
	if preferCode {
		order := []PathCategory{CategoryCode, CategoryTest, CategoryConfig, CategoryOther, CategoryDocs}
		for i, c := range order {
			if c == cat {
				return i
			}
		}
	}
	order := []PathCategory{CategoryDocs, CategoryCode, CategoryTest, CategoryConfig, CategoryOther}
	for i, c := range order {
		if c == cat {
			return i
		}
	}
	return len(order)
}

// RelatedMode selects how related items are ordered within a primary.
type RelatedMode string

const (
	RelatedModeExplore RelatedMode = "explore"
	RelatedModeFocus   RelatedMode = "focus"
)

// PackRequest is context_pack's input.
type PackRequest struct {
	Query                string
	Limit                int
	MaxChars             int
	MaxRelatedPerPrimary int
	IncludeDocs          bool
	PreferCode           bool
	RelatedMode          RelatedMode
	Strategy             graph.Strategy

	// Graph-nodes RRF fusion inputs: all optional. When
	// NodeStore is nil, fusion is skipped: a caller without a project's
	// GraphNodeStore built yet simply gets the base context-search order.
	NodeStore         *graph.NodeStore
	NodeRuntimeSearch func(ctx context.Context, queryVector []float32, topK int) ([]vectorstore.Hit, error)
	EmbedQuery        func(ctx context.Context, text string) ([]float32, error)
	FusionProfile     FusionProfile

	// Reject, when set, hard-filters candidate paths before assembly
	// (profile rejection applied at the pack level).
	Reject RejectPath
}

// TruncationReason names why a pack stopped short of all candidates.
type TruncationReason string

const (
	TruncationNone     TruncationReason = ""
	TruncationMaxChars TruncationReason = "max_chars"
)

// PackItem is one rendered entry in the assembled pack: a primary hit or
// one of its related snippets.
type PackItem struct {
	FilePath  string
	StartLine int
	EndLine   int
	Content   string
	Symbol    string
	IsPrimary bool
	Distance  int
}

// Pack is context_pack's output.
type Pack struct {
	Items        []PackItem
	Truncated    bool
	Truncation   TruncationReason
	DroppedItems int
}

// itemCost approximates the per-item budget cost:
// content length plus import lengths plus a fixed envelope overhead.
func itemCost(content string, imports []string) int {
	cost := len(content) + 128
	for _, imp := range imports {
		cost += len(imp) + 1
	}
	return cost
}

// ContextPack runs context search for the query and assembles the
// deterministic, budget-bounded pack.
func ContextPack(ctx context.Context, c *corpus.Corpus, models []ModelSearch, asm *graph.Assembler, req PackRequest) (*Pack, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	maxChars := req.MaxChars
	if maxChars <= 0 {
		maxChars = 16000
	}
	maxRelated := req.MaxRelatedPerPrimary
	if maxRelated <= 0 {
		maxRelated = 8
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = graph.StrategyExtended
	}

	docsHeavy := IsDocsIntent(req.Query)
	candidateLimit := limit + 50
	candidateCap := 200
	if docsHeavy {
		candidateLimit = limit + 100
		candidateCap = 300
	}
	if candidateLimit > candidateCap {
		candidateLimit = candidateCap
	}

	candidates, err := SearchWithContext(ctx, c, models, asm, req.Query, candidateLimit, strategy)
	if err != nil {
		return nil, err
	}
	candidates = filterRejected(candidates, req.Reject)

	if req.NodeStore != nil && Classify(req.Query) == IntentConceptual {
		profile := req.FusionProfile
		if profile == (FusionProfile{}) {
			profile = DefaultFusionProfile()
		}
		candidates, err = FuseGraphNodes(ctx, c, asm, req.NodeStore, req.NodeRuntimeSearch, req.EmbedQuery, req.Query, candidates, strategy, profile, req.Reject, candidateLimit)
		if err != nil {
			return nil, err
		}
	}

	if !req.IncludeDocs {
		filtered := candidates[:0:0]
		for _, er := range candidates {
			if ClassifyPath(er.Primary.Chunk.FilePath) == CategoryDocs {
				continue
			}
			related := er.Related[:0:0]
			for _, rc := range er.Related {
				if ClassifyPath(rc.Chunk.FilePath) != CategoryDocs {
					related = append(related, rc)
				}
			}
			er.Related = related
			filtered = append(filtered, er)
		}
		candidates = filtered
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		ra := kindRank(ClassifyPath(a.Primary.Chunk.FilePath), req.PreferCode)
		rb := kindRank(ClassifyPath(b.Primary.Chunk.FilePath), req.PreferCode)
		if ra != rb {
			return ra < rb
		}
		if a.Primary.Score != b.Primary.Score {
			return a.Primary.Score > b.Primary.Score
		}
		if a.Primary.Chunk.FilePath != b.Primary.Chunk.FilePath {
			return a.Primary.Chunk.FilePath < b.Primary.Chunk.FilePath
		}
		return a.Primary.Chunk.StartLine < b.Primary.Chunk.StartLine
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	for i := range candidates {
		orderRelated(candidates[i].Related, req.RelatedMode, req.Query)
	}

	pack := &Pack{}
	used := 0
	for _, er := range candidates {
		primaryCost := itemCost(er.Primary.Chunk.Content, er.Primary.Chunk.Metadata.ContextImports)
		if used+primaryCost > maxChars {
			pack.Truncated = true
			pack.Truncation = TruncationMaxChars
			pack.DroppedItems++
			break
		}
		pack.Items = append(pack.Items, packItemFrom(er.Primary.Chunk, true, 0))
		used += primaryCost

		related := er.Related
		if len(related) > maxRelated {
			related = related[:maxRelated]
		}
		relCounts := make(map[graph.RelationKind]int)
		overflow := false
		for _, rc := range related {
			kindCap := relationCap(rc.RelationshipPath)
			kind := lastRelation(rc.RelationshipPath)
			if relCounts[kind] >= kindCap {
				continue
			}
			cost := itemCost(rc.Chunk.Content, rc.Chunk.Metadata.ContextImports)
			if used+cost > maxChars {
				pack.Truncated = true
				pack.Truncation = TruncationMaxChars
				pack.DroppedItems++
				overflow = true
				break
			}
			pack.Items = append(pack.Items, packItemFrom(rc.Chunk, false, rc.Distance))
			used += cost
			relCounts[kind]++
		}
		if overflow {
			break
		}
	}

	if used > maxChars {
		for used > maxChars && len(pack.Items) > 0 {
			last := pack.Items[len(pack.Items)-1]
			used -= itemCost(last.Content, nil)
			pack.Items = pack.Items[:len(pack.Items)-1]
			pack.DroppedItems++
		}
		if used > maxChars {
			return nil, fmt.Errorf("search: max_chars_too_small(%d)", used)
		}
		pack.Truncated = true
		pack.Truncation = TruncationMaxChars
	}

	return pack, nil
}

// filterRejected drops candidates whose primary path the profile
// rejects, and prunes rejected paths from each survivor's related set.
func filterRejected(candidates []EnrichedResult, reject RejectPath) []EnrichedResult {
	if reject == nil {
		return candidates
	}
	kept := candidates[:0:0]
	for _, er := range candidates {
		if reject(er.Primary.Chunk.FilePath) {
			continue
		}
		related := er.Related[:0:0]
		for _, rc := range er.Related {
			if !reject(rc.Chunk.FilePath) {
				related = append(related, rc)
			}
		}
		er.Related = related
		kept = append(kept, er)
	}
	return kept
}

func packItemFrom(ch chunk.Chunk, isPrimary bool, distance int) PackItem {
	return PackItem{
		FilePath:  ch.FilePath,
		StartLine: ch.StartLine,
		EndLine:   ch.EndLine,
		Content:   ch.Content,
		Symbol:    ch.Metadata.Symbol,
		IsPrimary: isPrimary,
		Distance:  distance,
	}
}

func lastRelation(path []graph.RelationKind) graph.RelationKind {
	if len(path) == 0 {
		return graph.RelationContains
	}
	return path[len(path)-1]
}

// relationCap per-relationship caps.
func relationCap(path []graph.RelationKind) int {
	switch lastRelation(path) {
	case graph.RelationCalls, graph.RelationUses:
		return 6
	case graph.RelationContains:
		return 4
	case graph.RelationExtends:
		return 3
	case graph.RelationImports, graph.RelationTestedBy:
		return 2
	default:
		return 2
	}
}

// orderRelated explore/focus related
// ordering, in place.
func orderRelated(related []RelatedContext, mode RelatedMode, query string) {
	if mode == RelatedModeFocus {
		kept := related[:0:0]
		for _, rc := range related {
			if rc.Distance <= 2 {
				kept = append(kept, rc)
			}
		}
		hits, nonHits := splitQueryHits(kept, query)
		sort.SliceStable(hits, func(i, j int) bool { return lessRelated(hits[i], hits[j]) })
		sort.SliceStable(nonHits, func(i, j int) bool { return lessRelated(nonHits[i], nonHits[j]) })

		var out []RelatedContext
		out = append(out, hits...)
		added := 0
		for _, rc := range nonHits {
			if rc.Distance > 1 || added >= 2 {
				continue
			}
			out = append(out, rc)
			added++
		}
		copy(related, out)
		for i := len(out); i < len(related); i++ {
			related[i] = RelatedContext{}
		}
		return
	}

	sort.SliceStable(related, func(i, j int) bool { return lessRelated(related[i], related[j]) })
}

func lessRelated(a, b RelatedContext) bool {
	if a.RelevanceScore != b.RelevanceScore {
		return a.RelevanceScore > b.RelevanceScore
	}
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	if a.Chunk.FilePath != b.Chunk.FilePath {
		return a.Chunk.FilePath < b.Chunk.FilePath
	}
	return a.Chunk.StartLine < b.Chunk.StartLine
}

// splitQueryHits partitions related by whether query tokens hit the
// file path, symbol, or content.
func splitQueryHits(related []RelatedContext, query string) (hits, nonHits []RelatedContext) {
	tokens := strings.Fields(strings.ToLower(query))
	for _, rc := range related {
		if queryTokenHits(rc, tokens) {
			hits = append(hits, rc)
		} else {
			nonHits = append(nonHits, rc)
		}
	}
	return hits, nonHits
}

func queryTokenHits(rc RelatedContext, tokens []string) bool {
	haystack := strings.ToLower(rc.Chunk.FilePath + " " + rc.Chunk.Metadata.Symbol + " " + rc.Chunk.Content)
	for _, tok := range tokens {
		if tok != "" && strings.Contains(haystack, tok) {
			return true
		}
	}
	return false
}
