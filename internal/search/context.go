package search

import (
	"context"
	"sort"

	"github.com/ctxengine/ctxd/internal/chunk"
	"github.com/ctxengine/ctxd/internal/corpus"
	"github.com/ctxengine/ctxd/internal/graph"
)

// RelatedContext is one neighbor attached to a primary hit.
type RelatedContext struct {
	Chunk            chunk.Chunk
	RelationshipPath []graph.RelationKind
	Distance         int
	RelevanceScore   float64
}

// EnrichedResult is a primary hit plus its assembled neighborhood.
type EnrichedResult struct {
	Primary    Result
	Related    []RelatedContext
	TotalLines int
	Strategy   graph.Strategy
}

// SearchWithContext: run hybrid search, then
// assemble a bounded neighborhood around each hit via the graph.
func SearchWithContext(ctx context.Context, c *corpus.Corpus, models []ModelSearch, asm *graph.Assembler, query string, limit int, strategy graph.Strategy) ([]EnrichedResult, error) {
	hits, err := HybridSearch(ctx, c, models, query, limit)
	if err != nil {
		return nil, err
	}

	out := make([]EnrichedResult, 0, len(hits))
	for _, hit := range hits {
		out = append(out, enrich(c, asm, hit, strategy))
	}
	return out, nil
}

func enrich(c *corpus.Corpus, asm *graph.Assembler, primary Result, strategy graph.Strategy) EnrichedResult {
	er := EnrichedResult{Primary: primary, Strategy: strategy, TotalLines: primary.Chunk.EndLine - primary.Chunk.StartLine + 1}
	if asm == nil || strategy == graph.StrategyDirect {
		return er
	}

	neighbors := asm.Neighborhood(primary.ID, strategy)
	for _, n := range neighbors {
		ch, ok := c.Lookup(n.ChunkID)
		if !ok {
			continue
		}
		er.Related = append(er.Related, RelatedContext{
			Chunk:            ch,
			RelationshipPath: n.RelationshipPath,
			Distance:         n.Distance,
			RelevanceScore:   relevanceFor(n.Distance, n.RelationshipPath),
		})
		er.TotalLines += ch.EndLine - ch.StartLine + 1
	}
	sort.SliceStable(er.Related, func(i, j int) bool {
		return er.Related[i].RelevanceScore > er.Related[j].RelevanceScore
	})
	return er
}

// relevanceFor scores a related chunk inversely by distance, breaking
// ties by relationship specificity (Calls/Uses count for more than a
// generic Contains/Other edge).
func relevanceFor(distance int, path []graph.RelationKind) float64 {
	base := 1.0 / float64(distance+1)
	if len(path) == 0 {
		return base
	}
	switch path[len(path)-1] {
	case graph.RelationCalls, graph.RelationUses:
		return base + 0.05
	default:
		return base
	}
}
