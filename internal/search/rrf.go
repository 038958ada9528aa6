package search

import (
	"context"
	"sort"

	"github.com/ctxengine/ctxd/internal/corpus"
	"github.com/ctxengine/ctxd/internal/graph"
	"github.com/ctxengine/ctxd/internal/vectorstore"
)

// RRFK is the RRF smoothing constant.
const RRFK = 60

// FusionProfile weights the graph-nodes ranked list in fusion; the
// base hybrid-search list always has weight 1.0.
type FusionProfile struct {
	GraphNodesWeight float64
	TopKNodes        int // default 32
}

// DefaultFusionProfile returns the stock fusion weights.
func DefaultFusionProfile() FusionProfile {
	return FusionProfile{GraphNodesWeight: 0.5, TopKNodes: 32}
}

// rrfScore computes one list's contribution to a fused score.
func rrfScore(weight float64, rank int) float64 {
	return weight / float64(RRFK+rank+1)
}

// FuseGraphNodes: when the classifier marks a
// query Conceptual and strategy isn't Direct, blend a graph-nodes
// semantic index into the base hybrid/context-search results via
// Reciprocal Rank Fusion.
func FuseGraphNodes(
	ctx context.Context,
	c *corpus.Corpus,
	asm *graph.Assembler,
	nodeStore *graph.NodeStore,
	nodeRuntimeSearch func(ctx context.Context, queryVector []float32, topK int) ([]vectorstore.Hit, error),
	embedQuery func(ctx context.Context, text string) ([]float32, error),
	query string,
	base []EnrichedResult,
	strategy graph.Strategy,
	profile FusionProfile,
	reject RejectPath,
	candidateLimit int,
) ([]EnrichedResult, error) {
	if nodeStore == nil || strategy == graph.StrategyDirect {
		return base, nil
	}

	topK := profile.TopKNodes
	if topK <= 0 {
		topK = 32
	}

	queryVec, err := embedQuery(ctx, query)
	if err != nil || queryVec == nil {
		return base, nil
	}
	nodeHits, err := nodeRuntimeSearch(ctx, queryVec, topK)
	if err != nil {
		return base, nil
	}

	baseRank := make(map[string]int, len(base))
	for i, r := range base {
		baseRank[r.Primary.ID] = i
	}

	fused := make(map[string]float64)
	for id := range baseRank {
		fused[id] += rrfScore(1.0, baseRank[id])
	}

	nodeRank := make(map[string]int, len(nodeHits))
	for i, h := range nodeHits {
		nodeRank[h.ChunkID] = i
		fused[h.ChunkID] += rrfScore(profile.GraphNodesWeight, i)
	}

	// Assemble EnrichedResults for ids introduced only by the
	// graph-nodes list.
	extra := make(map[string]EnrichedResult)
	for id, rank := range nodeRank {
		if _, inBase := baseRank[id]; inBase {
			continue
		}
		ch, ok := c.Lookup(id)
		if !ok {
			continue // missing from corpus: skip
		}
		if reject != nil && reject(ch.FilePath) {
			continue // profile-rejected: same step
		}
		primary := Result{ID: id, Chunk: ch, Score: rrfScore(profile.GraphNodesWeight, rank)}
		extra[id] = enrich(c, asm, primary, strategy)
	}

	merged := make([]EnrichedResult, 0, len(base)+len(extra))
	merged = append(merged, base...)
	for _, er := range extra {
		merged = append(merged, er)
	}

	normalizeFused(fused)
	for i := range merged {
		merged[i].Primary.Score = fused[merged[i].Primary.ID]
	}

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i].Primary, merged[j].Primary
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Chunk.FilePath != b.Chunk.FilePath {
			return a.Chunk.FilePath < b.Chunk.FilePath
		}
		return a.Chunk.StartLine < b.Chunk.StartLine
	})

	if candidateLimit > 0 && len(merged) > candidateLimit {
		merged = merged[:candidateLimit]
	}
	return merged, nil
}

// normalizeFused rescales fused scores to [0,1], clamping the
// normalization range at a minimum of 1e-9 so a
// single-candidate result set never divides by zero.
func normalizeFused(fused map[string]float64) {
	var maxScore float64
	for _, s := range fused {
		if s > maxScore {
			maxScore = s
		}
	}
	if maxScore < 1e-9 {
		maxScore = 1e-9
	}
	for id, s := range fused {
		fused[id] = s / maxScore
	}
}
