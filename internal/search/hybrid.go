package search

import (
	"context"
	"fmt"

	"github.com/blevesearch/bleve/v2"

	"github.com/ctxengine/ctxd/internal/chunk"
	"github.com/ctxengine/ctxd/internal/corpus"
	"github.com/ctxengine/ctxd/internal/embed"
	"github.com/ctxengine/ctxd/internal/vectorstore"
)

// Result is one hybrid search hit.
type Result struct {
	ID    string
	Chunk chunk.Chunk
	Score float64
}

// ModelSearch names a model whose store/provider hybrid search draws
// vector hits from.
type ModelSearch struct {
	ID        string
	Store     *vectorstore.Store
	Runtime   *vectorstore.Runtime
	Provider  embed.Provider
	Templates func(query string) string // renders the query per this model's template set
}

// lexicalDoc is the bleve document shape indexed from the shared corpus.
type lexicalDoc struct {
	Content string `json:"content"`
	Symbol  string `json:"symbol"`
	File    string `json:"file"`
}

// buildLexicalIndex rebuilds an in-memory bleve index from c: the
// lexical half of hybrid ranking, computed over the shared corpus.
// Rebuilding per call keeps the lexical index always consistent with
// whatever corpus snapshot the caller loaded, at the cost of redoing the
// work every query, acceptable for the corpus sizes this engine targets
// (local, single-project scope).
func buildLexicalIndex(c *corpus.Corpus) (bleve.Index, map[string]chunk.Chunk, error) {
	mapping := bleve.NewIndexMapping()
	idx, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, nil, fmt.Errorf("search: create lexical index: %w", err)
	}

	byID := make(map[string]chunk.Chunk)
	for _, path := range c.Files() {
		for _, ch := range c.Chunks(path) {
			id := ch.ID()
			byID[id] = ch
			doc := lexicalDoc{Content: ch.Content, Symbol: ch.Metadata.Symbol, File: ch.FilePath}
			if err := idx.Index(id, doc); err != nil {
				return nil, nil, fmt.Errorf("search: index %s: %w", id, err)
			}
		}
	}
	return idx, byID, nil
}

// lexicalScores runs query against the lexical index and returns a
// normalized (0,1] score per hit chunk id, topK at most.
func lexicalScores(idx bleve.Index, query string, topK int) (map[string]float64, error) {
	if query == "" || topK <= 0 {
		return nil, nil
	}
	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequest(q)
	req.Size = topK
	res, err := idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search: lexical query: %w", err)
	}

	out := make(map[string]float64, len(res.Hits))
	var maxScore float64
	for _, hit := range res.Hits {
		if hit.Score > maxScore {
			maxScore = hit.Score
		}
	}
	for _, hit := range res.Hits {
		if maxScore > 0 {
			out[hit.ID] = hit.Score / maxScore
		} else {
			out[hit.ID] = 0
		}
	}
	return out, nil
}

// HybridSearch performs multi-model hybrid search:
// per-model vector top-k, merged with a lexical score over the shared
// corpus, normalized per query.
func HybridSearch(ctx context.Context, c *corpus.Corpus, models []ModelSearch, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 20
	}

	lexIdx, byID, err := buildLexicalIndex(c)
	if err != nil {
		return nil, err
	}
	lexHits, err := lexicalScores(lexIdx, query, limit*4)
	if err != nil {
		return nil, err
	}

	vecScores := make(map[string]float64)
	modelsUsable := 0
	for _, m := range models {
		if m.Runtime == nil || m.Provider == nil {
			continue // ModelUnavailable: this model is simply skipped
		}
		modelsUsable++
		rendered := query
		if m.Templates != nil {
			rendered = m.Templates(query)
		}
		vecs, err := m.Provider.Embed(ctx, []string{rendered}, embed.EmbedModeQuery)
		if err != nil || len(vecs) == 0 {
			continue
		}
		hits, err := m.Runtime.Search(ctx, vecs[0], limit*4)
		if err != nil {
			continue
		}
		for _, h := range hits {
			score := float64(h.Score)
			if score > vecScores[h.ChunkID] {
				vecScores[h.ChunkID] = score
			}
		}
	}

	// ModelUnavailable for every configured model with nothing to fall
	// back on lexically is InvalidRequest.
	if len(models) > 0 && modelsUsable == 0 && len(lexHits) == 0 {
		return nil, fmt.Errorf("search: no model produced results (ModelUnavailable for all models)")
	}

	combined := make(map[string]float64)
	for id, s := range vecScores {
		combined[id] += 0.7 * s
	}
	for id, s := range lexHits {
		combined[id] += 0.3 * s
	}

	results := make([]Result, 0, len(combined))
	var maxCombined float64
	for _, s := range combined {
		if s > maxCombined {
			maxCombined = s
		}
	}
	for id, s := range combined {
		ch, ok := byID[id]
		if !ok {
			continue // corpus no longer has this id; drop rather than serve stale content
		}
		norm := s
		if maxCombined > 0 {
			norm = s / maxCombined
		}
		results = append(results, Result{ID: id, Chunk: ch, Score: norm})
	}

	sortResultsByScore(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func sortResultsByScore(results []Result) {
	// Simple insertion sort by (-score, file, start_line): result sets
	// from a single query are small (bounded by limit*4 upstream).
	for i := 1; i < len(results); i++ {
		v := results[i]
		j := i - 1
		for j >= 0 && less(v, results[j]) {
			results[j+1] = results[j]
			j--
		}
		results[j+1] = v
	}
}

func less(a, b Result) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Chunk.FilePath != b.Chunk.FilePath {
		return a.Chunk.FilePath < b.Chunk.FilePath
	}
	return a.Chunk.StartLine < b.Chunk.StartLine
}
