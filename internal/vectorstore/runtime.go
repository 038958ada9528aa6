// Runtime in-memory similarity search over a Store, backed by
// philippgille/chromem-go. The store's JSON files remain the source of
// truth; chromem-go is rebuilt from them on load and never itself
// persisted: the runtime index is a derived, disposable structure.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/philippgille/chromem-go"
)

// Runtime is a queryable, in-memory similarity index over one Store's
// entries. Build it once per (store, reload-generation) and reuse across
// queries; rebuilding is cheap relative to a full index pass but not free
// per-query.
type Runtime struct {
	collection *chromem.Collection
}

// noopEmbeddingFunc refuses to embed: every document and query is already
// a precomputed vector by the time it reaches chromem-go, since embedding
// generation is a pluggable external collaborator this
// package never calls itself.
func noopEmbeddingFunc(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("vectorstore: embedding func should never be invoked; vectors are supplied directly")
}

// BuildRuntime rehydrates a chromem-go collection from every entry in s.
func BuildRuntime(ctx context.Context, s *Store) (*Runtime, error) {
	db := chromem.NewDB()
	coll, err := db.CreateCollection("vectorstore", nil, noopEmbeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: create collection: %w", err)
	}

	entries := s.All()
	docs := make([]chromem.Document, 0, len(entries))
	for id, e := range entries {
		docs = append(docs, chromem.Document{
			ID:        id,
			Embedding: e.Vector,
			Metadata:  map[string]string{"payload_ref": e.PayloadRef},
		})
	}
	if len(docs) > 0 {
		if err := coll.AddDocuments(ctx, docs, 1); err != nil {
			return nil, fmt.Errorf("vectorstore: add documents: %w", err)
		}
	}
	return &Runtime{collection: coll}, nil
}

// Hit is one similarity search result.
type Hit struct {
	ChunkID    string
	PayloadRef string
	Score      float32
}

// Search returns the topK nearest entries to queryVector by cosine
// similarity. An empty runtime returns an empty, non-error result.
func (r *Runtime) Search(ctx context.Context, queryVector []float32, topK int) ([]Hit, error) {
	if r.collection.Count() == 0 || topK <= 0 {
		return nil, nil
	}
	if topK > r.collection.Count() {
		topK = r.collection.Count()
	}

	results, err := r.collection.QueryEmbedding(ctx, queryVector, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: query: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, res := range results {
		hits = append(hits, Hit{
			ChunkID:    res.ID,
			PayloadRef: res.Metadata["payload_ref"],
			Score:      res.Similarity,
		})
	}
	return hits, nil
}

// Count returns the number of entries loaded into the runtime index.
func (r *Runtime) Count() int {
	return r.collection.Count()
}
