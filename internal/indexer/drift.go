package indexer

import (
	"context"
	"fmt"
	"sort"

	"github.com/ctxengine/ctxd/internal/chunk"
	"github.com/ctxengine/ctxd/internal/corpus"
	"github.com/ctxengine/ctxd/internal/embed"
	"github.com/ctxengine/ctxd/internal/vectorstore"
)

// driftBatchSize is the batch size drift repair embeds missing chunks in
// ("batch size ≈ 64").
const driftBatchSize = 64

// repairDrift closes the gap left when a previous run saved the corpus
// but crashed before saving a store: anything in the corpus that the
// store doesn't yet have an entry for gets embedded and inserted.
func repairDrift(ctx context.Context, c *corpus.Corpus, store *vectorstore.Store, provider embed.Provider) error {
	corpusIDs := c.AllIDs()
	storeIDs := store.IDs()

	var missing []chunk.Chunk
	for id := range corpusIDs {
		if _, ok := storeIDs[id]; ok {
			continue
		}
		ch, ok := c.Lookup(id)
		if !ok {
			continue // referenced by id but gone from the corpus; skip
		}
		missing = append(missing, ch)
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].ID() < missing[j].ID() })

	vectors, err := embed.EmbedChunks(ctx, provider, missing, driftBatchSize, nil)
	if err != nil {
		return fmt.Errorf("indexer: drift repair: %w", err)
	}
	for i, ch := range missing {
		id := ch.ID()
		store.Set(id, vectorstore.Entry{Vector: vectors[i], PayloadRef: id})
	}
	return nil
}
