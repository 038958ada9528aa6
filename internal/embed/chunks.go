package embed

import (
	"context"
	"fmt"

	"github.com/ctxengine/ctxd/internal/chunk"
)

// DefaultChunkBatch bounds how many chunk bodies one Embed call carries
// when the caller doesn't pick a batch size.
const DefaultChunkBatch = 64

// EmbedChunks embeds the content of chunks in passage mode, batchSize
// at a time, checking ctx between batches. The returned vectors line up
// index-for-index with chunks. progress, when non-nil, is called after
// each batch with the running done count.
func EmbedChunks(ctx context.Context, provider Provider, chunks []chunk.Chunk, batchSize int, progress func(done, total int)) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = DefaultChunkBatch
	}
	total := len(chunks)
	if total == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, total)
	for start := 0; start < total; start += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + batchSize
		if end > total {
			end = total
		}

		texts := make([]string, 0, end-start)
		for _, ch := range chunks[start:end] {
			texts = append(texts, ch.Content)
		}
		batch, err := provider.Embed(ctx, texts, EmbedModePassage)
		if err != nil {
			return nil, fmt.Errorf("embed: chunks %d-%d of %d: %w", start, end, total, err)
		}
		if len(batch) != len(texts) {
			return nil, fmt.Errorf("embed: provider returned %d vectors for %d texts", len(batch), len(texts))
		}
		vectors = append(vectors, batch...)

		if progress != nil {
			progress(end, total)
		}
	}
	return vectors, nil
}
