// Package embed defines the embedding collaborator contract: a Provider
// turns text into fixed-dimension float vectors, deterministically for a
// given (model, template, input). Inference itself is pluggable and out
// of scope; the package ships a deterministic hash-based provider for
// tests and offline runs, plus the chunk-batching helper the indexer
// embeds through.
package embed

import "context"

// EmbedMode selects the template family a text is rendered under before
// embedding. Queries and passages embed differently under asymmetric
// retrieval models, so the mode is part of the provider contract.
type EmbedMode string

const (
	EmbedModeQuery   EmbedMode = "query"
	EmbedModePassage EmbedMode = "passage"
)

// Provider turns texts into dense vectors. Implementations must be
// deterministic for a given (model, template hash, input) so on-disk
// stores stay reproducible across runs.
type Provider interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string, mode EmbedMode) ([][]float32, error)

	// Dimensions reports the width of every vector Embed returns.
	Dimensions() int

	// Close releases any resources the provider holds.
	Close() error
}
