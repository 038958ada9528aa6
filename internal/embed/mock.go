package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"sync"
)

// MockDimensions is the vector width the deterministic test provider
// produces.
const MockDimensions = 384

// MockProvider embeds by hashing: a text's vector is derived entirely
// from the sha256 of its mode-prefixed content, so equal inputs embed
// equally across processes and runs. It stands in for a real inference
// backend in tests and offline runs.
type MockProvider struct {
	mu         sync.Mutex
	embedError error
}

// NewMockProvider returns a deterministic hash-based provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// SetEmbedError makes every later Embed call fail with err.
func (p *MockProvider) SetEmbedError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.embedError = err
}

// Embed derives one vector per text. The mode participates in the seed,
// so query and passage renderings of the same text land on different
// vectors, matching how asymmetric retrieval models behave.
func (p *MockProvider) Embed(_ context.Context, texts []string, mode EmbedMode) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.embedError != nil {
		return nil, p.embedError
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = hashVector(string(mode) + "\x00" + text)
	}
	return vectors, nil
}

// hashVector expands a seed string into MockDimensions floats in
// [-1, 1), re-hashing the digest whenever its bytes run out.
func hashVector(seed string) []float32 {
	vec := make([]float32, MockDimensions)
	block := sha256.Sum256([]byte(seed))
	offset := 0
	for j := range vec {
		if offset+4 > len(block) {
			block = sha256.Sum256(block[:])
			offset = 0
		}
		u := binary.BigEndian.Uint32(block[offset : offset+4])
		offset += 4
		vec[j] = float32(u)/float32(1<<31) - 1.0
	}
	return vec
}

// Dimensions reports the fixed mock vector width.
func (p *MockProvider) Dimensions() int { return MockDimensions }

// Close is a no-op; the mock holds no resources.
func (p *MockProvider) Close() error { return nil }
