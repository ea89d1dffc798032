// Package embed provides the embedding port and its implementations: an
// OpenAI-compatible HTTP provider, a deterministic static fallback, and an
// LRU-cached wrapper.
package embed

import "context"

// DefaultDimensions matches text-embedding-3-small.
const DefaultDimensions = 1536

// DefaultModel is the default provider model.
const DefaultModel = "text-embedding-3-small"

// Embedder converts text to fixed-dimension vectors.
type Embedder interface {
	// Embed returns the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns embeddings for texts in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimensionality.
	Dimensions() int

	// ModelName identifies the model, used for cache keys.
	ModelName() string

	// Close releases resources.
	Close() error
}
