// Package search implements the tiered retrieval router: exact registration
// code lookup, then BM25 lexical search, then a gated vector tier blended
// into hybrid scores.
package search

import (
	"context"

	"github.com/medverify/medverify/internal/store"
)

// Source identifies the tier that produced a hit.
type Source string

const (
	// SourceExact is a registration-code lookup hit.
	SourceExact Source = "exact"
	// SourceLexical is a BM25-only hit.
	SourceLexical Source = "lex"
	// SourceVector is a vector-only hit.
	SourceVector Source = "vector"
	// SourceHybrid is a hit present in both lexical and vector results.
	SourceHybrid Source = "hybrid"
)

// ExactScore is the confidence assigned to exact code matches.
const ExactScore = 0.99

// Hit is one scored retrieval result.
type Hit struct {
	Product *store.Product `json:"product"`
	Score   float64        `json:"score"`
	Source  Source         `json:"source"`
}

// Registry is the slice of the store the router consumes.
type Registry interface {
	// FindByCode returns the product for a registration code, or
	// store.ErrNotFound.
	FindByCode(ctx context.Context, code string) (*store.Product, error)

	// SearchLexical returns BM25 hits with normalized scores.
	SearchLexical(ctx context.Context, q string, limit int) ([]*store.LexicalResult, error)

	// GetByVectorIDs resolves vector ids to products.
	GetByVectorIDs(ctx context.Context, ids []int64) ([]*store.Product, error)
}

// VectorSearcher is the vector tier surface; satisfied by both
// *store.VectorIndex and *store.IndexHandle.
type VectorSearcher interface {
	Search(q []float32, k int) ([]store.Neighbor, error)
}

// Config controls router behavior.
type Config struct {
	// LexicalLimit caps candidates pulled from the lexical tier.
	LexicalLimit int
	// VectorK caps candidates pulled from the vector tier.
	VectorK int
	// LexicalGate is the best-lexical-score threshold below which the
	// vector tier engages.
	LexicalGate float64
	// DisableVector turns the vector tier off entirely.
	DisableVector bool
}

// DefaultConfig returns the standard router parameters.
func DefaultConfig() Config {
	return Config{
		LexicalLimit: 25,
		VectorK:      25,
		LexicalGate:  0.35,
	}
}

// Blend weights for hits present in both lexical and vector tiers.
const (
	hybridLexWeight = 0.6
	hybridVecWeight = 0.4
)
