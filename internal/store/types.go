// Package store provides medverify persistence: the SQLite product catalog
// with its audit log, the Bleve lexical index, and the adaptive vector index
// (IVF+PQ when trained on enough data, flat brute-force otherwise).
package store

import (
	"errors"
	"fmt"
	"time"
)

// VectorIDUnassigned marks a product that has not been through an index build.
const VectorIDUnassigned int64 = -1

// Product is one registry record.
type Product struct {
	// ID is the catalog primary key.
	ID string `json:"id"`
	// Code is the registration code (NIE), e.g. "DKL1234567890A1".
	Code         string    `json:"code,omitempty"`
	Name         string    `json:"name"`
	Manufacturer string    `json:"manufacturer,omitempty"`
	DosageForm   string    `json:"dosage_form,omitempty"`
	Strength     string    `json:"strength,omitempty"`
	Composition  string    `json:"composition,omitempty"`
	Category     string    `json:"category,omitempty"`
	// Status is the registry status string as published (e.g. "Aktif",
	// "valid", "revoked"); interpretation happens in the verify layer.
	Status    string    `json:"status,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
	// VectorID is the stable 63-bit vector index id, VectorIDUnassigned
	// until a build has patched it in.
	VectorID int64 `json:"vector_id"`
}

// LexicalResult is a catalog product with its normalized lexical score.
type LexicalResult struct {
	Product *Product
	// Score is normalized into (0,1) so downstream gates apply uniformly.
	Score float64
}

// Neighbor is one vector search result: a stable id and its raw squared L2
// distance (smaller is closer).
type Neighbor struct {
	ID       int64
	Distance float32
}

// AuditEntry is one verification lookup row.
type AuditEntry struct {
	Code     string
	Decision string
	At       time.Time
}

// ErrNotFound is returned by point lookups that miss.
var ErrNotFound = errors.New("store: not found")

// DimensionMismatchError is returned when a vector's dimensionality does not
// match the index.
type DimensionMismatchError struct {
	Expected int
	Got      int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// VectorMode reports how the vector index stores and searches vectors.
type VectorMode string

const (
	// VectorModeFlat is exact brute-force search over raw vectors.
	VectorModeFlat VectorMode = "flat"
	// VectorModeQuantized is IVF+PQ approximate search.
	VectorModeQuantized VectorMode = "quantized"
)

// VectorConfig configures the adaptive vector index.
type VectorConfig struct {
	// Dimensions is the embedding dimensionality.
	Dimensions int
	// MinTrainSize is the sample count below which the index stays flat.
	MinTrainSize int
	// NlistMax caps the adaptive coarse cluster count.
	NlistMax int
	// Nprobe is the number of coarse clusters scanned per query.
	Nprobe int
	// Subquantizers is the PQ segment count; must divide Dimensions.
	Subquantizers int
	// ForceFlat disables quantization regardless of sample count.
	ForceFlat bool
}

// DefaultVectorConfig returns the standard index parameters for dim-sized
// embeddings.
func DefaultVectorConfig(dim int) VectorConfig {
	return VectorConfig{
		Dimensions:    dim,
		MinTrainSize:  256,
		NlistMax:      4096,
		Nprobe:        16,
		Subquantizers: 16,
	}
}
