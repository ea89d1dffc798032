package store

import (
	"context"
	"errors"
	"fmt"
)

// Registry bundles the catalog and lexical tiers behind the lookup surface
// the retrieval router consumes.
type Registry struct {
	catalog *Catalog
	lexical *LexicalIndex
}

// NewRegistry creates the composite registry.
func NewRegistry(catalog *Catalog, lexical *LexicalIndex) *Registry {
	return &Registry{catalog: catalog, lexical: lexical}
}

// FindByCode proxies the exact catalog lookup.
func (r *Registry) FindByCode(ctx context.Context, code string) (*Product, error) {
	return r.catalog.FindByCode(ctx, code)
}

// GetByVectorIDs proxies catalog resolution of vector ids.
func (r *Registry) GetByVectorIDs(ctx context.Context, ids []int64) ([]*Product, error) {
	return r.catalog.GetByVectorIDs(ctx, ids)
}

// SaveAudit proxies the audit log.
func (r *Registry) SaveAudit(ctx context.Context, code, decision string) error {
	return r.catalog.SaveAudit(ctx, code, decision)
}

// SearchLexical runs the BM25 tier and enriches hits from the catalog.
// Hits whose product row vanished between index and catalog are dropped.
func (r *Registry) SearchLexical(ctx context.Context, q string, limit int) ([]*LexicalResult, error) {
	hits, err := r.lexical.Search(ctx, q, limit)
	if err != nil {
		return nil, err
	}

	out := make([]*LexicalResult, 0, len(hits))
	for _, h := range hits {
		p, err := r.catalog.GetByID(ctx, h.ProductID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("enrich lexical hit %s: %w", h.ProductID, err)
		}
		out = append(out, &LexicalResult{Product: p, Score: h.Score})
	}
	return out, nil
}
