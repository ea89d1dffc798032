package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

// lexicalDoc is the shape indexed into Bleve. The catalog stays the source
// of truth; the lexical index holds only searchable text keyed by product id.
type lexicalDoc struct {
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
	Composition  string `json:"composition"`
	Category     string `json:"category"`
}

// LexicalIndex is the Bleve-backed BM25 tier over product text fields.
type LexicalIndex struct {
	index  bleve.Index
	logger *slog.Logger
}

// OpenLexical opens (or creates) the lexical index at path. An empty path
// builds an in-memory index. A corrupt on-disk index is discarded and
// rebuilt empty rather than failing open.
func OpenLexical(path string, logger *slog.Logger) (*LexicalIndex, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if path == "" {
		idx, err := bleve.NewMemOnly(buildMapping())
		if err != nil {
			return nil, fmt.Errorf("create in-memory lexical index: %w", err)
		}
		return &LexicalIndex{index: idx, logger: logger}, nil
	}

	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, buildMapping())
		if err != nil {
			return nil, fmt.Errorf("create lexical index: %w", err)
		}
		return &LexicalIndex{index: idx, logger: logger}, nil
	}
	if err != nil {
		// Unreadable index: drop and start over. The catalog can always
		// repopulate it.
		logger.Warn("lexical index unreadable, rebuilding empty",
			slog.String("path", path), slog.String("error", err.Error()))
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return nil, fmt.Errorf("remove corrupt lexical index: %w", rmErr)
		}
		idx, err = bleve.New(path, buildMapping())
		if err != nil {
			return nil, fmt.Errorf("recreate lexical index: %w", err)
		}
	}
	return &LexicalIndex{index: idx, logger: logger}, nil
}

func buildMapping() mapping.IndexMapping {
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	text.Store = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("name", text)
	doc.AddFieldMappingsAt("manufacturer", text)
	doc.AddFieldMappingsAt("composition", text)
	doc.AddFieldMappingsAt("category", text)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	m.DefaultAnalyzer = standard.Name
	return m
}

// IndexProduct adds or updates one product in the lexical tier.
func (l *LexicalIndex) IndexProduct(p *Product) error {
	return l.index.Index(p.ID, lexicalDoc{
		Name:         p.Name,
		Manufacturer: p.Manufacturer,
		Composition:  p.Composition,
		Category:     p.Category,
	})
}

// IndexBatch indexes products through a Bleve batch.
func (l *LexicalIndex) IndexBatch(products []*Product) error {
	batch := l.index.NewBatch()
	for _, p := range products {
		if err := batch.Index(p.ID, lexicalDoc{
			Name:         p.Name,
			Manufacturer: p.Manufacturer,
			Composition:  p.Composition,
			Category:     p.Category,
		}); err != nil {
			return fmt.Errorf("batch index %s: %w", p.ID, err)
		}
	}
	return l.index.Batch(batch)
}

// Delete removes a product from the lexical tier.
func (l *LexicalIndex) Delete(productID string) error {
	return l.index.Delete(productID)
}

// LexicalHit is a raw lexical match before catalog enrichment.
type LexicalHit struct {
	ProductID string
	// Score is normalized into (0,1) with s/(1+s) so a fixed threshold can
	// gate it regardless of corpus statistics.
	Score float64
}

// Search runs a BM25 match query over name, composition and manufacturer,
// name boosted highest.
func (l *LexicalIndex) Search(ctx context.Context, q string, limit int) ([]*LexicalHit, error) {
	if limit <= 0 {
		limit = 10
	}

	queries := make([]query.Query, 0, 3)
	for _, fq := range []struct {
		field string
		boost float64
	}{
		{"name", 3.0},
		{"composition", 1.0},
		{"manufacturer", 1.0},
	} {
		mq := bleve.NewMatchQuery(q)
		mq.SetField(fq.field)
		mq.SetBoost(fq.boost)
		queries = append(queries, mq)
	}

	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(queries...))
	req.Size = limit

	res, err := l.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	hits := make([]*LexicalHit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, &LexicalHit{
			ProductID: h.ID,
			Score:     h.Score / (1 + h.Score),
		})
	}
	return hits, nil
}

// DocCount returns the number of indexed products.
func (l *LexicalIndex) DocCount() (uint64, error) {
	return l.index.DocCount()
}

// Close closes the underlying index.
func (l *LexicalIndex) Close() error {
	return l.index.Close()
}
