package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/medverify/medverify/internal/embed"
	"github.com/medverify/medverify/internal/store"
	"github.com/medverify/medverify/internal/telemetry"
)

// Router routes a query through the retrieval tiers. The exact tier short
// circuits; the lexical tier always runs; the vector tier engages only for
// noisy queries or weak lexical results, and its failures degrade to
// lexical-only results rather than failing the search.
type Router struct {
	registry Registry
	embedder embed.Embedder
	vector   VectorSearcher
	cfg      Config
	logger   *slog.Logger
	metrics  *telemetry.Metrics
}

// Option configures the router.
type Option func(*Router)

// WithVector enables the vector tier.
func WithVector(embedder embed.Embedder, vector VectorSearcher) Option {
	return func(r *Router) {
		r.embedder = embedder
		r.vector = vector
	}
}

// WithConfig overrides the default parameters.
func WithConfig(cfg Config) Option {
	return func(r *Router) { r.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// WithMetrics wires tier counters.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// NewRouter creates a router over the registry.
func NewRouter(registry Registry, opts ...Option) *Router {
	r := &Router{
		registry: registry,
		cfg:      DefaultConfig(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cfg.LexicalLimit <= 0 {
		r.cfg.LexicalLimit = 25
	}
	if r.cfg.VectorK <= 0 {
		r.cfg.VectorK = 25
	}
	return r
}

// Search returns up to k hits for the query, best first. An empty trimmed
// query yields an empty result, not an error; input validation belongs to
// the caller's surface.
func (r *Router) Search(ctx context.Context, q string, k int) ([]*Hit, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, nil
	}
	if k <= 0 {
		k = 5
	}

	// Tier 1: exact code lookup.
	if LooksLikeCode(q) {
		p, err := r.registry.FindByCode(ctx, q)
		switch {
		case err == nil:
			r.metrics.IncSearchTier(string(SourceExact))
			return []*Hit{{Product: p, Score: ExactScore, Source: SourceExact}}, nil
		case errors.Is(err, store.ErrNotFound):
			// Fall through to the text tiers.
		default:
			r.logger.Warn("exact lookup failed, continuing with text tiers",
				slog.String("error", err.Error()))
		}
	}

	// Tier 2 and the query embedding run concurrently; the embedding is
	// only spent if the gate opens.
	var lexHits []*store.LexicalResult
	var qvec []float32

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		lexHits, err = r.registry.SearchLexical(gctx, q, r.cfg.LexicalLimit)
		if err != nil {
			return fmt.Errorf("lexical tier: %w", err)
		}
		return nil
	})
	if r.vectorEnabled() {
		g.Go(func() error {
			vec, err := r.embedder.Embed(gctx, q)
			if err != nil {
				// Vector degradation is not an error for the search.
				r.logger.Warn("query embedding failed, vector tier skipped",
					slog.String("error", err.Error()))
				return nil
			}
			qvec = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	bestLex := 0.0
	for _, h := range lexHits {
		if h.Score > bestLex {
			bestLex = h.Score
		}
	}

	// Tier 3: vector, gated on noise or weak lexical evidence.
	var vecHits map[string]*vecCandidate
	if qvec != nil && (IsNoisy(q) || bestLex < r.cfg.LexicalGate) {
		vecHits = r.searchVector(ctx, qvec)
	}

	hits := r.blend(lexHits, vecHits, k)
	if len(hits) > 0 {
		r.metrics.IncSearchTier(string(hits[0].Source))
	}
	return hits, nil
}

// SearchBest returns the single best hit, or nil when nothing matched.
func (r *Router) SearchBest(ctx context.Context, q string) (*Hit, error) {
	hits, err := r.Search(ctx, q, 1)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}
	return hits[0], nil
}

func (r *Router) vectorEnabled() bool {
	return !r.cfg.DisableVector && r.vector != nil && r.embedder != nil
}

type vecCandidate struct {
	product *store.Product
	sim     float64
}

// searchVector runs the vector tier; any failure logs and returns nothing.
func (r *Router) searchVector(ctx context.Context, qvec []float32) map[string]*vecCandidate {
	neighbors, err := r.vector.Search(qvec, r.cfg.VectorK)
	if err != nil {
		r.logger.Warn("vector search failed, continuing lexical-only",
			slog.String("error", err.Error()))
		return nil
	}
	if len(neighbors) == 0 {
		return nil
	}

	ids := make([]int64, len(neighbors))
	simByID := make(map[int64]float64, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.ID
		// Squared L2 distance to a bounded similarity.
		simByID[n.ID] = 1.0 / (1.0 + float64(n.Distance))
	}

	products, err := r.registry.GetByVectorIDs(ctx, ids)
	if err != nil {
		r.logger.Warn("vector id resolution failed, continuing lexical-only",
			slog.String("error", err.Error()))
		return nil
	}

	out := make(map[string]*vecCandidate, len(products))
	for _, p := range products {
		out[blendKey(p)] = &vecCandidate{product: p, sim: simByID[p.VectorID]}
	}
	return out
}

// blendKey dedupes candidates across tiers: registration code when present,
// catalog id otherwise.
func blendKey(p *store.Product) string {
	if p.Code != "" {
		return p.Code
	}
	return p.ID
}

// blend merges the lexical and vector candidate sets. Hits in both lists
// score 0.6·lex + 0.4·vec as hybrid; single-tier hits keep their own score.
func (r *Router) blend(lexHits []*store.LexicalResult, vecHits map[string]*vecCandidate, k int) []*Hit {
	merged := make(map[string]*Hit, len(lexHits)+len(vecHits))

	for _, lh := range lexHits {
		key := blendKey(lh.Product)
		if vc, ok := vecHits[key]; ok {
			merged[key] = &Hit{
				Product: lh.Product,
				Score:   hybridLexWeight*lh.Score + hybridVecWeight*vc.sim,
				Source:  SourceHybrid,
			}
			continue
		}
		merged[key] = &Hit{Product: lh.Product, Score: lh.Score, Source: SourceLexical}
	}
	for key, vc := range vecHits {
		if _, ok := merged[key]; ok {
			continue
		}
		merged[key] = &Hit{Product: vc.product, Score: vc.sim, Source: SourceVector}
	}

	out := make([]*Hit, 0, len(merged))
	for _, h := range merged {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return blendKey(out[i].Product) < blendKey(out[j].Product)
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}
