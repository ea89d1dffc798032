// Package index builds the vector index from the product catalog: it
// streams products, embeds their composed text in batches, trains the index
// once enough vectors are buffered, and persists the result atomically.
package index

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/medverify/medverify/internal/embed"
	verrors "github.com/medverify/medverify/internal/errors"
	"github.com/medverify/medverify/internal/store"
	"github.com/medverify/medverify/internal/telemetry"
)

// Catalog is the slice of the catalog the builder needs.
type Catalog interface {
	IterateProducts(ctx context.Context, fn func(*store.Product) error) error
	SetVectorID(ctx context.Context, productID string, vectorID int64) error
}

// Config controls a build run.
type Config struct {
	// BatchSize is the number of texts embedded per provider call.
	BatchSize int
	// TrainTarget is the number of vectors buffered before training.
	TrainTarget int
	// LockPath guards against concurrent builds; empty disables locking.
	LockPath string
}

// DefaultConfig returns the standard build parameters.
func DefaultConfig() Config {
	return Config{
		BatchSize:   512,
		TrainTarget: 20000,
	}
}

// Stats summarizes a completed build.
type Stats struct {
	Products int
	Indexed  int
	Skipped  int
	Mode     store.VectorMode
	Duration time.Duration
}

// Builder drives one build run.
type Builder struct {
	catalog  Catalog
	lexical  *store.LexicalIndex
	embedder embed.Embedder
	index    *store.VectorIndex
	cfg      Config
	logger   *slog.Logger
	metrics  *telemetry.Metrics
}

// New creates a builder. lexical and metrics may be nil.
func New(catalog Catalog, lexical *store.LexicalIndex, embedder embed.Embedder,
	index *store.VectorIndex, cfg Config, logger *slog.Logger, metrics *telemetry.Metrics) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 512
	}
	if cfg.TrainTarget <= 0 {
		cfg.TrainTarget = 20000
	}
	return &Builder{
		catalog:  catalog,
		lexical:  lexical,
		embedder: embedder,
		index:    index,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
	}
}

// StableID derives the permanent 63-bit vector id for a product: the first
// 8 bytes of sha1 over the decimal string of the catalog id, masked to stay
// non-negative. Rebuilds reproduce the same id for the same product.
func StableID(productID string) int64 {
	sum := sha1.Sum([]byte(productID))
	return int64(binary.BigEndian.Uint64(sum[:8]) & (1<<63 - 1))
}

// ComposeText joins the searchable fields into the embedding input.
func ComposeText(p *store.Product) string {
	parts := make([]string, 0, 5)
	for _, f := range []string{p.Name, p.DosageForm, p.Strength, p.Composition, p.Manufacturer} {
		if s := strings.TrimSpace(f); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " | ")
}

// Run executes the build. It holds the build lock for the duration, streams
// the catalog, and persists the trained index before returning.
func (b *Builder) Run(ctx context.Context) (*Stats, error) {
	start := time.Now()

	if b.cfg.LockPath != "" {
		lock := flock.New(b.cfg.LockPath)
		locked, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire build lock: %w", err)
		}
		if !locked {
			return nil, verrors.New(verrors.ErrCodeIndexLocked,
				"another index build is in progress", nil).
				WithSuggestion("wait for the running build to finish")
		}
		defer func() { _ = lock.Unlock() }()
	}

	stats := &Stats{}
	run := &buildRun{b: b, stats: stats}

	err := b.catalog.IterateProducts(ctx, func(p *store.Product) error {
		stats.Products++
		return run.add(ctx, p)
	})
	if err != nil {
		return nil, fmt.Errorf("stream catalog: %w", err)
	}
	if err := run.finish(ctx); err != nil {
		return nil, err
	}

	if err := b.index.Save(); err != nil {
		return nil, fmt.Errorf("persist vector index: %w", err)
	}

	stats.Mode = b.index.Mode()
	stats.Duration = time.Since(start)
	b.metrics.IndexBuilt(stats.Indexed)
	b.logger.Info("index build complete",
		slog.Int("products", stats.Products),
		slog.Int("indexed", stats.Indexed),
		slog.Int("skipped", stats.Skipped),
		slog.String("mode", string(stats.Mode)),
		slog.Duration("duration", stats.Duration))
	return stats, nil
}

// buildRun carries per-run batching state.
type buildRun struct {
	b     *Builder
	stats *Stats

	batchIDs   []int64
	batchTexts []string

	// Pre-training buffer: vectors accumulate here until TrainTarget is
	// reached, then the index trains and the whole buffer is added.
	bufIDs  []int64
	bufVecs [][]float32
}

func (r *buildRun) add(ctx context.Context, p *store.Product) error {
	text := ComposeText(p)
	if text == "" {
		r.stats.Skipped++
		return nil
	}

	vid := p.VectorID
	if vid < 0 {
		vid = StableID(p.ID)
		if err := r.b.catalog.SetVectorID(ctx, p.ID, vid); err != nil {
			return fmt.Errorf("patch vector id for %s: %w", p.ID, err)
		}
	}

	if r.b.lexical != nil {
		if err := r.b.lexical.IndexProduct(p); err != nil {
			return fmt.Errorf("lexical index %s: %w", p.ID, err)
		}
	}

	r.batchIDs = append(r.batchIDs, vid)
	r.batchTexts = append(r.batchTexts, text)
	if len(r.batchIDs) >= r.b.cfg.BatchSize {
		return r.flush(ctx)
	}
	return nil
}

func (r *buildRun) flush(ctx context.Context) error {
	if len(r.batchIDs) == 0 {
		return nil
	}

	vecs, err := r.b.embedder.EmbedBatch(ctx, r.batchTexts)
	if err != nil {
		return fmt.Errorf("embed batch of %d: %w", len(r.batchTexts), err)
	}

	ids := r.batchIDs
	r.batchIDs = nil
	r.batchTexts = nil

	if r.b.index.IsTrained() {
		if err := r.b.index.Add(ids, vecs); err != nil {
			return fmt.Errorf("add batch: %w", err)
		}
		r.stats.Indexed += len(ids)
		return nil
	}

	r.bufIDs = append(r.bufIDs, ids...)
	r.bufVecs = append(r.bufVecs, vecs...)
	if len(r.bufVecs) >= r.b.cfg.TrainTarget {
		return r.trainAndDrain()
	}
	return nil
}

// trainAndDrain trains on a subsample of the buffer capped at TrainTarget,
// then adds every buffered vector. Training on the subsample while adding
// the full buffer keeps large buffers cheap to train without losing rows.
func (r *buildRun) trainAndDrain() error {
	sample := r.bufVecs
	if len(sample) > r.b.cfg.TrainTarget {
		rng := rand.New(rand.NewSource(int64(len(sample))))
		perm := rng.Perm(len(sample))[:r.b.cfg.TrainTarget]
		sample = make([][]float32, r.b.cfg.TrainTarget)
		for i, idx := range perm {
			sample[i] = r.bufVecs[idx]
		}
	}

	if err := r.b.index.Train(sample); err != nil {
		return fmt.Errorf("train index: %w", err)
	}
	if err := r.b.index.Add(r.bufIDs, r.bufVecs); err != nil {
		return fmt.Errorf("drain buffer: %w", err)
	}
	r.stats.Indexed += len(r.bufIDs)
	r.b.logger.Info("vector index trained",
		slog.Int("train_sample", len(sample)),
		slog.Int("buffered", len(r.bufIDs)),
		slog.String("mode", string(r.b.index.Mode())))

	r.bufIDs = nil
	r.bufVecs = nil
	return nil
}

func (r *buildRun) finish(ctx context.Context) error {
	if err := r.flush(ctx); err != nil {
		return err
	}
	if len(r.bufVecs) > 0 {
		// Never reached the training target; train on what there is.
		// The index itself decides flat vs quantized.
		return r.trainAndDrain()
	}
	return nil
}

// String renders a one-line summary for the CLI.
func (s *Stats) String() string {
	return "indexed " + strconv.Itoa(s.Indexed) + "/" + strconv.Itoa(s.Products) +
		" products (" + string(s.Mode) + ", " + s.Duration.Round(time.Millisecond).String() + ")"
}
