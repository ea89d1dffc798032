package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/medverify/medverify/internal/cache"
	"github.com/medverify/medverify/internal/config"
	"github.com/medverify/medverify/internal/embed"
	"github.com/medverify/medverify/internal/scan"
	"github.com/medverify/medverify/internal/search"
	"github.com/medverify/medverify/internal/store"
	"github.com/medverify/medverify/internal/telemetry"
	"github.com/medverify/medverify/internal/verify"
	"github.com/medverify/medverify/internal/vision"
)

// app holds the wired component graph behind every command.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *telemetry.Metrics

	catalog  *store.Catalog
	lexical  *store.LexicalIndex
	registry *store.Registry
	handle   *store.IndexHandle

	embedder embed.Embedder
	router   *search.Router
	service  *verify.Service
}

// openApp loads configuration and opens every store the commands share.
func openApp(cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  slog.Default(),
		metrics: telemetry.New(),
	}

	a.catalog, err = store.OpenCatalog(cfg.Data.CatalogPath, a.logger)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	a.lexical, err = store.OpenLexical(cfg.Data.LexicalPath, a.logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open lexical index: %w", err)
	}
	a.registry = store.NewRegistry(a.catalog, a.lexical)

	routerOpts := []search.Option{
		search.WithConfig(search.Config{
			LexicalLimit:  cfg.Router.LexicalLimit,
			VectorK:       cfg.Router.VectorK,
			LexicalGate:   cfg.Router.LexicalGate,
			DisableVector: cfg.Router.DisableVector,
		}),
		search.WithLogger(a.logger),
		search.WithMetrics(a.metrics),
	}

	if !cfg.Router.DisableVector {
		a.embedder, err = embed.New(cfg.Embeddings.Provider, embed.OpenAIConfig{
			BaseURL:    cfg.Embeddings.BaseURL,
			APIKey:     cfg.Embeddings.APIKey,
			Model:      cfg.Embeddings.Model,
			Dimensions: cfg.Embeddings.Dimensions,
			Timeout:    time.Duration(cfg.Embeddings.TimeoutSeconds) * time.Second,
			MaxRetries: 3,
		}, cfg.Embeddings.CacheSize)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("create embedder: %w", err)
		}

		a.handle, err = store.OpenIndexHandle(cfg.Data.VectorPath, a.vectorConfig(), a.logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open vector index: %w", err)
		}
		routerOpts = append(routerOpts, search.WithVector(a.embedder, a.handle))
	}

	a.router = search.NewRouter(a.registry, routerOpts...)

	resultCache, err := cache.New(cfg.Cache.Size)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create result cache: %w", err)
	}

	a.service = verify.NewService(a.router,
		verify.WithAuditor(a.registry),
		verify.WithCache(resultCache, cfg.Cache.TTL),
		verify.WithLogger(a.logger),
		verify.WithMetrics(a.metrics),
	)
	return a, nil
}

func (a *app) vectorConfig() store.VectorConfig {
	vcfg := store.DefaultVectorConfig(a.cfg.Index.Dimensions)
	vcfg.NlistMax = a.cfg.Index.NlistMax
	vcfg.Nprobe = a.cfg.Index.Nprobe
	vcfg.Subquantizers = a.cfg.Index.Subquantizers
	vcfg.ForceFlat = a.cfg.Index.ForceFlat
	return vcfg
}

// pipeline wires the scan pipeline against the configured vision sidecars.
func (a *app) pipeline() *scan.Pipeline {
	extractor := scan.LoadExtractor(a.cfg.Scan.ExtractorPath, a.logger)
	return scan.NewPipeline(
		vision.NewDetector(a.cfg.Vision),
		vision.NewOCR(a.cfg.Vision),
		a.router,
		extractor,
		a.cfg.Scan,
		scan.WithTitleClass(a.cfg.Vision.TitleClassID, a.cfg.Vision.TitleClassName),
		scan.WithLogger(a.logger),
		scan.WithMetrics(a.metrics),
	)
}

// Close releases the stores. Safe on a partially opened app.
func (a *app) Close() {
	if a.handle != nil {
		_ = a.handle.Close()
	}
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
	if a.lexical != nil {
		_ = a.lexical.Close()
	}
	if a.catalog != nil {
		_ = a.catalog.Close()
	}
}
