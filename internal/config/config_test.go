package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_MatchesDocumentedKnobs(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 512, cfg.Index.BatchSize)
	assert.Equal(t, 20000, cfg.Index.TrainTarget)
	assert.Equal(t, 16, cfg.Index.Subquantizers)
	assert.Equal(t, 4096, cfg.Index.NlistMax)
	assert.Equal(t, 16, cfg.Index.Nprobe)
	assert.Equal(t, 500, cfg.Scan.T1TimeoutMS)
	assert.Equal(t, 1200, cfg.Scan.T2TimeoutMS)
	assert.InDelta(t, 0.70, cfg.Scan.RegexGate, 1e-9)
	assert.InDelta(t, 0.35, cfg.Router.LexicalGate, 1e-9)
	assert.Equal(t, 25, cfg.Router.LexicalLimit)
	assert.Equal(t, 12*time.Hour, cfg.Cache.TTL)

	require.NoError(t, cfg.Validate())
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
version: 1
index:
  dimensions: 768
  subquantizers: 16
  batch_size: 128
  train_target: 20000
  nlist_max: 4096
  nprobe: 16
scan:
  t1_timeout_ms: 250
  t2_timeout_ms: 1200
  regex_gate: 0.70
  crop_pad: 6
  max_side: 1600
  process_every: 3
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 768, cfg.Index.Dimensions)
	assert.Equal(t, 128, cfg.Index.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Scan.T1Timeout())
	assert.Equal(t, 3, cfg.Scan.ProcessEvery)
	// Untouched sections keep defaults.
	assert.Equal(t, 25, cfg.Router.LexicalLimit)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 1536, cfg.Index.Dimensions)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MEDVERIFY_DATA_DIR", "/tmp/mv-test")
	t.Setenv("MEDVERIFY_FORCE_FLAT", "true")
	t.Setenv("MEDVERIFY_T1_TIMEOUT_MS", "123")
	t.Setenv("MEDVERIFY_EMBED_PROVIDER", "static")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/mv-test", cfg.Data.Dir)
	assert.True(t, cfg.Index.ForceFlat)
	assert.Equal(t, 123, cfg.Scan.T1TimeoutMS)
	assert.Equal(t, filepath.Join("/tmp/mv-test", "catalog.db"), cfg.Data.CatalogPath)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"subquantizers not dividing dims", func(c *Config) { c.Index.Dimensions = 100; c.Index.Subquantizers = 16 }},
		{"zero dimensions", func(c *Config) { c.Index.Dimensions = 0 }},
		{"gate above one", func(c *Config) { c.Scan.RegexGate = 1.5 }},
		{"unknown provider", func(c *Config) { c.Embeddings.Provider = "cohere" }},
		{"zero process_every", func(c *Config) { c.Scan.ProcessEvery = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
