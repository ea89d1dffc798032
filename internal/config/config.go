// Package config loads medverify configuration from YAML with environment
// variable overrides (MEDVERIFY_*).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CurrentVersion is the configuration schema version.
const CurrentVersion = 1

// Config is the root configuration.
type Config struct {
	Version    int              `yaml:"version"`
	Data       DataConfig       `yaml:"data"`
	Index      IndexConfig      `yaml:"index"`
	Router     RouterConfig     `yaml:"router"`
	Scan       ScanConfig       `yaml:"scan"`
	Vision     VisionConfig     `yaml:"vision"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Cache      CacheConfig      `yaml:"cache"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DataConfig locates the on-disk stores. Empty paths mean in-memory, which
// the tests rely on.
type DataConfig struct {
	// Dir is the base data directory; the other paths default underneath it.
	Dir         string `yaml:"dir"`
	CatalogPath string `yaml:"catalog_path"`
	LexicalPath string `yaml:"lexical_path"`
	VectorPath  string `yaml:"vector_path"`
}

// IndexConfig controls the vector index and its builder.
type IndexConfig struct {
	Dimensions    int  `yaml:"dimensions"`
	BatchSize     int  `yaml:"batch_size"`
	TrainTarget   int  `yaml:"train_target"`
	Subquantizers int  `yaml:"subquantizers"`
	NlistMax      int  `yaml:"nlist_max"`
	Nprobe        int  `yaml:"nprobe"`
	ForceFlat     bool `yaml:"force_flat"`
}

// RouterConfig controls the retrieval router.
type RouterConfig struct {
	DisableVector bool    `yaml:"disable_vector"`
	LexicalLimit  int     `yaml:"lexical_limit"`
	VectorK       int     `yaml:"vector_k"`
	LexicalGate   float64 `yaml:"lexical_gate"`
}

// ScanConfig controls the scan pipeline.
type ScanConfig struct {
	T1TimeoutMS    int     `yaml:"t1_timeout_ms"`
	T2TimeoutMS    int     `yaml:"t2_timeout_ms"`
	RegexGate      float64 `yaml:"regex_gate"`
	AlwaysRunRegex bool    `yaml:"always_run_regex"`
	CropPad        int     `yaml:"crop_pad"`
	MaxSide        int     `yaml:"max_side"`
	ProcessEvery   int     `yaml:"process_every"`
	ExtractorPath  string  `yaml:"extractor_path"`
}

// VisionConfig locates the detector and OCR sidecars.
type VisionConfig struct {
	DetectorURL    string `yaml:"detector_url"`
	OCRURL         string `yaml:"ocr_url"`
	TitleClassID   int    `yaml:"title_class_id"`
	TitleClassName string `yaml:"title_class_name"`
	ImageSize      int    `yaml:"image_size"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// EmbeddingsConfig selects and configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "openai" or "static".
	Provider       string `yaml:"provider"`
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	Dimensions     int    `yaml:"dimensions"`
	BatchSize      int    `yaml:"batch_size"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	CacheSize      int    `yaml:"cache_size"`
	// APIKey is never written to config files; it comes from
	// MEDVERIFY_OPENAI_API_KEY or OPENAI_API_KEY.
	APIKey string `yaml:"-"`
}

// CacheConfig controls the verification result cache.
type CacheConfig struct {
	Size int           `yaml:"size"`
	TTL  time.Duration `yaml:"ttl"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns the configuration with all documented defaults applied.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Data: DataConfig{
			Dir: defaultDataDir(),
		},
		Index: IndexConfig{
			Dimensions:    1536,
			BatchSize:     512,
			TrainTarget:   20000,
			Subquantizers: 16,
			NlistMax:      4096,
			Nprobe:        16,
		},
		Router: RouterConfig{
			LexicalLimit: 25,
			VectorK:      25,
			LexicalGate:  0.35,
		},
		Scan: ScanConfig{
			T1TimeoutMS:  500,
			T2TimeoutMS:  1200,
			RegexGate:    0.70,
			CropPad:      6,
			MaxSide:      1600,
			ProcessEvery: 5,
		},
		Vision: VisionConfig{
			DetectorURL:    "http://127.0.0.1:8091",
			OCRURL:         "http://127.0.0.1:8092",
			TitleClassID:   1,
			TitleClassName: "title",
			ImageSize:      640,
			TimeoutSeconds: 10,
		},
		Embeddings: EmbeddingsConfig{
			Provider:       "static",
			BaseURL:        "https://api.openai.com/v1",
			Model:          "text-embedding-3-small",
			Dimensions:     1536,
			BatchSize:      64,
			TimeoutSeconds: 30,
			CacheSize:      10000,
		},
		Cache: CacheConfig{
			Size: 4096,
			TTL:  12 * time.Hour,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from path (optional), applies defaults for any
// unset field, then applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDerivedPaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise surface as runtime faults.
func (c *Config) Validate() error {
	if c.Index.Dimensions <= 0 {
		return fmt.Errorf("index.dimensions must be positive, got %d", c.Index.Dimensions)
	}
	if c.Index.Subquantizers > 0 && c.Index.Dimensions%c.Index.Subquantizers != 0 {
		return fmt.Errorf("index.subquantizers (%d) must divide index.dimensions (%d)",
			c.Index.Subquantizers, c.Index.Dimensions)
	}
	if c.Index.BatchSize <= 0 {
		return fmt.Errorf("index.batch_size must be positive, got %d", c.Index.BatchSize)
	}
	if c.Router.LexicalGate < 0 || c.Router.LexicalGate > 1 {
		return fmt.Errorf("router.lexical_gate must be in [0,1], got %v", c.Router.LexicalGate)
	}
	if c.Scan.RegexGate < 0 || c.Scan.RegexGate > 1 {
		return fmt.Errorf("scan.regex_gate must be in [0,1], got %v", c.Scan.RegexGate)
	}
	if c.Scan.ProcessEvery <= 0 {
		return fmt.Errorf("scan.process_every must be positive, got %d", c.Scan.ProcessEvery)
	}
	switch c.Embeddings.Provider {
	case "openai", "static":
	default:
		return fmt.Errorf("embeddings.provider must be openai or static, got %q", c.Embeddings.Provider)
	}
	return nil
}

// T1Timeout returns the T1 task budget as a duration.
func (c *ScanConfig) T1Timeout() time.Duration {
	return time.Duration(c.T1TimeoutMS) * time.Millisecond
}

// T2Timeout returns the T2 task budget as a duration.
func (c *ScanConfig) T2Timeout() time.Duration {
	return time.Duration(c.T2TimeoutMS) * time.Millisecond
}

func (c *Config) applyDerivedPaths() {
	if c.Data.Dir == "" {
		return
	}
	if c.Data.CatalogPath == "" {
		c.Data.CatalogPath = filepath.Join(c.Data.Dir, "catalog.db")
	}
	if c.Data.LexicalPath == "" {
		c.Data.LexicalPath = filepath.Join(c.Data.Dir, "lexical.bleve")
	}
	if c.Data.VectorPath == "" {
		c.Data.VectorPath = filepath.Join(c.Data.Dir, "vectors.idx")
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MEDVERIFY_DATA_DIR"); v != "" {
		c.Data.Dir = v
	}
	if v := os.Getenv("MEDVERIFY_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MEDVERIFY_EMBED_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("MEDVERIFY_EMBED_BASE_URL"); v != "" {
		c.Embeddings.BaseURL = v
	}
	if v := os.Getenv("MEDVERIFY_EMBED_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("MEDVERIFY_DETECTOR_URL"); v != "" {
		c.Vision.DetectorURL = v
	}
	if v := os.Getenv("MEDVERIFY_OCR_URL"); v != "" {
		c.Vision.OCRURL = v
	}
	if v := os.Getenv("MEDVERIFY_FORCE_FLAT"); v != "" {
		c.Index.ForceFlat = parseBool(v)
	}
	if v := os.Getenv("MEDVERIFY_DISABLE_VECTOR"); v != "" {
		c.Router.DisableVector = parseBool(v)
	}
	if v := os.Getenv("MEDVERIFY_ALWAYS_RUN_REGEX"); v != "" {
		c.Scan.AlwaysRunRegex = parseBool(v)
	}
	if v := os.Getenv("MEDVERIFY_T1_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Scan.T1TimeoutMS = n
		}
	}
	if v := os.Getenv("MEDVERIFY_T2_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Scan.T2TimeoutMS = n
		}
	}

	if v := os.Getenv("MEDVERIFY_OPENAI_API_KEY"); v != "" {
		c.Embeddings.APIKey = v
	} else if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Embeddings.APIKey = v
	}
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".medverify")
	}
	return filepath.Join(home, ".medverify")
}
