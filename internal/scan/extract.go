package scan

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// PatternConfig is one named extraction pattern.
type PatternConfig struct {
	ID    string `yaml:"id"`
	Regex string `yaml:"regex"`
}

// ExtractorConfig drives the registration-number extractor. Patterns apply
// in order; the first match wins.
type ExtractorConfig struct {
	Patterns []PatternConfig `yaml:"patterns"`
	// AllowPrefixes restricts accepted matches to known code families.
	AllowPrefixes []string `yaml:"allow_prefixes"`
	// Blacklist rejects matches containing marketing/specimen markers.
	Blacklist []string `yaml:"blacklist"`
}

// DefaultExtractorConfig covers the code families on Indonesian packaging:
// drug NIEs, processed-food ML/MD numbers with and without the agency
// prefix, and home-industry P-IRT numbers.
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		Patterns: []PatternConfig{
			{ID: "drug", Regex: `(DKL|DBL|DKI)\d{8,14}`},
			{ID: "bpom_prefixed", Regex: `BPOM(?:RI)?(?:ML|MD)\d{12,15}`},
			{ID: "food", Regex: `(ML|MD)\d{12,15}`},
			{ID: "pirt", Regex: `P-?IRT\d{12,17}`},
		},
		AllowPrefixes: []string{"DKL", "DBL", "DKI", "BPOM", "ML", "MD", "PIRT", "P-IRT"},
		Blacklist:     []string{"SAMPLE", "DEMO", "SPECIMEN", "CONTOH"},
	}
}

// Validation is the outcome of one extraction attempt.
type Validation struct {
	Number     string  `json:"number"`
	Confidence float64 `json:"confidence"`
	PatternID  string  `json:"pattern_id,omitempty"`
	Notes      string  `json:"notes,omitempty"`
}

// Extractor pulls registration numbers out of OCR text.
type Extractor struct {
	cfg      ExtractorConfig
	patterns []*regexp.Regexp
}

// NewExtractor compiles the configured patterns.
func NewExtractor(cfg ExtractorConfig) (*Extractor, error) {
	if len(cfg.Patterns) == 0 {
		cfg = DefaultExtractorConfig()
	}

	e := &Extractor{cfg: cfg}
	for _, p := range cfg.Patterns {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, fmt.Errorf("extractor pattern %s: %w", p.ID, err)
		}
		e.patterns = append(e.patterns, re)
	}
	return e, nil
}

// LoadExtractor reads the pattern config from a YAML file. A missing or
// broken file falls back to the defaults with a warning; packaging OCR must
// keep working through a bad config push.
func LoadExtractor(path string, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := DefaultExtractorConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				logger.Warn("extractor config unreadable, using defaults",
					slog.String("path", path), slog.String("error", err.Error()))
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			logger.Warn("extractor config invalid, using defaults",
				slog.String("path", path), slog.String("error", err.Error()))
			cfg = DefaultExtractorConfig()
		}
	}

	e, err := NewExtractor(cfg)
	if err != nil {
		logger.Warn("extractor config patterns invalid, using defaults",
			slog.String("error", err.Error()))
		e, _ = NewExtractor(DefaultExtractorConfig())
	}
	return e
}

// Extract finds the first registration number in text. Matching runs over
// the uppercased text with all whitespace removed, so OCR-split digits
// ("DKL 1234 5678 90") still match.
func (e *Extractor) Extract(text string) *Validation {
	compact := strings.ToUpper(text)
	compact = strings.Join(strings.Fields(compact), "")
	if compact == "" {
		return &Validation{Notes: "empty text"}
	}

	for _, bad := range e.cfg.Blacklist {
		if strings.Contains(compact, bad) {
			return &Validation{Notes: "blacklisted marker: " + bad}
		}
	}

	for i, re := range e.patterns {
		m := re.FindString(compact)
		if m == "" {
			continue
		}
		if !e.prefixAllowed(m) {
			continue
		}
		return &Validation{
			Number:     m,
			Confidence: lengthConfidence(m),
			PatternID:  e.cfg.Patterns[i].ID,
		}
	}
	return &Validation{Notes: "no pattern matched"}
}

func (e *Extractor) prefixAllowed(m string) bool {
	if len(e.cfg.AllowPrefixes) == 0 {
		return true
	}
	for _, p := range e.cfg.AllowPrefixes {
		if strings.HasPrefix(m, p) {
			return true
		}
	}
	return false
}

// lengthConfidence: longer numbers are harder to hallucinate from noise.
func lengthConfidence(number string) float64 {
	c := 0.6 + 0.02*float64(len(number))
	if c > 0.99 {
		c = 0.99
	}
	return c
}
