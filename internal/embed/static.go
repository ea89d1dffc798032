package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Feature mix for the static embedder. Whole tokens dominate so related
// product names land near each other; trigrams catch OCR misspellings.
const (
	staticTokenWeight   = 0.7
	staticTrigramWeight = 0.3
)

// StaticEmbedder is a deterministic, offline embedder. It hashes word tokens
// and character trigrams into a fixed-dimension vector and unit-normalizes.
// Used when no provider is configured and throughout the tests; it keeps the
// vector tier functional without network access.
type StaticEmbedder struct {
	dims int
}

var _ Embedder = (*StaticEmbedder)(nil)

// NewStaticEmbedder creates a static embedder with the given dimensionality.
func NewStaticEmbedder(dims int) (*StaticEmbedder, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("static embedder dimensions must be positive, got %d", dims)
	}
	return &StaticEmbedder{dims: dims}, nil
}

// Embed implements Embedder.
func (s *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, s.dims)

	for _, tok := range tokenize(text) {
		vec[s.bucket("t:"+tok)] += staticTokenWeight
		for _, tri := range trigrams(tok) {
			vec[s.bucket("g:"+tri)] += staticTrigramWeight
		}
	}

	normalize(vec)
	return vec, nil
}

// EmbedBatch implements Embedder.
func (s *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions implements Embedder.
func (s *StaticEmbedder) Dimensions() int { return s.dims }

// ModelName implements Embedder.
func (s *StaticEmbedder) ModelName() string {
	return fmt.Sprintf("static-hash-%d", s.dims)
}

// Close implements Embedder.
func (s *StaticEmbedder) Close() error { return nil }

func (s *StaticEmbedder) bucket(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(s.dims))
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func trigrams(tok string) []string {
	if len(tok) < 3 {
		return nil
	}
	out := make([]string, 0, len(tok)-2)
	for i := 0; i+3 <= len(tok); i++ {
		out = append(out, tok[i:i+3])
	}
	return out
}

func normalize(vec []float32) {
	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
}
