package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedder_Deterministic(t *testing.T) {
	e, err := NewStaticEmbedder(64)
	require.NoError(t, err)

	a, err := e.Embed(context.Background(), "PARACETAMOL 500")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "PARACETAMOL 500")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestStaticEmbedder_UnitNorm(t *testing.T) {
	e, err := NewStaticEmbedder(128)
	require.NoError(t, err)

	v, err := e.Embed(context.Background(), "amoxicillin trihydrate")
	require.NoError(t, err)

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestStaticEmbedder_SimilarTextsCloserThanUnrelated(t *testing.T) {
	e, err := NewStaticEmbedder(256)
	require.NoError(t, err)
	ctx := context.Background()

	base, _ := e.Embed(ctx, "paracetamol tablet")
	near, _ := e.Embed(ctx, "paracetamol sirup")
	far, _ := e.Embed(ctx, "zinc sulfate injection")

	assert.Greater(t, dot(base, near), dot(base, far))
}

func TestStaticEmbedder_EmptyText(t *testing.T) {
	e, err := NewStaticEmbedder(32)
	require.NoError(t, err)

	v, err := e.Embed(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, v, 32)
	for _, x := range v {
		assert.Zero(t, x)
	}
}

func TestNewStaticEmbedder_RejectsNonPositiveDims(t *testing.T) {
	_, err := NewStaticEmbedder(0)
	assert.Error(t, err)
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
