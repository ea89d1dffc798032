package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	verrors "github.com/medverify/medverify/internal/errors"
)

func testOpenAIConfig(url string) OpenAIConfig {
	return OpenAIConfig{
		BaseURL:    url,
		APIKey:     "test-key",
		Model:      "text-embedding-3-small",
		Dimensions: 4,
		Timeout:    2 * time.Second,
		MaxRetries: 2,
	}
}

func TestOpenAIEmbedder_BatchReordersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Input, 2)

		// Respond out of order; the client must sort by index.
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float32{1, 1, 1, 1}},
				{"index": 0, "embedding": []float32{0, 0, 0, 0}},
			},
		})
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(testOpenAIConfig(srv.URL))
	defer e.Close()

	vecs, err := e.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{0, 0, 0, 0}, vecs[0])
	assert.Equal(t, []float32{1, 1, 1, 1}, vecs[1])
}

func TestOpenAIEmbedder_RetriesThrottling(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"index": 0, "embedding": []float32{1, 2, 3, 4}}},
		})
	}))
	defer srv.Close()

	cfg := testOpenAIConfig(srv.URL)
	e := NewOpenAIEmbedder(cfg)
	defer e.Close()

	v, err := e.Embed(context.Background(), "retry me")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, v)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAIEmbedder_BadRequestNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "input too long"},
		})
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(testOpenAIConfig(srv.URL))
	defer e.Close()

	_, err := e.Embed(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, verrors.ErrCodeEmbeddingFailed, verrors.GetCode(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIEmbedder_EmptyBatch(t *testing.T) {
	e := NewOpenAIEmbedder(testOpenAIConfig("http://127.0.0.1:1"))
	defer e.Close()

	vecs, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestFactory_OpenAIWithoutKeyDegradesToStatic(t *testing.T) {
	cfg := DefaultOpenAIConfig()
	cfg.Dimensions = 32

	e, err := New("openai", cfg, 10)
	require.NoError(t, err)
	defer e.Close()

	assert.Contains(t, e.ModelName(), "static-hash")
	assert.Equal(t, 32, e.Dimensions())
}
