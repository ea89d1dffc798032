package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	verrors "github.com/medverify/medverify/internal/errors"
)

// OpenAIConfig configures the OpenAI-compatible embedding provider.
type OpenAIConfig struct {
	// BaseURL is the API root, e.g. "https://api.openai.com/v1".
	BaseURL string
	APIKey  string
	Model   string
	// Dimensions requests truncated embeddings when the model supports it.
	Dimensions int
	// Timeout bounds a single HTTP request.
	Timeout time.Duration
	// MaxRetries bounds retry attempts for throttling and transient faults.
	MaxRetries int
}

// DefaultOpenAIConfig returns provider defaults.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		BaseURL:    "https://api.openai.com/v1",
		Model:      DefaultModel,
		Dimensions: DefaultDimensions,
		Timeout:    30 * time.Second,
		MaxRetries: 3,
	}
}

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	cfg    OpenAIConfig
	client *http.Client
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates the provider. The HTTP client carries no global
// timeout; per-request deadlines come from the context.
func NewOpenAIEmbedder(cfg OpenAIConfig) *OpenAIEmbedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	return &OpenAIEmbedder{
		cfg: cfg,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements Embedder. Newlines are flattened before sending;
// throttling and transient network faults are retried with backoff.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	input := make([]string, len(texts))
	for i, t := range texts {
		input[i] = strings.ReplaceAll(t, "\n", " ")
	}

	retryCfg := verrors.RetryConfig{
		MaxRetries:   e.cfg.MaxRetries,
		InitialDelay: time.Second,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}

	return verrors.RetryWithResult(ctx, retryCfg, func() ([][]float32, error) {
		return e.embedOnce(ctx, input)
	})
}

func (e *OpenAIEmbedder) embedOnce(ctx context.Context, input []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{
		Model:      e.cfg.Model,
		Input:      input,
		Dimensions: e.cfg.Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost,
		e.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, verrors.New(verrors.ErrCodeNetworkUnavailable,
			fmt.Sprintf("embedding request failed: %v", err), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, verrors.New(verrors.ErrCodeNetworkTimeout, "read embedding response", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, verrors.New(verrors.ErrCodeProviderThrottled,
			"embedding provider throttled", nil)
	case resp.StatusCode >= 500:
		return nil, verrors.New(verrors.ErrCodeNetworkUnavailable,
			fmt.Sprintf("embedding provider error: status %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, verrors.New(verrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("embedding request rejected: status %d: %s", resp.StatusCode, truncate(string(data), 200)), nil)
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, verrors.New(verrors.ErrCodeEmbeddingFailed, "decode embedding response", err)
	}
	if parsed.Error != nil {
		return nil, verrors.New(verrors.ErrCodeEmbeddingFailed, parsed.Error.Message, nil)
	}
	if len(parsed.Data) != len(input) {
		return nil, verrors.New(verrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("embedding count mismatch: sent %d, got %d", len(input), len(parsed.Data)), nil)
	}

	// Providers may reorder; the index field is authoritative.
	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })

	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// Dimensions implements Embedder.
func (e *OpenAIEmbedder) Dimensions() int {
	if e.cfg.Dimensions > 0 {
		return e.cfg.Dimensions
	}
	return DefaultDimensions
}

// ModelName implements Embedder.
func (e *OpenAIEmbedder) ModelName() string { return e.cfg.Model }

// Close implements Embedder.
func (e *OpenAIEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
