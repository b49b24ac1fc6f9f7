// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/pdiddy/papergraph/internal/httputil"
	"github.com/pdiddy/papergraph/pkg/types"
)

const (
	// DefaultOllamaURL is the default Ollama API endpoint.
	DefaultOllamaURL = "http://localhost:11434"

	// DefaultModel is the default embedding model.
	DefaultModel = "all-minilm:l6-v2"

	// DefaultTimeout is the timeout for one embedding request.
	DefaultTimeout = 30 * time.Second

	// DefaultRequestsPerSecond throttles requests to the embedding server.
	DefaultRequestsPerSecond = 5

	apiPathEmbeddings = "/api/embeddings"

	// maxErrorBody bounds how much of an error response ends up in the error.
	maxErrorBody = 512
)

// OllamaProvider generates embeddings using the Ollama API.
type OllamaProvider struct {
	baseURL    string
	model      string
	apiKey     string
	dimensions int
	maxRetries int
	client     *http.Client
	limiter    *rate.Limiter
}

var _ Provider = (*OllamaProvider)(nil)

// OllamaOption configures an OllamaProvider.
type OllamaOption func(*OllamaProvider)

// WithBaseURL sets the Ollama API base URL.
func WithBaseURL(url string) OllamaOption {
	return func(p *OllamaProvider) {
		p.baseURL = strings.TrimRight(url, "/")
	}
}

// WithModel sets the embedding model.
func WithModel(model string) OllamaOption {
	return func(p *OllamaProvider) {
		p.model = model
	}
}

// WithDimensions sets the expected vector length.
func WithDimensions(dims int) OllamaOption {
	return func(p *OllamaProvider) {
		p.dimensions = dims
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) OllamaOption {
	return func(p *OllamaProvider) {
		p.client.Timeout = timeout
	}
}

// WithAPIKey sends key as a bearer token, for Ollama behind an
// authenticating proxy.
func WithAPIKey(key string) OllamaOption {
	return func(p *OllamaProvider) {
		p.apiKey = key
	}
}

// WithRateLimit allows rps requests per second. Zero or less disables
// throttling.
func WithRateLimit(rps float64) OllamaOption {
	return func(p *OllamaProvider) {
		if rps <= 0 {
			p.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		p.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithMaxRetries sets how many times a rate-limited request is retried.
func WithMaxRetries(n int) OllamaOption {
	return func(p *OllamaProvider) {
		p.maxRetries = n
	}
}

// NewOllamaProvider creates a new Ollama embedding provider.
func NewOllamaProvider(opts ...OllamaOption) *OllamaProvider {
	p := &OllamaProvider{
		baseURL:    DefaultOllamaURL,
		model:      DefaultModel,
		dimensions: types.DefaultEmbeddingDimensions,
		client:     &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(DefaultRequestsPerSecond, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewOllamaFromConfig builds a provider from configuration.
func NewOllamaFromConfig(cfg types.EmbeddingConfig, dims int) *OllamaProvider {
	opts := []OllamaOption{
		WithDimensions(dims),
		WithRateLimit(cfg.RequestsPerSecond),
		WithMaxRetries(cfg.MaxRetries),
		WithAPIKey(cfg.APIKey),
	}
	if cfg.URL != "" {
		opts = append(opts, WithBaseURL(cfg.URL))
	}
	if cfg.Model != "" {
		opts = append(opts, WithModel(cfg.Model))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, WithTimeout(cfg.Timeout))
	}
	return NewOllamaProvider(opts...)
}

// Model returns the embedding model name.
func (p *OllamaProvider) Model() string {
	return p.model
}

// Dimensions returns the expected vector length.
func (p *OllamaProvider) Dimensions() int {
	return p.dimensions
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed generates an embedding for text.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", types.ErrInvalidInput)
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: p.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+apiPathEmbeddings, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := httputil.DoWithRetry(ctx, p.client, req, p.maxRetries)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(result.Embedding) != p.dimensions {
		return nil, &types.DimensionError{Expected: p.dimensions, Actual: len(result.Embedding)}
	}

	vec := make([]float32, len(result.Embedding))
	for i, x := range result.Embedding {
		vec[i] = float32(x)
	}
	return vec, nil
}
