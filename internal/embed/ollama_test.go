// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

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

	"github.com/pdiddy/papergraph/internal/httputil"
	"github.com/pdiddy/papergraph/pkg/types"
)

func init() {
	httputil.RetryBaseDelay = time.Millisecond
}

func embedServer(t *testing.T, handler http.HandlerFunc) *OllamaProvider {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewOllamaProvider(
		WithBaseURL(ts.URL+"/"),
		WithDimensions(3),
		WithRateLimit(0),
	)
}

func TestNewOllamaProvider_Defaults(t *testing.T) {
	p := NewOllamaProvider()
	assert.Equal(t, DefaultOllamaURL, p.baseURL)
	assert.Equal(t, DefaultModel, p.Model())
	assert.Equal(t, types.DefaultEmbeddingDimensions, p.Dimensions())
	assert.Equal(t, DefaultTimeout, p.client.Timeout)
}

func TestNewOllamaFromConfig(t *testing.T) {
	cfg := types.DefaultConfig().Embedding
	cfg.URL = "http://embed:9000"
	cfg.Model = "nomic-embed-text"
	cfg.APIKey = "ek"
	cfg.Timeout = 5 * time.Second

	p := NewOllamaFromConfig(cfg, 768)
	assert.Equal(t, "http://embed:9000", p.baseURL)
	assert.Equal(t, "nomic-embed-text", p.Model())
	assert.Equal(t, 768, p.Dimensions())
	assert.Equal(t, "ek", p.apiKey)
	assert.Equal(t, 5*time.Second, p.client.Timeout)
}

func TestEmbed_Success(t *testing.T) {
	p := embedServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, apiPathEmbeddings, r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))

		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultModel, req.Model)
		assert.Equal(t, "Title\n\nAbstract", req.Prompt)

		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float64{0.1, 0.2, 0.3}})
	})

	vec, err := p.Embed(context.Background(), "Title\n\nAbstract")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestEmbed_BearerToken(t *testing.T) {
	p := embedServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float64{1, 0, 0}})
	})
	WithAPIKey("secret")(p)

	_, err := p.Embed(context.Background(), "text")
	require.NoError(t, err)
}

func TestEmbed_RetriesRateLimit(t *testing.T) {
	var calls int32
	p := embedServer(t, func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float64{1, 0, 0}})
	})

	_, err := p.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestEmbed_DimensionMismatch(t *testing.T) {
	p := embedServer(t, func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float64{1, 0}})
	})

	_, err := p.Embed(context.Background(), "text")
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)
}

func TestEmbed_ErrorStatus(t *testing.T) {
	p := embedServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	})

	_, err := p.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Contains(t, err.Error(), "model not found")
}

func TestEmbed_EmptyText(t *testing.T) {
	p := NewOllamaProvider()
	_, err := p.Embed(context.Background(), "   ")
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}
