package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanseviera/miage-projet-llm/internal/core/index"
)

func TestNewEmbedderOptionsOverrideDefaults(t *testing.T) {
	embedder := NewEmbedder("dummy-key",
		WithEmbeddingModel("custom-model"),
		WithEmbeddingDimension(42),
	)

	assert.Equal(t, "custom-model", embedder.ModelName())
	assert.Equal(t, 42, embedder.Dimension())
	assert.Equal(t, MaxBatchSize, embedder.MaxBatchSize())
}

func TestNewEmbedderDefaults(t *testing.T) {
	embedder := NewEmbedder("dummy-key", WithEmbeddingModel(""))

	assert.Equal(t, DefaultEmbeddingModel, embedder.ModelName())
	assert.Equal(t, DefaultEmbeddingDimension, embedder.Dimension())
}

type embeddingRequest struct {
	Model      string          `json:"model"`
	Input      json.RawMessage `json:"input"`
	Dimensions int             `json:"dimensions"`
}

// newEmbeddingServer は入力順と逆順の index でベクトルを返すサーバー
func newEmbeddingServer(t *testing.T, requests *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		require.Equal(t, "/embeddings", r.URL.Path)

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var inputs []string
		if err := json.Unmarshal(req.Input, &inputs); err != nil {
			var single string
			require.NoError(t, json.Unmarshal(req.Input, &single))
			inputs = []string{single}
		}

		data := make([]map[string]any, 0, len(inputs))
		for i := len(inputs) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float64{float64(i), float64(len(inputs[i]))},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]any{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbedder_BatchEmbedOrdersByIndex(t *testing.T) {
	var requests atomic.Int32
	srv := newEmbeddingServer(t, &requests)
	embedder := NewEmbedder("dummy-key", WithEmbeddingBaseURL(srv.URL+"/"), WithEmbeddingDimension(2))

	vectors, err := embedder.BatchEmbed(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, []float32{0, 1}, vectors[0])
	assert.Equal(t, []float32{1, 2}, vectors[1])
	assert.Equal(t, []float32{2, 3}, vectors[2])

	single, err := embedder.Embed(context.Background(), "dddd")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 4}, single)
	assert.Equal(t, int32(2), requests.Load())
}

func TestEmbedder_BatchEmbedValidatesInput(t *testing.T) {
	embedder := NewEmbedder("dummy-key")

	_, err := embedder.BatchEmbed(context.Background(), nil)
	assert.Error(t, err)

	_, err = embedder.BatchEmbed(context.Background(), make([]string, MaxBatchSize+1))
	assert.Error(t, err)
}

func TestEmbedder_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[],"model":"m","usage":{"prompt_tokens":0,"total_tokens":0}}`))
	}))
	defer srv.Close()

	embedder := NewEmbedder("dummy-key", WithEmbeddingBaseURL(srv.URL+"/"))
	_, err := embedder.BatchEmbed(context.Background(), []string{"a", "b"})
	assert.True(t, errors.Is(err, index.ErrMalformedVector))
}

func TestEmbedder_RateLimitRespectsContext(t *testing.T) {
	var requests atomic.Int32
	srv := newEmbeddingServer(t, &requests)
	embedder := NewEmbedder("dummy-key", WithEmbeddingBaseURL(srv.URL+"/"), WithRateLimit(0.001))

	_, err := embedder.Embed(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = embedder.Embed(ctx, "second")
	assert.Error(t, err)
	assert.Equal(t, int32(1), requests.Load())
}
