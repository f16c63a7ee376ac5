package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/poiesic/docindex/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// embeddingsServer mimics the /v1/embeddings endpoint, returning a 2-d vector per input.
func embeddingsServer(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		data := make([]map[string]any, len(req.Input))
		for i, text := range req.Input {
			data[i] = map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{float32(len(text)), 1},
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbedder_EmbedTexts(t *testing.T) {
	srv := embeddingsServer(t)
	cfg := ai.NewConfig(
		ai.WithProvider(ai.ProviderOpenAI),
		ai.WithEmbeddingHost(srv.URL),
		ai.WithEmbeddingModel("text-embedding-3-small"),
		ai.WithDimensions(2),
	)

	embedder, err := NewEmbedder(cfg)
	require.NoError(t, err)

	vectors, err := embedder.EmbedTexts(context.Background(), []string{"ab", "abcd"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{2, 1}, vectors[0])
	assert.Equal(t, []float32{4, 1}, vectors[1])

	single, err := embedder.EmbedText(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 1}, single)
}

func TestEmbedder_DimensionCheck(t *testing.T) {
	srv := embeddingsServer(t)
	cfg := ai.NewConfig(
		ai.WithProvider(ai.ProviderOpenAI),
		ai.WithEmbeddingHost(srv.URL),
		ai.WithDimensions(3),
	)

	embedder, err := NewEmbedder(cfg)
	require.NoError(t, err)

	_, err = embedder.EmbedTexts(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 3")
}
