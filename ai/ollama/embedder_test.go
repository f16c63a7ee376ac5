package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/poiesic/docindex/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbedder_EmbedTexts(t *testing.T) {
	var calls atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/embeddings", r.URL.Path)

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(embedResponse{Embedding: []float64{float64(len(req.Prompt)), 0, 1}})
	})

	embedder, err := NewEmbedder(ai.NewConfig(ai.WithEmbeddingHost(srv.URL+"/v1/"), ai.WithDimensions(3)))
	require.NoError(t, err)

	vectors, err := embedder.EmbedTexts(context.Background(), []string{"a", "bbb"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{1, 0, 1}, vectors[0])
	assert.Equal(t, []float32{3, 0, 1}, vectors[1])
	assert.Equal(t, int32(2), calls.Load())
}

func TestEmbedder_Errors(t *testing.T) {
	tests := []struct {
		name    string
		dims    int
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "model not found", http.StatusNotFound)
			},
			want: "status 404",
		},
		{
			name: "empty embedding",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"embedding":[]}`))
			},
			want: "empty embedding",
		},
		{
			name: "wrong dimensions",
			dims: 4,
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"embedding":[0.1,0.2]}`))
			},
			want: "expected 4",
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`not json`))
			},
			want: "decode response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.handler)
			embedder, err := NewEmbedder(ai.NewConfig(ai.WithEmbeddingHost(srv.URL), ai.WithDimensions(tt.dims)))
			require.NoError(t, err)

			_, err = embedder.EmbedTexts(context.Background(), []string{"text"})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEmbedder_ContextCancelled(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"embedding":[1]}`))
	})
	embedder, err := NewEmbedderWithClient(ai.NewConfig(ai.WithEmbeddingHost(srv.URL)), srv.Client())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = embedder.EmbedText(ctx, "text")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewEmbedder_InvalidConfig(t *testing.T) {
	_, err := NewEmbedder(&ai.Config{Provider: ai.ProviderOllama})
	assert.Error(t, err)
}
