// Package ollama implements ai.Embedder against Ollama's native embeddings API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/poiesic/docindex/ai"
)

// Embedder implements ai.Embedder using POST /api/embeddings.
// Ollama has no batch form of this endpoint, so EmbedTexts issues one request per text.
type Embedder struct {
	client     *http.Client
	baseURL    string
	model      string
	dimensions int
	logger     *slog.Logger
}

var _ ai.Embedder = (*Embedder)(nil)

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

func newEmbedder(config *ai.Config, client *http.Client) (*Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	return &Embedder{
		client:     client,
		baseURL:    config.EmbeddingHost,
		model:      config.EmbeddingModel,
		dimensions: config.Dimensions,
		logger:     slog.Default().With("component", "ollama-embedder"),
	}, nil
}

// NewEmbedder creates an embedder for the configured Ollama host and model.
func NewEmbedder(config *ai.Config) (ai.Embedder, error) {
	return newEmbedder(config, nil)
}

// NewEmbedderWithClient is NewEmbedder with a caller-supplied HTTP client.
func NewEmbedderWithClient(config *ai.Config, client *http.Client) (ai.Embedder, error) {
	return newEmbedder(config, client)
}

// EmbedText generates a vector embedding for a single text string.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned an empty embedding for model %q", e.model)
	}
	if e.dimensions > 0 && len(out.Embedding) != e.dimensions {
		return nil, fmt.Errorf("ollama returned %d dimensions, expected %d", len(out.Embedding), e.dimensions)
	}

	vector := make([]float32, len(out.Embedding))
	for i, v := range out.Embedding {
		vector[i] = float32(v)
	}
	return vector, nil
}

// EmbedTexts embeds each text in order, failing on the first error.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e.logger.Debug("generating embeddings for texts", "count", len(texts))

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vector, err := e.EmbedText(ctx, text)
		if err != nil {
			e.logger.Error("failed to generate embedding", "index", i, "err", err)
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		vectors[i] = vector
	}
	return vectors, nil
}
