package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/docindex/ai"
	"github.com/poiesic/docindex/core"
	"github.com/poiesic/docindex/metrics"
)

// DefaultBatchSize is the number of texts sent to the embedding backend per call.
const DefaultBatchSize = 10

// EmbeddingGenerator turns chunk texts into vectors in fixed-size batches.
// Batches run one after another on the calling goroutine.
type EmbeddingGenerator struct {
	embedder  ai.Embedder
	batchSize int
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewEmbeddingGenerator creates a generator. A batchSize below 1 uses DefaultBatchSize.
func NewEmbeddingGenerator(embedder ai.Embedder, batchSize int) (*EmbeddingGenerator, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	return &EmbeddingGenerator{
		embedder:  embedder,
		batchSize: batchSize,
		logger:    slog.Default().With("component", "embeddings"),
	}, nil
}

// BatchSize returns the configured batch size.
func (g *EmbeddingGenerator) BatchSize() int {
	return g.batchSize
}

// GenerateEmbeddings returns one vector per text, in input order.
// Any failing batch fails the whole call and no vectors are returned.
func (g *EmbeddingGenerator) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))

	for start, batch := 0, 0; start < len(texts); start, batch = start+g.batchSize, batch+1 {
		if err := ctx.Err(); err != nil {
			return nil, core.Cancelled(err)
		}

		end := min(start+g.batchSize, len(texts))
		g.logger.Debug("embedding batch", "batch", batch, "texts", end-start)

		got, err := g.embedder.EmbedTexts(ctx, texts[start:end])
		g.metrics.EmbeddingRequest(err)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, core.Cancelled(ctxErr)
			}
			if errors.Is(err, core.ErrCancelled) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: batch %d: %w", core.ErrEmbeddingBackend, batch, err)
		}
		if len(got) != end-start {
			return nil, fmt.Errorf("%w: batch %d: %w: expected %d, received %d",
				core.ErrEmbeddingBackend, batch, ErrEmbeddingCountMismatch, end-start, len(got))
		}
		for i, vector := range got {
			if len(vector) == 0 {
				return nil, fmt.Errorf("%w: batch %d: empty vector for text %d",
					core.ErrEmbeddingBackend, batch, start+i)
			}
		}
		vectors = append(vectors, got...)
	}

	return vectors, nil
}
