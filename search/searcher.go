package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/docindex/ai"
	"github.com/poiesic/docindex/core"
	"github.com/poiesic/docindex/storage"
)

// DefaultLimit is the number of results returned when no limit is given.
const DefaultLimit = 6

// Result is one matching chunk with its parent document.
type Result struct {
	Chunk    *core.DocumentChunk
	Document *core.Document
	Distance float32 // Cosine distance to the query, smaller is closer
	Score    float32 // 1 - Distance
	Verbatim bool    // Every significant query word appears in the chunk
}

// Searcher ranks document chunks against a query.
type Searcher struct {
	chunks    storage.ChunkRepository
	documents storage.DocumentRepository
	embedder  ai.Embedder
	logger    *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// NewSearcher creates a new searcher.
func NewSearcher(
	chunks storage.ChunkRepository,
	documents storage.DocumentRepository,
	embedder ai.Embedder,
	opts ...Option,
) (*Searcher, error) {
	if chunks == nil {
		return nil, ErrChunkRepositoryRequired
	}
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	s := &Searcher{
		chunks:    chunks,
		documents: documents,
		embedder:  embedder,
		logger:    slog.Default(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "search")

	return s, nil
}

// Search returns up to limit chunks nearest to query, nearest first.
// A limit below 1 uses DefaultLimit.
func (s *Searcher) Search(ctx context.Context, query string, limit int) ([]*Result, error) {
	return s.SearchWithMonitor(ctx, query, limit, nil)
}

// SearchWithMonitor is Search with callbacks at each step.
func (s *Searcher) SearchWithMonitor(ctx context.Context, query string, limit int, monitor SearchMonitor) ([]*Result, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if limit < 1 {
		limit = DefaultLimit
	}

	monitor.Start(query)

	// An empty store has nothing to rank yet.
	if s.chunks.Dimensions() == 0 {
		monitor.Finish(nil)
		return []*Result{}, nil
	}

	vector, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		s.logger.Error("error generating embedding for query", "query", query, "err", err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, core.Cancelled(ctxErr)
		}
		return nil, fmt.Errorf("%w: query: %w", core.ErrEmbeddingBackend, err)
	}
	monitor.AfterQueryEmbedding(vector)

	matches, err := s.chunks.GetSimilar(ctx, vector, limit)
	if err != nil {
		s.logger.Error("error querying for similar chunks", "err", err)
		return nil, err
	}
	monitor.AfterSimilaritySearch(matches)

	documents := make(map[core.DocumentID]*core.Document)
	results := make([]*Result, 0, len(matches))
	for _, match := range matches {
		id := match.Chunk.DocumentID
		doc, seen := documents[id]
		if !seen {
			doc, err = s.documents.GetDocument(ctx, id)
			if errors.Is(err, core.ErrNotFound) {
				// Deleted between the similarity query and now.
				s.logger.Debug("document for chunk not found", "document_id", id)
				monitor.MissingDocument(id)
				documents[id] = nil
				continue
			}
			if err != nil {
				return nil, err
			}
			documents[id] = doc
		}
		if doc == nil {
			continue
		}

		results = append(results, &Result{
			Chunk:    match.Chunk,
			Document: doc,
			Distance: match.Distance,
			Score:    1 - match.Distance,
			Verbatim: containsAllQueryWords(match.Chunk.Content, query),
		})
	}
	monitor.Finish(results)

	return results, nil
}
