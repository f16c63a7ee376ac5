package search

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/poiesic/docindex/ai/mock"
	"github.com/poiesic/docindex/core"
	"github.com/poiesic/docindex/storage"
	"github.com/poiesic/docindex/storage/badger"
	"github.com/poiesic/docindex/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepositories(t *testing.T) (storage.DocumentRepository, storage.ChunkRepository) {
	t.Helper()
	docs, chunks, backend, err := badger.NewMemoryRepositories(0)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return docs, chunks
}

// seed stores one document whose chunks have the given contents and vectors.
func seed(t *testing.T, docs storage.DocumentRepository, chunks storage.ChunkRepository, name string, contents []string, vectors [][]float32) *core.Document {
	t.Helper()
	ctx := context.Background()
	doc, err := docs.CreateDocument(ctx, storagetest.NewDocument(name))
	require.NoError(t, err)

	batch := make([]*core.DocumentChunk, len(contents))
	for i := range contents {
		batch[i] = &core.DocumentChunk{DocumentID: doc.ID, Index: i, Content: contents[i], Embedding: vectors[i]}
	}
	require.NoError(t, chunks.AddBatch(ctx, batch))
	return doc
}

func TestNewSearcher(t *testing.T) {
	docs, chunks := setupRepositories(t)
	embedder := mock.NewMockEmbedder(3)

	t.Run("valid configuration", func(t *testing.T) {
		searcher, err := NewSearcher(chunks, docs, embedder)
		require.NoError(t, err)
		assert.NotNil(t, searcher)
	})

	t.Run("with nil logger falls back to default", func(t *testing.T) {
		searcher, err := NewSearcher(chunks, docs, embedder, WithLogger(nil))
		require.NoError(t, err)
		assert.NotNil(t, searcher)
	})

	t.Run("with custom logger", func(t *testing.T) {
		searcher, err := NewSearcher(chunks, docs, embedder, WithLogger(slog.Default()))
		require.NoError(t, err)
		assert.NotNil(t, searcher)
	})

	t.Run("nil chunk repository", func(t *testing.T) {
		_, err := NewSearcher(nil, docs, embedder)
		assert.Equal(t, ErrChunkRepositoryRequired, err)
	})

	t.Run("nil document repository", func(t *testing.T) {
		_, err := NewSearcher(chunks, nil, embedder)
		assert.Equal(t, ErrDocumentRepositoryRequired, err)
	})

	t.Run("nil embedder", func(t *testing.T) {
		_, err := NewSearcher(chunks, docs, nil)
		assert.Equal(t, ErrEmbedderRequired, err)
	})
}

func TestSearch_EmptyStore(t *testing.T) {
	docs, chunks := setupRepositories(t)
	embedder := mock.NewMockEmbedder(3)
	searcher, err := NewSearcher(chunks, docs, embedder)
	require.NoError(t, err)

	results, err := searcher.Search(context.Background(), "anything", 0)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, embedder.CallCount())
}

func TestSearch_EmptyQuery(t *testing.T) {
	docs, chunks := setupRepositories(t)
	searcher, err := NewSearcher(chunks, docs, mock.NewMockEmbedder(3))
	require.NoError(t, err)

	_, err = searcher.Search(context.Background(), "  ", 3)
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestSearch_RanksByDistance(t *testing.T) {
	ctx := context.Background()
	docs, chunks := setupRepositories(t)

	ai := seed(t, docs, chunks, "ai.txt",
		[]string{"Artificial intelligence overview", "Machine learning basics"},
		[][]float32{{0.9, 0.1, 0}, {0.7, 0.3, 0}})
	cooking := seed(t, docs, chunks, "cooking.txt",
		[]string{"Cooking recipes for pasta"},
		[][]float32{{0.1, 0.1, 0.8}})

	embedder := mock.NewMockEmbedder(3)
	embedder.EmbedTextFunc = func(context.Context, string) ([]float32, error) {
		return []float32{0.9, 0.1, 0}, nil
	}
	searcher, err := NewSearcher(chunks, docs, embedder)
	require.NoError(t, err)

	results, err := searcher.Search(ctx, "artificial intelligence", 10)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, ai.ID, results[0].Document.ID)
	assert.Equal(t, 0, results[0].Chunk.Index)
	assert.InDelta(t, 0, results[0].Distance, 1e-6)
	assert.InDelta(t, 1, results[0].Score, 1e-6)
	assert.True(t, results[0].Verbatim)
	assert.False(t, results[1].Verbatim)
	assert.Equal(t, cooking.ID, results[2].Document.ID)

	for i := 0; i < len(results)-1; i++ {
		assert.LessOrEqual(t, results[i].Distance, results[i+1].Distance)
	}
}

func TestSearch_DefaultLimit(t *testing.T) {
	docs, chunks := setupRepositories(t)

	contents := make([]string, 10)
	vectors := make([][]float32, 10)
	for i := range contents {
		contents[i] = "chunk"
		vectors[i] = []float32{1, float32(i), 0}
	}
	seed(t, docs, chunks, "many.txt", contents, vectors)

	embedder := mock.NewMockEmbedder(3)
	embedder.EmbedTextFunc = func(context.Context, string) ([]float32, error) {
		return []float32{1, 0, 0}, nil
	}
	searcher, err := NewSearcher(chunks, docs, embedder)
	require.NoError(t, err)

	results, err := searcher.Search(context.Background(), "chunk", 0)
	require.NoError(t, err)
	assert.Len(t, results, DefaultLimit)
	assert.Equal(t, 0, results[0].Chunk.Index)
}

func TestSearch_EmbedderError(t *testing.T) {
	docs, chunks := setupRepositories(t)
	seed(t, docs, chunks, "a.txt", []string{"a"}, [][]float32{{1, 0, 0}})

	embedder := mock.NewMockEmbedder(3)
	embedder.EmbedTextFunc = func(context.Context, string) ([]float32, error) {
		return nil, errors.New("model not loaded")
	}
	searcher, err := NewSearcher(chunks, docs, embedder)
	require.NoError(t, err)

	_, err = searcher.Search(context.Background(), "a", 1)
	assert.ErrorIs(t, err, core.ErrEmbeddingBackend)
}

type recordingMonitor struct {
	noopMonitor
	started  string
	missing  []core.DocumentID
	finished int
}

func (m *recordingMonitor) Start(query string) { m.started = query }
func (m *recordingMonitor) MissingDocument(id core.DocumentID) { m.missing = append(m.missing, id) }
func (m *recordingMonitor) Finish(results []*Result) { m.finished = len(results) }

func TestSearchWithMonitor(t *testing.T) {
	ctx := context.Background()
	docs, chunks := setupRepositories(t)
	kept := seed(t, docs, chunks, "kept.txt", []string{"kept"}, [][]float32{{1, 0, 0}})
	seed(t, docs, chunks, "other.txt", []string{"other"}, [][]float32{{0, 1, 0}})

	embedder := mock.NewMockEmbedder(3)
	embedder.EmbedTextFunc = func(context.Context, string) ([]float32, error) {
		return []float32{1, 0, 0}, nil
	}
	searcher, err := NewSearcher(chunks, docs, embedder)
	require.NoError(t, err)

	monitor := &recordingMonitor{}
	results, err := searcher.SearchWithMonitor(ctx, "kept", 5, monitor)
	require.NoError(t, err)

	assert.Equal(t, "kept", monitor.started)
	assert.Equal(t, 2, monitor.finished)
	assert.Empty(t, monitor.missing)
	assert.Equal(t, kept.ID, results[0].Document.ID)
}

func TestContainsAllQueryWords(t *testing.T) {
	tests := []struct {
		text  string
		query string
		want  bool
	}{
		{"The quick brown fox", "quick fox", true},
		{"The quick brown fox", "the slow fox", false},
		{"Budget, 2024 (draft)", "draft budget?", true},
		{"anything", "the a an", false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, containsAllQueryWords(tt.text, tt.query))
		})
	}
}
