package docindex

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/docindex/ai"
	"github.com/poiesic/docindex/ai/mock"
	"github.com/poiesic/docindex/config"
	"github.com/poiesic/docindex/core"
	"github.com/poiesic/docindex/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.InMemory = true
	cfg.Embedding.Dimensions = 8
	cfg.Uploads.Dir = filepath.Join(t.TempDir(), "uploads")
	cfg.Notify.Log = false
	return &cfg
}

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(context.Background(), testConfig(t), WithEmbedder(mock.NewMockEmbedder(8)))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestOpen(t *testing.T) {
	t.Run("wires every component", func(t *testing.T) {
		idx := openTestIndex(t)

		assert.NotNil(t, idx.Documents())
		assert.NotNil(t, idx.Chunks())
		assert.NotNil(t, idx.Queue())
		assert.NotNil(t, idx.Pipeline())
		assert.NotNil(t, idx.Searcher())
		assert.NotNil(t, idx.Intake())
		assert.NotNil(t, idx.Metrics())
		assert.Equal(t, 8, idx.Chunks().Dimensions())
		assert.Equal(t, idx.Config().Queue.Capacity, idx.Queue().Cap())
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Queue.Workers = 0

		idx, err := Open(context.Background(), cfg, WithEmbedder(mock.NewMockEmbedder(8)))
		assert.Error(t, err)
		assert.Nil(t, idx)
	})

	t.Run("sqlite in memory", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Storage.Driver = config.DriverSQLite

		idx, err := Open(context.Background(), cfg, WithEmbedder(mock.NewMockEmbedder(8)))
		require.NoError(t, err)
		defer idx.Close()
		assert.Equal(t, 8, idx.Chunks().Dimensions())
	})
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	_, _, _, err := OpenStore(context.Background(), config.StorageConfig{Driver: "cassandra"}, 8)
	assert.ErrorIs(t, err, storage.ErrUnknownDriver)
}

func TestNewEmbedder(t *testing.T) {
	t.Run("ollama", func(t *testing.T) {
		cfg := config.Default()
		embedder, err := NewEmbedder(&cfg)
		require.NoError(t, err)
		assert.NotNil(t, embedder)
		_, limited := embedder.(*ai.RateLimitedEmbedder)
		assert.False(t, limited)
	})

	t.Run("rate limited", func(t *testing.T) {
		cfg := config.Default()
		cfg.Embedding.RequestsPerSecond = 5
		embedder, err := NewEmbedder(&cfg)
		require.NoError(t, err)
		assert.IsType(t, &ai.RateLimitedEmbedder{}, embedder)
	})

	t.Run("unknown provider", func(t *testing.T) {
		cfg := config.Default()
		cfg.Embedding.Provider = "carrier-pigeon"
		_, err := NewEmbedder(&cfg)
		assert.Error(t, err)
	})
}

func TestIndex_IngestAndSearch(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)

	path := writeFile(t, "notes.txt", strings.Repeat("The quick brown fox jumps over the lazy dog. ", 20))
	collection := core.NewDocumentID()

	doc, err := idx.Submit(ctx, path, collection)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, doc.Status)
	assert.Equal(t, 1, idx.Queue().Len())

	pool, err := idx.NewWorkerPool()
	require.NoError(t, err)
	defer pool.Release()
	idx.Queue().Close()
	require.NoError(t, pool.Run(ctx))

	stored, err := idx.Documents().GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, stored.Status)

	count, err := idx.Chunks().CountByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Positive(t, count)

	results, err := idx.Search(ctx, "quick brown fox", 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, doc.ID, results[0].Document.ID)

	processed, err := testutil.GatherAndCount(idx.Gatherer(), "docindex_documents_processed_total")
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	require.NoError(t, idx.DeleteDocument(ctx, doc.ID))
	_, err = idx.Documents().GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = os.Stat(stored.FilePath)
	assert.ErrorIs(t, err, os.ErrNotExist)
	count, err = idx.Chunks().CountByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestIndex_Reprocess(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)

	doc, err := idx.Submit(ctx, writeFile(t, "empty.txt", "   "), core.NewDocumentID())
	require.NoError(t, err)

	pool, err := idx.NewWorkerPool()
	require.NoError(t, err)
	defer pool.Release()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- pool.Run(runCtx) }()

	require.Eventually(t, func() bool {
		stored, err := idx.Documents().GetDocument(ctx, doc.ID)
		return err == nil && stored.Status == core.StatusFailed
	}, 5*time.Second, 10*time.Millisecond)

	r, err := idx.NewReprocessor(nil, nil)
	require.NoError(t, err)
	n, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cancel()
	<-done
}

func TestIndex_DeleteMissing(t *testing.T) {
	idx := openTestIndex(t)
	err := idx.DeleteDocument(context.Background(), core.NewDocumentID())
	assert.ErrorIs(t, err, core.ErrNotFound)
}
