package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/poiesic/docindex/core"
	"github.com/poiesic/docindex/storage"
	"github.com/poiesic/docindex/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, dimensions int) (storage.DocumentRepository, storage.ChunkRepository) {
		db, err := Open(filepath.Join(t.TempDir(), "index.db"))
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })

		docs, chunks, err := db.Repositories(context.Background(), dimensions)
		require.NoError(t, err)
		return docs, chunks
	})
}

func TestOpen_InMemory(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	assert.Equal(t, ":memory:", db.Path())

	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
	assert.True(t, db.IsClosed())
}

func TestClosedDatabase(t *testing.T) {
	ctx := context.Background()
	db, err := Open(":memory:")
	require.NoError(t, err)
	docs, chunks, err := db.Repositories(ctx, 3)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = docs.GetDocument(ctx, core.NewDocumentID())
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
	_, err = chunks.CountByDocument(ctx, core.NewDocumentID())
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func TestRepositories_PersistsDimensions(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "dims.db")

	db, err := Open(path)
	require.NoError(t, err)
	docs, chunks, err := db.Repositories(ctx, 0)
	require.NoError(t, err)

	doc := storagetest.NewDocument("dims.txt")
	_, err = docs.CreateDocument(ctx, doc)
	require.NoError(t, err)
	require.NoError(t, chunks.AddBatch(ctx, storagetest.NewChunks(doc.ID, 2, func(int) []float32 {
		return []float32{0.5, 0.5}
	})))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	_, reopened, err := db.Repositories(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Dimensions())

	_, _, err = db.Repositories(ctx, 16)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
}
