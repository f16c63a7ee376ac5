// Package storagetest provides a conformance suite shared by every storage backend.
package storagetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/poiesic/docindex/core"
	"github.com/poiesic/docindex/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory opens fresh, empty repositories enforcing the given embedding
// dimensions (0 for "learn from first write"). Cleanup is registered on t.
type Factory func(t *testing.T, dimensions int) (storage.DocumentRepository, storage.ChunkRepository)

// Run executes the conformance suite against a backend.
func Run(t *testing.T, open Factory) {
	t.Run("document lifecycle", func(t *testing.T) { testDocumentLifecycle(t, open) })
	t.Run("list documents", func(t *testing.T) { testListDocuments(t, open) })
	t.Run("add batch and read back", func(t *testing.T) { testAddBatchRoundTrip(t, open) })
	t.Run("add batch is atomic", func(t *testing.T) { testAddBatchAtomic(t, open) })
	t.Run("dimension validation", func(t *testing.T) { testDimensions(t, open) })
	t.Run("similarity search", func(t *testing.T) { testGetSimilar(t, open) })
	t.Run("delete all for document", func(t *testing.T) { testDeleteAllForDocument(t, open) })
	t.Run("delete document cascades", func(t *testing.T) { testCascadeDelete(t, open) })
}

// NewDocument returns a valid Pending document for tests.
func NewDocument(name string) *core.Document {
	return &core.Document{
		ID:               core.NewDocumentID(),
		CollectionID:     core.NewDocumentID(),
		FileName:         name,
		OriginalFileName: name,
		FilePath:         "/uploads/" + name,
		ContentType:      "text/plain",
		FileExtension:    ".txt",
		Size:             42,
		Status:           core.StatusPending,
	}
}

// NewChunks builds n chunks for a document with embeddings from vector(i).
func NewChunks(id core.DocumentID, n int, vector func(i int) []float32) []*core.DocumentChunk {
	chunks := make([]*core.DocumentChunk, n)
	for i := range chunks {
		chunks[i] = &core.DocumentChunk{
			DocumentID: id,
			Index:      i,
			Content:    fmt.Sprintf("chunk %d", i),
			Embedding:  vector(i),
			Metadata:   map[string]string{"position": fmt.Sprint(i)},
		}
	}
	return chunks
}

func basis(dims int) func(i int) []float32 {
	return func(i int) []float32 {
		v := make([]float32, dims)
		v[i%dims] = 1
		return v
	}
}

func testDocumentLifecycle(t *testing.T, open Factory) {
	ctx := context.Background()
	docs, _ := open(t, 3)

	doc := NewDocument("a.txt")
	created, err := docs.CreateDocument(ctx, doc)
	require.NoError(t, err)
	assert.False(t, created.CreatedAt.IsZero())
	assert.False(t, created.UploadedAt.IsZero())

	_, err = docs.CreateDocument(ctx, doc)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	got, err := docs.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)
	assert.Equal(t, core.StatusPending, got.Status)
	assert.Equal(t, "a.txt", got.OriginalFileName)

	got.Status = core.StatusProcessing
	updated, err := docs.UpdateDocument(ctx, got)
	require.NoError(t, err)
	assert.False(t, updated.UpdatedAt.Before(created.CreatedAt))

	reloaded, err := docs.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusProcessing, reloaded.Status)

	missing := NewDocument("missing.txt")
	_, err = docs.GetDocument(ctx, missing.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = docs.UpdateDocument(ctx, missing)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, docs.DeleteDocument(ctx, missing.ID), storage.ErrNotFound)

	_, err = docs.CreateDocument(ctx, &core.Document{})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func testListDocuments(t *testing.T, open Factory) {
	ctx := context.Background()
	docs, _ := open(t, 3)

	collection := core.NewDocumentID()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, name := range []string{"gamma.txt", "alpha.txt", "beta.md"} {
		doc := NewDocument(name)
		doc.CollectionID = collection
		doc.Size = int64(100 * (i + 1))
		doc.UploadedAt = base.Add(time.Duration(i) * time.Hour)
		if i == 2 {
			doc.Status = core.StatusFailed
		}
		_, err := docs.CreateDocument(ctx, doc)
		require.NoError(t, err)
	}
	_, err := docs.CreateDocument(ctx, NewDocument("other.txt"))
	require.NoError(t, err)

	all, err := docs.ListDocuments(ctx, storage.DocumentQuery{CollectionID: collection})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "gamma.txt", all[0].OriginalFileName)

	byName, err := docs.ListDocuments(ctx, storage.DocumentQuery{CollectionID: collection, SortBy: storage.SortByFileName})
	require.NoError(t, err)
	require.Len(t, byName, 3)
	assert.Equal(t, "alpha.txt", byName[0].OriginalFileName)

	failed, err := docs.ListDocuments(ctx, storage.DocumentQuery{Statuses: []core.DocumentStatus{core.StatusFailed}})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "beta.md", failed[0].OriginalFileName)

	page, err := docs.ListDocuments(ctx, storage.DocumentQuery{
		CollectionID: collection, SortBy: storage.SortBySize, Descending: true, Offset: 1, Limit: 1,
	})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(200), page[0].Size)

	named, err := docs.ListDocuments(ctx, storage.DocumentQuery{NameContains: "ALPHA"})
	require.NoError(t, err)
	require.Len(t, named, 1)

	window, err := docs.ListDocuments(ctx, storage.DocumentQuery{
		CollectionID:   collection,
		UploadedAfter:  base.Add(30 * time.Minute),
		UploadedBefore: base.Add(90 * time.Minute),
	})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "alpha.txt", window[0].OriginalFileName)

	_, err = docs.ListDocuments(ctx, storage.DocumentQuery{SortBy: "nope"})
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func testAddBatchRoundTrip(t *testing.T, open Factory) {
	ctx := context.Background()
	docs, chunks := open(t, 4)

	doc := NewDocument("round.txt")
	_, err := docs.CreateDocument(ctx, doc)
	require.NoError(t, err)

	written := NewChunks(doc.ID, 5, basis(4))
	require.NoError(t, chunks.AddBatch(ctx, written))

	got, err := chunks.GetByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, chunk := range got {
		assert.Equal(t, i, chunk.Index)
		assert.Equal(t, doc.ID, chunk.DocumentID)
		assert.Equal(t, written[i].Content, chunk.Content)
		assert.Equal(t, written[i].Embedding, chunk.Embedding)
		assert.Equal(t, written[i].Metadata, chunk.Metadata)
		assert.False(t, chunk.CreatedAt.IsZero())
	}

	one, err := chunks.GetChunk(ctx, doc.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, "chunk 3", one.Content)

	_, err = chunks.GetChunk(ctx, doc.ID, 5)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	count, err := chunks.CountByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	empty, err := chunks.GetByDocument(ctx, core.NewDocumentID())
	require.NoError(t, err)
	assert.Empty(t, empty)

	assert.NoError(t, chunks.AddBatch(ctx, nil))
}

func testAddBatchAtomic(t *testing.T, open Factory) {
	ctx := context.Background()
	docs, chunks := open(t, 3)

	doc := NewDocument("atomic.txt")
	_, err := docs.CreateDocument(ctx, doc)
	require.NoError(t, err)

	t.Run("missing parent document", func(t *testing.T) {
		batch := NewChunks(doc.ID, 2, basis(3))
		orphan := NewChunks(core.NewDocumentID(), 1, basis(3))
		err := chunks.AddBatch(ctx, append(batch, orphan...))
		assert.ErrorIs(t, err, storage.ErrNotFound)

		count, err := chunks.CountByDocument(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("invalid chunk at end of batch", func(t *testing.T) {
		batch := NewChunks(doc.ID, 3, basis(3))
		batch[2].Embedding = []float32{1, 2}
		err := chunks.AddBatch(ctx, batch)
		assert.ErrorIs(t, err, core.ErrValidation)

		count, err := chunks.CountByDocument(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("duplicate of stored chunk", func(t *testing.T) {
		require.NoError(t, chunks.AddBatch(ctx, NewChunks(doc.ID, 2, basis(3))))

		second := NewChunks(doc.ID, 3, basis(3))[1:]
		err := chunks.AddBatch(ctx, second)
		assert.ErrorIs(t, err, storage.ErrDuplicateKey)

		count, err := chunks.CountByDocument(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})
}

func testDimensions(t *testing.T, open Factory) {
	ctx := context.Background()

	t.Run("fixed dimensions", func(t *testing.T) {
		docs, chunks := open(t, 3)
		doc := NewDocument("dims.txt")
		_, err := docs.CreateDocument(ctx, doc)
		require.NoError(t, err)

		assert.Equal(t, 3, chunks.Dimensions())
		err = chunks.AddBatch(ctx, NewChunks(doc.ID, 1, basis(4)))
		assert.ErrorIs(t, err, core.ErrValidation)
	})

	t.Run("learned from first write", func(t *testing.T) {
		docs, chunks := open(t, 0)
		doc := NewDocument("learn.txt")
		_, err := docs.CreateDocument(ctx, doc)
		require.NoError(t, err)

		assert.Equal(t, 0, chunks.Dimensions())
		require.NoError(t, chunks.AddBatch(ctx, NewChunks(doc.ID, 2, basis(5))))
		assert.Equal(t, 5, chunks.Dimensions())

		more := NewChunks(doc.ID, 3, basis(6))[2:]
		err = chunks.AddBatch(ctx, more)
		assert.ErrorIs(t, err, core.ErrDimensionMismatch)
	})

	t.Run("query vector length", func(t *testing.T) {
		_, chunks := open(t, 3)
		_, err := chunks.GetSimilar(ctx, []float32{1, 0}, 5)
		assert.ErrorIs(t, err, core.ErrValidation)
	})
}

func testGetSimilar(t *testing.T, open Factory) {
	ctx := context.Background()
	docs, chunks := open(t, 3)

	first := NewDocument("first.txt")
	second := NewDocument("second.txt")
	for _, doc := range []*core.Document{first, second} {
		_, err := docs.CreateDocument(ctx, doc)
		require.NoError(t, err)
	}

	vectors := [][]float32{{1, 0, 0}, {0.9, 0.1, 0}, {0, 1, 0}}
	require.NoError(t, chunks.AddBatch(ctx, NewChunks(first.ID, 3, func(i int) []float32 { return vectors[i] })))
	require.NoError(t, chunks.AddBatch(ctx, NewChunks(second.ID, 1, func(int) []float32 { return []float32{0, 0, 1} })))

	t.Run("exact match ranks first", func(t *testing.T) {
		matches, err := chunks.GetSimilar(ctx, []float32{0, 1, 0}, 2)
		require.NoError(t, err)
		require.Len(t, matches, 2)
		assert.Equal(t, first.ID, matches[0].Chunk.DocumentID)
		assert.Equal(t, 2, matches[0].Chunk.Index)
		assert.InDelta(t, 0, matches[0].Distance, 1e-5)
		assert.LessOrEqual(t, matches[0].Distance, matches[1].Distance)
	})

	t.Run("ranked nearest first", func(t *testing.T) {
		matches, err := chunks.GetSimilar(ctx, []float32{1, 0, 0}, 10)
		require.NoError(t, err)
		require.Len(t, matches, 4)
		assert.Equal(t, 0, matches[0].Chunk.Index)
		assert.Equal(t, 1, matches[1].Chunk.Index)
		for i := 1; i < len(matches); i++ {
			assert.LessOrEqual(t, matches[i-1].Distance, matches[i].Distance)
		}
	})

	t.Run("deterministic for fixed input", func(t *testing.T) {
		a, err := chunks.GetSimilar(ctx, []float32{0, 0.5, 0.5}, 4)
		require.NoError(t, err)
		b, err := chunks.GetSimilar(ctx, []float32{0, 0.5, 0.5}, 4)
		require.NoError(t, err)
		require.Len(t, b, len(a))
		for i := range a {
			assert.Equal(t, a[i].Chunk.DocumentID, b[i].Chunk.DocumentID)
			assert.Equal(t, a[i].Chunk.Index, b[i].Chunk.Index)
		}
	})

	t.Run("non-positive limit", func(t *testing.T) {
		_, err := chunks.GetSimilar(ctx, []float32{1, 0, 0}, 0)
		assert.ErrorIs(t, err, storage.ErrInvalidQuery)
	})
}

func testDeleteAllForDocument(t *testing.T, open Factory) {
	ctx := context.Background()
	docs, chunks := open(t, 3)

	doc := NewDocument("reprocess.txt")
	other := NewDocument("keep.txt")
	for _, d := range []*core.Document{doc, other} {
		_, err := docs.CreateDocument(ctx, d)
		require.NoError(t, err)
	}
	require.NoError(t, chunks.AddBatch(ctx, NewChunks(doc.ID, 4, basis(3))))
	require.NoError(t, chunks.AddBatch(ctx, NewChunks(other.ID, 2, basis(3))))

	removed, err := chunks.DeleteAllForDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, removed)

	// A fresh run writes a new contiguous set with no leftovers.
	require.NoError(t, chunks.AddBatch(ctx, NewChunks(doc.ID, 2, basis(3))))
	got, err := chunks.GetByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Index)
	assert.Equal(t, 1, got[1].Index)

	kept, err := chunks.CountByDocument(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, kept)

	removed, err = chunks.DeleteAllForDocument(ctx, core.NewDocumentID())
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func testCascadeDelete(t *testing.T, open Factory) {
	ctx := context.Background()
	docs, chunks := open(t, 3)

	doc := NewDocument("cascade.txt")
	_, err := docs.CreateDocument(ctx, doc)
	require.NoError(t, err)
	require.NoError(t, chunks.AddBatch(ctx, NewChunks(doc.ID, 3, basis(3))))

	require.NoError(t, docs.DeleteDocument(ctx, doc.ID))

	count, err := chunks.CountByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	matches, err := chunks.GetSimilar(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}
