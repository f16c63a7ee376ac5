package storage

import (
	"context"

	"github.com/poiesic/docindex/core"
)

// DocumentRepository persists document metadata and status.
// Implementations must be thread-safe; each call is its own transaction.
type DocumentRepository interface {
	// CreateDocument stores a new document.
	// Sets CreatedAt and UpdatedAt, and UploadedAt if not already set.
	// Returns ErrDuplicateKey if a document with the same ID exists.
	CreateDocument(ctx context.Context, doc *core.Document) (*core.Document, error)

	// GetDocument retrieves a document by ID.
	// Returns ErrNotFound if the document doesn't exist.
	GetDocument(ctx context.Context, id core.DocumentID) (*core.Document, error)

	// UpdateDocument replaces an existing document.
	// Updates the UpdatedAt timestamp automatically.
	// Returns ErrNotFound if the document doesn't exist.
	UpdateDocument(ctx context.Context, doc *core.Document) (*core.Document, error)

	// DeleteDocument removes a document and all of its chunks in one write.
	// Returns ErrNotFound if the document doesn't exist.
	DeleteDocument(ctx context.Context, id core.DocumentID) error

	// ListDocuments returns documents matching the query, sorted and paginated.
	ListDocuments(ctx context.Context, query DocumentQuery) ([]*core.Document, error)

	// Close releases resources held by the repository.
	Close() error
}

// ChunkRepository persists document chunks and serves nearest-neighbour queries.
// Implementations must be thread-safe.
type ChunkRepository interface {
	// AddBatch stores all chunks atomically: either every chunk becomes
	// visible or none does. Each chunk is validated and its embedding length
	// must match Dimensions (the first write fixes it when unset).
	// Returns ErrNotFound if a parent document is missing, ErrDuplicateKey if a
	// (document, index) pair already exists, and core.ErrValidation for bad chunks.
	AddBatch(ctx context.Context, chunks []*core.DocumentChunk) error

	// GetByDocument returns a document's chunks ordered by index.
	// Returns an empty slice if the document has no chunks.
	GetByDocument(ctx context.Context, documentID core.DocumentID) ([]*core.DocumentChunk, error)

	// GetChunk retrieves one chunk.
	// Returns ErrNotFound if the chunk doesn't exist.
	GetChunk(ctx context.Context, documentID core.DocumentID, index int) (*core.DocumentChunk, error)

	// CountByDocument returns the number of chunks stored for a document.
	CountByDocument(ctx context.Context, documentID core.DocumentID) (int, error)

	// GetSimilar returns up to limit chunks nearest to vector by cosine
	// distance, nearest first. Ties are ordered by document ID then index.
	// Returns ErrInvalidQuery for a non-positive limit and
	// core.ErrDimensionMismatch when the vector has the wrong length.
	GetSimilar(ctx context.Context, vector []float32, limit int) ([]*core.ChunkMatch, error)

	// DeleteAllForDocument removes every chunk of a document and reports how
	// many were removed. Deleting from a document without chunks is not an error.
	DeleteAllForDocument(ctx context.Context, documentID core.DocumentID) (int, error)

	// Dimensions returns the embedding length enforced by the store,
	// or 0 if no chunk has been written and none was configured.
	Dimensions() int

	// Close releases resources held by the repository.
	Close() error
}
