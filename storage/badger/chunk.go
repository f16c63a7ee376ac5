package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/docindex/core"
	"github.com/poiesic/docindex/storage"
)

// ChunkRepository implements storage.ChunkRepository for BadgerDB.
// Similarity search is an exact scan over all stored chunks.
type ChunkRepository struct {
	backend    *Backend
	dimensions *storage.Dimensions
	writeMu    sync.Mutex // serializes AddBatch so the first write fixes dimensions once
}

var _ storage.ChunkRepository = (*ChunkRepository)(nil)

// NewChunkRepository creates a new ChunkRepository.
// dimensions fixes the embedding length; 0 adopts the length persisted by an
// earlier write, or the length of the first batch written.
func NewChunkRepository(backend *Backend, dimensions int) (*ChunkRepository, error) {
	var stored int
	err := backend.View(func(tx *badger.Txn) error {
		item, err := tx.Get([]byte(dimensionsKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			stored, _, err = varint.Int.Unmarshal(val)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	if stored != 0 && dimensions != 0 && stored != dimensions {
		return nil, fmt.Errorf("%w: store holds %d-dimensional embeddings, configured %d",
			core.ErrDimensionMismatch, stored, dimensions)
	}
	if dimensions == 0 {
		dimensions = stored
	}

	return &ChunkRepository{
		backend:    backend,
		dimensions: storage.NewDimensions(dimensions),
	}, nil
}

// Close is a no-op; the backend owns the database handle.
func (r *ChunkRepository) Close() error {
	return nil
}

// Dimensions returns the enforced embedding length.
func (r *ChunkRepository) Dimensions() int {
	return r.dimensions.Get()
}

// AddBatch stores all chunks in a single transaction.
func (r *ChunkRepository) AddBatch(ctx context.Context, chunks []*core.DocumentChunk) error {
	if err := ctx.Err(); err != nil {
		return core.Cancelled(err)
	}
	if len(chunks) == 0 {
		return nil
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	dims, err := storage.PrepareBatch(chunks, r.dimensions.Get())
	if err != nil {
		return err
	}

	err = r.backend.Update(func(tx *badger.Txn) error {
		parents := make(map[core.DocumentID]bool)
		for _, chunk := range chunks {
			if !parents[chunk.DocumentID] {
				found, err := exists(tx, makeDocumentKey(chunk.DocumentID))
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("%w: document %s", storage.ErrNotFound, chunk.DocumentID)
				}
				parents[chunk.DocumentID] = true
			}

			key := makeChunkKey(chunk.DocumentID, chunk.Index)
			found, err := exists(tx, key)
			if err != nil {
				return err
			}
			if found {
				return fmt.Errorf("%w: chunk %s/%d", storage.ErrDuplicateKey, chunk.DocumentID, chunk.Index)
			}
			if err := tx.Set(key, storage.MarshalChunk(chunk)); err != nil {
				return err
			}
		}

		if r.dimensions.Get() == 0 {
			buf := make([]byte, varint.Int.Size(dims))
			varint.Int.Marshal(dims, buf)
			if err := tx.Set([]byte(dimensionsKey), buf); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return batchError(err, len(chunks))
	}

	r.dimensions.Set(dims)
	return nil
}

// batchError names the batch size when badger rejects the transaction as too big.
func batchError(err error, n int) error {
	if errors.Is(err, badger.ErrTxnTooBig) {
		return fmt.Errorf("%w: %d chunks do not fit in one transaction: %w", storage.ErrBatchTooLarge, n, err)
	}
	return err
}

// GetByDocument returns a document's chunks ordered by index.
func (r *ChunkRepository) GetByDocument(ctx context.Context, documentID core.DocumentID) ([]*core.DocumentChunk, error) {
	chunks := []*core.DocumentChunk{}
	err := r.backend.View(func(tx *badger.Txn) error {
		return scanChunks(ctx, tx, makeChunkDocumentPrefix(documentID), func(chunk *core.DocumentChunk) {
			chunks = append(chunks, chunk)
		})
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// GetChunk retrieves one chunk.
func (r *ChunkRepository) GetChunk(ctx context.Context, documentID core.DocumentID, index int) (*core.DocumentChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, core.Cancelled(err)
	}
	if index < 0 {
		return nil, storage.ErrNotFound
	}

	var chunk *core.DocumentChunk
	err := r.backend.View(func(tx *badger.Txn) error {
		item, err := tx.Get(makeChunkKey(documentID, index))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			chunk, err = storage.UnmarshalChunk(val)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return chunk, nil
}

// CountByDocument counts a document's chunks without decoding them.
func (r *ChunkRepository) CountByDocument(ctx context.Context, documentID core.DocumentID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, core.Cancelled(err)
	}

	var count int
	err := r.backend.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeChunkDocumentPrefix(documentID)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// GetSimilar ranks every stored chunk by cosine distance to vector.
func (r *ChunkRepository) GetSimilar(ctx context.Context, vector []float32, limit int) ([]*core.ChunkMatch, error) {
	if err := storage.ValidateSimilarQuery(vector, limit, r.dimensions.Get()); err != nil {
		return nil, err
	}

	var matches []*core.ChunkMatch
	err := r.backend.View(func(tx *badger.Txn) error {
		return scanChunks(ctx, tx, []byte(chunkPrefix), func(chunk *core.DocumentChunk) {
			matches = append(matches, &core.ChunkMatch{
				Chunk:    chunk,
				Distance: core.CosineDistance(vector, chunk.Embedding),
			})
		})
	})
	if err != nil {
		return nil, err
	}

	return storage.RankMatches(matches, limit), nil
}

// DeleteAllForDocument removes every chunk of a document.
func (r *ChunkRepository) DeleteAllForDocument(ctx context.Context, documentID core.DocumentID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, core.Cancelled(err)
	}

	var removed int
	err := r.backend.Update(func(tx *badger.Txn) error {
		var err error
		removed, err = deletePrefix(tx, makeChunkDocumentPrefix(documentID))
		return err
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// scanChunks decodes every chunk under prefix in key order.
func scanChunks(ctx context.Context, tx *badger.Txn, prefix []byte, fn func(*core.DocumentChunk)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	iter := tx.NewIterator(opts)
	defer iter.Close()

	for iter.Rewind(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return core.Cancelled(err)
		}
		var chunk *core.DocumentChunk
		err := iter.Item().Value(func(val []byte) error {
			var err error
			chunk, err = storage.UnmarshalChunk(val)
			return err
		})
		if err != nil {
			return err
		}
		fn(chunk)
	}
	return nil
}
