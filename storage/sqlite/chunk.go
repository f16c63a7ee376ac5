package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/poiesic/docindex/core"
	"github.com/poiesic/docindex/storage"
	"github.com/poiesic/docindex/storage/internal/sqlutil"
)

const chunkColumns = `document_id, chunk_index, content, embedding, metadata, created_at`

// ChunkRepository implements storage.ChunkRepository for SQLite.
// Embeddings are stored as encoded blobs and ranked in process.
type ChunkRepository struct {
	db         *DB
	dimensions *storage.Dimensions
	writeMu    sync.Mutex
}

var _ storage.ChunkRepository = (*ChunkRepository)(nil)

func newChunkRepository(ctx context.Context, db *DB, dimensions int) (*ChunkRepository, error) {
	stored, err := db.storedDimensions(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading stored dimensions: %w", err)
	}
	if stored != 0 && dimensions != 0 && stored != dimensions {
		return nil, fmt.Errorf("%w: store holds %d-dimensional embeddings, configured %d",
			core.ErrDimensionMismatch, stored, dimensions)
	}
	if dimensions == 0 {
		dimensions = stored
	}
	return &ChunkRepository{db: db, dimensions: storage.NewDimensions(dimensions)}, nil
}

// Close is a no-op; DB owns the handle.
func (r *ChunkRepository) Close() error {
	return nil
}

// Dimensions returns the enforced embedding length.
func (r *ChunkRepository) Dimensions() int {
	return r.dimensions.Get()
}

// AddBatch inserts all chunks in one transaction.
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

	err = r.db.withTx(ctx, func(tx *sql.Tx) error {
		parents := make(map[core.DocumentID]bool)
		for _, chunk := range chunks {
			if !parents[chunk.DocumentID] {
				found, err := documentExists(ctx, tx, chunk.DocumentID)
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("%w: document %s", storage.ErrNotFound, chunk.DocumentID)
				}
				parents[chunk.DocumentID] = true
			}

			var one int
			err := tx.QueryRowContext(ctx,
				`SELECT 1 FROM document_chunks WHERE document_id = ? AND chunk_index = ?`,
				chunk.DocumentID.String(), chunk.Index).Scan(&one)
			if err == nil {
				return fmt.Errorf("%w: chunk %s/%d", storage.ErrDuplicateKey, chunk.DocumentID, chunk.Index)
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}

			metadata, err := sqlutil.EncodeMetadata(chunk.Metadata)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO document_chunks (`+chunkColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
				chunk.DocumentID.String(), chunk.Index, chunk.Content,
				storage.MarshalVector(chunk.Embedding), metadata, sqlutil.Micros(chunk.CreatedAt))
			if err != nil {
				return err
			}
		}

		if r.dimensions.Get() == 0 {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO store_meta (key, value) VALUES (?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
				dimensionsKey, strconv.Itoa(dims))
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.dimensions.Set(dims)
	return nil
}

// GetByDocument returns a document's chunks ordered by index.
func (r *ChunkRepository) GetByDocument(ctx context.Context, documentID core.DocumentID) ([]*core.DocumentChunk, error) {
	return r.query(ctx, `SELECT `+chunkColumns+` FROM document_chunks
		WHERE document_id = ? ORDER BY chunk_index`, documentID.String())
}

// GetChunk retrieves one chunk.
func (r *ChunkRepository) GetChunk(ctx context.Context, documentID core.DocumentID, index int) (*core.DocumentChunk, error) {
	chunks, err := r.query(ctx, `SELECT `+chunkColumns+` FROM document_chunks
		WHERE document_id = ? AND chunk_index = ?`, documentID.String(), index)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, storage.ErrNotFound
	}
	return chunks[0], nil
}

// CountByDocument counts a document's chunks.
func (r *ChunkRepository) CountByDocument(ctx context.Context, documentID core.DocumentID) (int, error) {
	db, err := r.db.conn()
	if err != nil {
		return 0, err
	}
	var count int
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_chunks WHERE document_id = ?`,
		documentID.String()).Scan(&count)
	return count, err
}

// GetSimilar ranks every stored chunk by cosine distance to vector.
func (r *ChunkRepository) GetSimilar(ctx context.Context, vector []float32, limit int) ([]*core.ChunkMatch, error) {
	if err := storage.ValidateSimilarQuery(vector, limit, r.dimensions.Get()); err != nil {
		return nil, err
	}

	chunks, err := r.query(ctx, `SELECT `+chunkColumns+` FROM document_chunks`)
	if err != nil {
		return nil, err
	}
	matches := make([]*core.ChunkMatch, len(chunks))
	for i, chunk := range chunks {
		matches[i] = &core.ChunkMatch{Chunk: chunk, Distance: core.CosineDistance(vector, chunk.Embedding)}
	}
	return storage.RankMatches(matches, limit), nil
}

// DeleteAllForDocument removes every chunk of a document.
func (r *ChunkRepository) DeleteAllForDocument(ctx context.Context, documentID core.DocumentID) (int, error) {
	var removed int64
	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, documentID.String())
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return int(removed), nil
}

func (r *ChunkRepository) query(ctx context.Context, stmt string, args ...any) ([]*core.DocumentChunk, error) {
	db, err := r.db.conn()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, core.Cancelled(err)
	}

	rows, err := db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chunks := []*core.DocumentChunk{}
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func scanChunk(row sqlutil.Scanner) (*core.DocumentChunk, error) {
	var (
		chunk     core.DocumentChunk
		id        string
		embedding []byte
		metadata  string
		created   int64
	)
	if err := row.Scan(&id, &chunk.Index, &chunk.Content, &embedding, &metadata, &created); err != nil {
		return nil, err
	}

	var err error
	if chunk.DocumentID, err = core.ParseDocumentID(id); err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	if chunk.Embedding, err = storage.UnmarshalVector(embedding); err != nil {
		return nil, err
	}
	if chunk.Metadata, err = sqlutil.DecodeMetadata(metadata); err != nil {
		return nil, err
	}
	chunk.CreatedAt = sqlutil.FromMicros(created)
	return &chunk, nil
}
