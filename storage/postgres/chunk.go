package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/pgvector/pgvector-go"
	"github.com/poiesic/docindex/core"
	"github.com/poiesic/docindex/storage"
	"github.com/poiesic/docindex/storage/internal/sqlutil"
)

const chunkColumns = `document_id, chunk_index, content, embedding, metadata::text, created_at`

// distanceExpr is cosine distance clamped to [0, 2], with zero vectors at 1.
const distanceExpr = `GREATEST(COALESCE(NULLIF(embedding <=> $1, 'NaN'), 1), 0)`

// ChunkRepository implements storage.ChunkRepository for PostgreSQL.
type ChunkRepository struct {
	db         *DB
	dimensions *storage.Dimensions
	writeMu    sync.Mutex
}

var _ storage.ChunkRepository = (*ChunkRepository)(nil)

// Close is a no-op; DB owns the pool.
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
		if r.dimensions.Get() == 0 {
			if err := fixDimensions(ctx, tx, dims); err != nil {
				return err
			}
		}

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

			metadata, err := sqlutil.EncodeMetadata(chunk.Metadata)
			if err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx,
				`INSERT INTO document_chunks (document_id, chunk_index, content, embedding, metadata, created_at)
				VALUES ($1, $2, $3, $4, $5::jsonb, $6)
				ON CONFLICT (document_id, chunk_index) DO NOTHING`,
				chunk.DocumentID.String(), chunk.Index, chunk.Content,
				pgvector.NewVector(chunk.Embedding), metadata, sqlutil.Micros(chunk.CreatedAt))
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("%w: chunk %s/%d", storage.ErrDuplicateKey, chunk.DocumentID, chunk.Index)
			}
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
	rows, err := r.query(ctx, false, `SELECT `+chunkColumns+` FROM document_chunks
		WHERE document_id = $1 ORDER BY chunk_index`, documentID.String())
	if err != nil {
		return nil, err
	}
	chunks := make([]*core.DocumentChunk, len(rows))
	for i, row := range rows {
		chunks[i] = row.Chunk
	}
	return chunks, nil
}

// GetChunk retrieves one chunk.
func (r *ChunkRepository) GetChunk(ctx context.Context, documentID core.DocumentID, index int) (*core.DocumentChunk, error) {
	chunks, err := r.query(ctx, false, `SELECT `+chunkColumns+` FROM document_chunks
		WHERE document_id = $1 AND chunk_index = $2`, documentID.String(), index)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, storage.ErrNotFound
	}
	return chunks[0].Chunk, nil
}

// CountByDocument counts a document's chunks.
func (r *ChunkRepository) CountByDocument(ctx context.Context, documentID core.DocumentID) (int, error) {
	db, err := r.db.conn()
	if err != nil {
		return 0, err
	}
	var count int
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_chunks WHERE document_id = $1`,
		documentID.String()).Scan(&count)
	return count, err
}

// GetSimilar ranks chunks in the database by cosine distance to vector.
func (r *ChunkRepository) GetSimilar(ctx context.Context, vector []float32, limit int) ([]*core.ChunkMatch, error) {
	if err := storage.ValidateSimilarQuery(vector, limit, r.dimensions.Get()); err != nil {
		return nil, err
	}
	chunks, err := r.query(ctx, true, `SELECT `+chunkColumns+`, `+distanceExpr+` AS distance
		FROM document_chunks
		ORDER BY distance, document_id COLLATE "C", chunk_index
		LIMIT $2`, pgvector.NewVector(vector), limit)
	if err != nil {
		return nil, err
	}
	return storage.RankMatches(chunks, limit), nil
}

// DeleteAllForDocument removes every chunk of a document.
func (r *ChunkRepository) DeleteAllForDocument(ctx context.Context, documentID core.DocumentID) (int, error) {
	var removed int64
	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID.String())
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

// query scans chunk rows, with a trailing distance column when withDistance is set.
func (r *ChunkRepository) query(ctx context.Context, withDistance bool, stmt string, args ...any) ([]*core.ChunkMatch, error) {
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

	matches := []*core.ChunkMatch{}
	for rows.Next() {
		var (
			chunk     core.DocumentChunk
			id        string
			embedding pgvector.Vector
			metadata  string
			created   int64
			distance  float64
		)
		dest := []any{&id, &chunk.Index, &chunk.Content, &embedding, &metadata, &created}
		if withDistance {
			dest = append(dest, &distance)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		if chunk.DocumentID, err = core.ParseDocumentID(id); err != nil {
			return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
		}
		if chunk.Metadata, err = sqlutil.DecodeMetadata(metadata); err != nil {
			return nil, err
		}
		chunk.Embedding = embedding.Slice()
		chunk.CreatedAt = sqlutil.FromMicros(created)
		matches = append(matches, &core.ChunkMatch{Chunk: &chunk, Distance: float32(distance)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return matches, nil
}
