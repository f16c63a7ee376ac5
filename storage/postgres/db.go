// Package postgres implements the storage repositories on PostgreSQL with the
// pgvector extension. Similarity search runs in the database using the
// cosine distance operator and an HNSW index.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/poiesic/docindex/core"
	"github.com/poiesic/docindex/storage"
)

const dimensionsKey = "dimensions"

// DB owns the connection pool shared by the document and chunk repositories.
type DB struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// Open connects to dsn and applies the schema. A non-zero dimensions fixes
// the embedding column type up front; 0 defers it to the first write.
func Open(ctx context.Context, dsn string, dimensions int) (*DB, *DocumentRepository, *ChunkRepository, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("ping database: %w", err)
	}

	d := &DB{db: db}
	stored, err := d.migrate(ctx, dimensions)
	if err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("migrate: %w", err)
	}
	if stored != 0 && dimensions != 0 && stored != dimensions {
		db.Close()
		return nil, nil, nil, fmt.Errorf("%w: store holds %d-dimensional embeddings, configured %d",
			core.ErrDimensionMismatch, stored, dimensions)
	}
	if dimensions == 0 {
		dimensions = stored
	}

	chunks := &ChunkRepository{db: d, dimensions: storage.NewDimensions(dimensions)}
	return d, &DocumentRepository{db: d}, chunks, nil
}

// migrate creates missing tables and returns the persisted embedding length.
func (d *DB) migrate(ctx context.Context, dimensions int) (int, error) {
	embeddingType := "vector"
	if dimensions > 0 {
		embeddingType = fmt.Sprintf("vector(%d)", dimensions)
	}

	migrations := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS documents (
			id                 TEXT PRIMARY KEY,
			collection_id      TEXT NOT NULL,
			object_id          TEXT NOT NULL DEFAULT '',
			file_name          TEXT NOT NULL,
			original_file_name TEXT NOT NULL,
			file_path          TEXT NOT NULL,
			content_type       TEXT NOT NULL,
			file_extension     TEXT NOT NULL DEFAULT '',
			size               BIGINT NOT NULL DEFAULT 0,
			status             INTEGER NOT NULL,
			status_message     TEXT NOT NULL DEFAULT '',
			uploaded_by        TEXT NOT NULL DEFAULT '',
			uploaded_at        BIGINT NOT NULL,
			processed_at       BIGINT NOT NULL DEFAULT 0,
			created_at         BIGINT NOT NULL,
			updated_at         BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection_id)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS document_chunks (
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			chunk_index INTEGER NOT NULL,
			content     TEXT NOT NULL,
			embedding   %s NOT NULL,
			metadata    JSONB NOT NULL DEFAULT '{}',
			created_at  BIGINT NOT NULL,
			PRIMARY KEY (document_id, chunk_index)
		)`, embeddingType),
		`CREATE TABLE IF NOT EXISTS store_meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, m := range migrations {
		if _, err := d.db.ExecContext(ctx, m); err != nil {
			return 0, fmt.Errorf("execute migration: %w", err)
		}
	}

	var value string
	err := d.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = $1`, dimensionsKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		if dimensions > 0 {
			return 0, d.withTx(ctx, func(tx *sql.Tx) error { return fixDimensions(ctx, tx, dimensions) })
		}
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(value)
}

// fixDimensions records the embedding length and builds the vector index.
func fixDimensions(ctx context.Context, tx *sql.Tx, dimensions int) error {
	stmts := []string{
		fmt.Sprintf(`ALTER TABLE document_chunks ALTER COLUMN embedding TYPE vector(%d)`, dimensions),
		`CREATE INDEX IF NOT EXISTS idx_document_chunks_embedding
			ON document_chunks USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO store_meta (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		dimensionsKey, strconv.Itoa(dimensions))
	return err
}

// Close closes the pool. It is safe to call more than once.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.db.Close()
}

func (d *DB) conn() (*sql.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, storage.ErrStorageClosed
	}
	return d.db, nil
}

func (d *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	db, err := d.conn()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return core.Cancelled(err)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
