package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/poiesic/docindex/core"
	"github.com/poiesic/docindex/storage"
	"github.com/poiesic/docindex/storage/internal/sqlutil"
)

// DocumentRepository implements storage.DocumentRepository for SQLite.
type DocumentRepository struct {
	db *DB
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// Close is a no-op; DB owns the handle.
func (r *DocumentRepository) Close() error {
	return nil
}

// CreateDocument inserts a new document.
func (r *DocumentRepository) CreateDocument(ctx context.Context, doc *core.Document) (*core.Document, error) {
	if err := core.ValidateDocument(doc); err != nil {
		return nil, err
	}

	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		found, err := documentExists(ctx, tx, doc.ID)
		if err != nil {
			return err
		}
		if found {
			return storage.ErrDuplicateKey
		}

		now := time.Now().UTC()
		if doc.UploadedAt.IsZero() {
			doc.UploadedAt = now
		}
		doc.CreatedAt = now
		doc.UpdatedAt = now
		_, err = tx.ExecContext(ctx,
			`INSERT INTO documents (`+sqlutil.DocumentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sqlutil.DocumentArgs(doc)...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// GetDocument retrieves a document by ID.
func (r *DocumentRepository) GetDocument(ctx context.Context, id core.DocumentID) (*core.Document, error) {
	db, err := r.db.conn()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, core.Cancelled(err)
	}

	row := db.QueryRowContext(ctx, `SELECT `+sqlutil.DocumentColumns+` FROM documents WHERE id = ?`, id.String())
	doc, err := sqlutil.ScanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return doc, err
}

// UpdateDocument replaces an existing document, preserving CreatedAt.
func (r *DocumentRepository) UpdateDocument(ctx context.Context, doc *core.Document) (*core.Document, error) {
	if err := core.ValidateDocument(doc); err != nil {
		return nil, err
	}

	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		var created int64
		err := tx.QueryRowContext(ctx, `SELECT created_at FROM documents WHERE id = ?`, doc.ID.String()).Scan(&created)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}

		doc.CreatedAt = sqlutil.FromMicros(created)
		doc.UpdatedAt = time.Now().UTC()
		args := sqlutil.DocumentArgs(doc)
		_, err = tx.ExecContext(ctx, `UPDATE documents SET
			collection_id = ?, object_id = ?, file_name = ?, original_file_name = ?, file_path = ?,
			content_type = ?, file_extension = ?, size = ?, status = ?, status_message = ?,
			uploaded_by = ?, uploaded_at = ?, processed_at = ?, created_at = ?, updated_at = ?
			WHERE id = ?`, append(args[1:], args[0])...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// DeleteDocument removes a document; its chunks go with it via ON DELETE CASCADE.
func (r *DocumentRepository) DeleteDocument(ctx context.Context, id core.DocumentID) error {
	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id.String())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
}

// ListDocuments runs the query in SQL.
func (r *DocumentRepository) ListDocuments(ctx context.Context, query storage.DocumentQuery) ([]*core.Document, error) {
	if err := query.Normalize(); err != nil {
		return nil, err
	}
	db, err := r.db.conn()
	if err != nil {
		return nil, err
	}

	stmt, args := sqlutil.ListDocuments(query, sqlutil.SQLite)
	rows, err := db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []*core.Document{}
	for rows.Next() {
		doc, err := sqlutil.ScanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func documentExists(ctx context.Context, tx *sql.Tx, id core.DocumentID) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE id = ?`, id.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}
