package badger

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docindex/core"
	"github.com/poiesic/docindex/storage"
)

// DocumentRepository implements storage.DocumentRepository for BadgerDB.
type DocumentRepository struct {
	backend *Backend
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(backend *Backend) *DocumentRepository {
	return &DocumentRepository{backend: backend}
}

// Close is a no-op; the backend owns the database handle.
func (r *DocumentRepository) Close() error {
	return nil
}

// CreateDocument stores a new document.
func (r *DocumentRepository) CreateDocument(ctx context.Context, doc *core.Document) (*core.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, core.Cancelled(err)
	}
	if err := core.ValidateDocument(doc); err != nil {
		return nil, err
	}

	err := r.backend.Update(func(tx *badger.Txn) error {
		key := makeDocumentKey(doc.ID)
		found, err := exists(tx, key)
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
		return tx.Set(key, storage.MarshalDocument(doc))
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// GetDocument retrieves a document by ID.
func (r *DocumentRepository) GetDocument(ctx context.Context, id core.DocumentID) (*core.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, core.Cancelled(err)
	}

	var doc *core.Document
	err := r.backend.View(func(tx *badger.Txn) error {
		var err error
		doc, err = readDocument(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// UpdateDocument replaces an existing document.
func (r *DocumentRepository) UpdateDocument(ctx context.Context, doc *core.Document) (*core.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, core.Cancelled(err)
	}
	if err := core.ValidateDocument(doc); err != nil {
		return nil, err
	}

	err := r.backend.Update(func(tx *badger.Txn) error {
		old, err := readDocument(tx, doc.ID)
		if err != nil {
			return err
		}
		doc.CreatedAt = old.CreatedAt
		doc.UpdatedAt = time.Now().UTC()
		return tx.Set(makeDocumentKey(doc.ID), storage.MarshalDocument(doc))
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// DeleteDocument removes a document and its chunks in one transaction.
func (r *DocumentRepository) DeleteDocument(ctx context.Context, id core.DocumentID) error {
	if err := ctx.Err(); err != nil {
		return core.Cancelled(err)
	}

	return r.backend.Update(func(tx *badger.Txn) error {
		key := makeDocumentKey(id)
		found, err := exists(tx, key)
		if err != nil {
			return err
		}
		if !found {
			return storage.ErrNotFound
		}
		if _, err := deletePrefix(tx, makeChunkDocumentPrefix(id)); err != nil {
			return err
		}
		return tx.Delete(key)
	})
}

// ListDocuments scans all documents and applies the query in memory.
func (r *DocumentRepository) ListDocuments(ctx context.Context, query storage.DocumentQuery) ([]*core.Document, error) {
	if err := query.Normalize(); err != nil {
		return nil, err
	}

	var docs []*core.Document
	err := r.backend.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(documentPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return core.Cancelled(err)
			}
			var doc *core.Document
			err := iter.Item().Value(func(val []byte) error {
				var err error
				doc, err = storage.UnmarshalDocument(val)
				return err
			})
			if err != nil {
				return err
			}
			if query.Matches(doc) {
				docs = append(docs, doc)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return query.Apply(docs), nil
}

// readDocument reads a document within a transaction.
func readDocument(tx *badger.Txn, id core.DocumentID) (*core.Document, error) {
	item, err := tx.Get(makeDocumentKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var doc *core.Document
	err = item.Value(func(val []byte) error {
		var err error
		doc, err = storage.UnmarshalDocument(val)
		return err
	})
	return doc, err
}
