// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reprocess

import (
	"context"

	"github.com/poiesic/docindex/core"
	"github.com/poiesic/docindex/storage"
)

const (
	// DefaultPageSize is the default number of documents fetched per page
	DefaultPageSize = 100
)

// DocumentIterator pages through the documents matching a query.
type DocumentIterator struct {
	repo     storage.DocumentRepository
	query    storage.DocumentQuery
	pageSize int
}

// NewDocumentIterator creates a new document iterator.
// The query's Offset and Limit are managed by the iterator.
// pageSize: number of documents to fetch per page (must be > 0)
func NewDocumentIterator(repo storage.DocumentRepository, query storage.DocumentQuery, pageSize int) *DocumentIterator {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	return &DocumentIterator{
		repo:     repo,
		query:    query,
		pageSize: pageSize,
	}
}

// ForEach calls fn with each page of matching documents.
// Iteration stops on first error from fn or when all documents are visited.
// Context cancellation is checked between pages.
func (it *DocumentIterator) ForEach(ctx context.Context, fn func([]*core.Document) error) error {
	query := it.query
	query.Limit = it.pageSize

	for offset := 0; ; offset += it.pageSize {
		if err := ctx.Err(); err != nil {
			return core.Cancelled(err)
		}

		query.Offset = offset
		page, err := it.repo.ListDocuments(ctx, query)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}

		if err := fn(page); err != nil {
			return err
		}

		// A short page is the last one
		if len(page) < it.pageSize {
			return nil
		}
	}
}

// IDs collects the IDs of every matching document.
func (it *DocumentIterator) IDs(ctx context.Context) ([]core.DocumentID, error) {
	var ids []core.DocumentID
	err := it.ForEach(ctx, func(docs []*core.Document) error {
		for _, doc := range docs {
			ids = append(ids, doc.ID)
		}
		return nil
	})
	return ids, err
}
