package storage

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/docindex/core"
)

// SortField selects the ordering of ListDocuments results.
type SortField string

const (
	SortByUploadedAt SortField = "uploaded_at"
	SortByFileName   SortField = "file_name"
	SortBySize       SortField = "size"
)

// DefaultPageSize is used when a query leaves Limit unset.
const DefaultPageSize = 50

// DocumentQuery filters, sorts and paginates documents.
// Zero values mean "no constraint".
type DocumentQuery struct {
	CollectionID   core.CollectionID
	Statuses       []core.DocumentStatus
	NameContains   string // Case-insensitive match on the original file name
	UploadedAfter  time.Time
	UploadedBefore time.Time
	SortBy         SortField
	Descending     bool
	Offset         int
	Limit          int
}

// Normalize fills defaults and validates the query.
func (q *DocumentQuery) Normalize() error {
	if q.SortBy == "" {
		q.SortBy = SortByUploadedAt
	}
	switch q.SortBy {
	case SortByUploadedAt, SortByFileName, SortBySize:
	default:
		return fmt.Errorf("%w: unknown sort field %q", ErrInvalidQuery, q.SortBy)
	}
	if q.Offset < 0 || q.Limit < 0 {
		return fmt.Errorf("%w: offset and limit must not be negative", ErrInvalidQuery)
	}
	if q.Limit == 0 {
		q.Limit = DefaultPageSize
	}
	for _, status := range q.Statuses {
		if !status.IsValid() {
			return fmt.Errorf("%w: %w", ErrInvalidQuery, core.ErrInvalidStatus)
		}
	}
	return nil
}

// Matches reports whether doc satisfies the query's filters.
func (q *DocumentQuery) Matches(doc *core.Document) bool {
	if q.CollectionID != uuid.Nil && doc.CollectionID != q.CollectionID {
		return false
	}
	if len(q.Statuses) > 0 && !slices.Contains(q.Statuses, doc.Status) {
		return false
	}
	if q.NameContains != "" &&
		!strings.Contains(strings.ToLower(doc.OriginalFileName), strings.ToLower(q.NameContains)) {
		return false
	}
	if !q.UploadedAfter.IsZero() && !doc.UploadedAt.After(q.UploadedAfter) {
		return false
	}
	if !q.UploadedBefore.IsZero() && !doc.UploadedAt.Before(q.UploadedBefore) {
		return false
	}
	return true
}

// Apply sorts and paginates documents that already passed Matches.
// Backends that cannot push the query down to the engine use it.
func (q *DocumentQuery) Apply(docs []*core.Document) []*core.Document {
	slices.SortFunc(docs, func(a, b *core.Document) int {
		var c int
		switch q.SortBy {
		case SortByFileName:
			c = strings.Compare(a.OriginalFileName, b.OriginalFileName)
		case SortBySize:
			c = cmp.Compare(a.Size, b.Size)
		default:
			c = a.UploadedAt.Compare(b.UploadedAt)
		}
		if q.Descending {
			c = -c
		}
		if c == 0 {
			c = strings.Compare(a.ID.String(), b.ID.String())
		}
		return c
	})

	if q.Offset >= len(docs) {
		return []*core.Document{}
	}
	docs = docs[q.Offset:]
	if len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs
}

// RankMatches orders matches nearest first, breaking ties by document ID and
// chunk index, and truncates to limit.
func RankMatches(matches []*core.ChunkMatch, limit int) []*core.ChunkMatch {
	slices.SortFunc(matches, func(a, b *core.ChunkMatch) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		if c := strings.Compare(a.Chunk.DocumentID.String(), b.Chunk.DocumentID.String()); c != 0 {
			return c
		}
		return cmp.Compare(a.Chunk.Index, b.Chunk.Index)
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// ValidateSimilarQuery checks the limit and the query vector against the
// store's dimensions.
func ValidateSimilarQuery(vector []float32, limit, dimensions int) error {
	if limit <= 0 {
		return fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidQuery, limit)
	}
	return core.ValidateDimensions(vector, dimensions)
}
