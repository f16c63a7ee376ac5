// Package sqlutil holds row mapping and query building shared by the SQL backends.
package sqlutil

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/docindex/core"
	"github.com/poiesic/docindex/storage"
)

// DocumentColumns is the column list used by every document query, in scan order.
const DocumentColumns = `id, collection_id, object_id, file_name, original_file_name, file_path,
	content_type, file_extension, size, status, status_message, uploaded_by,
	uploaded_at, processed_at, created_at, updated_at`

// Dialect captures the SQL differences between backends.
type Dialect struct {
	// Placeholder renders the nth (1-based) bind parameter.
	Placeholder func(n int) string
	// Contains renders a case-sensitive substring test of arg in column.
	Contains func(column, arg string) string
	// Collate is appended to text sort columns so they order bytewise.
	Collate string
}

// SQLite is the modernc.org/sqlite dialect.
var SQLite = Dialect{
	Placeholder: func(int) string { return "?" },
	Contains:    func(column, arg string) string { return "instr(" + column + ", " + arg + ") > 0" },
}

// Postgres is the PostgreSQL dialect.
var Postgres = Dialect{
	Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	Contains:    func(column, arg string) string { return "strpos(" + column + ", " + arg + ") > 0" },
	Collate:     ` COLLATE "C"`,
}

// Scanner is satisfied by *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// Micros converts t to Unix microseconds, mapping the zero time to 0.
func Micros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

// FromMicros is the inverse of Micros.
func FromMicros(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMicro(v).UTC()
}

// DocumentArgs returns bind values in DocumentColumns order.
func DocumentArgs(doc *core.Document) []any {
	return []any{
		doc.ID.String(), doc.CollectionID.String(), doc.ObjectID, doc.FileName,
		doc.OriginalFileName, doc.FilePath, doc.ContentType, doc.FileExtension,
		doc.Size, int(doc.Status), doc.StatusMessage, doc.UploadedBy,
		Micros(doc.UploadedAt), Micros(doc.ProcessedAt), Micros(doc.CreatedAt), Micros(doc.UpdatedAt),
	}
}

// ScanDocument scans one row selected with DocumentColumns.
func ScanDocument(row Scanner) (*core.Document, error) {
	var (
		doc                                         core.Document
		id, collectionID                            string
		status                                      int
		uploadedAt, processedAt, createdAt, updated int64
	)
	err := row.Scan(&id, &collectionID, &doc.ObjectID, &doc.FileName, &doc.OriginalFileName,
		&doc.FilePath, &doc.ContentType, &doc.FileExtension, &doc.Size, &status,
		&doc.StatusMessage, &doc.UploadedBy, &uploadedAt, &processedAt, &createdAt, &updated)
	if err != nil {
		return nil, err
	}

	if doc.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: document id: %w", storage.ErrSerializationFailed, err)
	}
	if doc.CollectionID, err = uuid.Parse(collectionID); err != nil {
		return nil, fmt.Errorf("%w: collection id: %w", storage.ErrSerializationFailed, err)
	}
	doc.Status = core.DocumentStatus(status)
	doc.UploadedAt = FromMicros(uploadedAt)
	doc.ProcessedAt = FromMicros(processedAt)
	doc.CreatedAt = FromMicros(createdAt)
	doc.UpdatedAt = FromMicros(updated)
	return &doc, nil
}

// EncodeMetadata renders chunk metadata as a JSON object.
func EncodeMetadata(m map[string]string) (string, error) {
	if m == nil {
		m = map[string]string{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("%w: metadata: %w", storage.ErrSerializationFailed, err)
	}
	return string(data), nil
}

// DecodeMetadata parses a JSON object produced by EncodeMetadata.
func DecodeMetadata(s string) (map[string]string, error) {
	m := map[string]string{}
	if s == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("%w: metadata: %w", storage.ErrSerializationFailed, err)
	}
	return m, nil
}

// ListDocuments builds a SELECT for a normalized DocumentQuery.
func ListDocuments(q storage.DocumentQuery, d Dialect) (string, []any) {
	var (
		where []string
		args  []any
	)
	bind := func(v any) string {
		args = append(args, v)
		return d.Placeholder(len(args))
	}

	if q.CollectionID != uuid.Nil {
		where = append(where, "collection_id = "+bind(q.CollectionID.String()))
	}
	if len(q.Statuses) > 0 {
		marks := make([]string, len(q.Statuses))
		for i, status := range q.Statuses {
			marks[i] = bind(int(status))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if q.NameContains != "" {
		where = append(where, d.Contains("lower(original_file_name)", bind(strings.ToLower(q.NameContains))))
	}
	if !q.UploadedAfter.IsZero() {
		where = append(where, "uploaded_at > "+bind(q.UploadedAfter.UnixMicro()))
	}
	if !q.UploadedBefore.IsZero() {
		where = append(where, "uploaded_at < "+bind(q.UploadedBefore.UnixMicro()))
	}

	var b strings.Builder
	b.WriteString("SELECT " + DocumentColumns + " FROM documents")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}

	column := "uploaded_at"
	switch q.SortBy {
	case storage.SortByFileName:
		column = "original_file_name" + d.Collate
	case storage.SortBySize:
		column = "size"
	}
	direction := "ASC"
	if q.Descending {
		direction = "DESC"
	}
	fmt.Fprintf(&b, " ORDER BY %s %s, id%s ASC", column, direction, d.Collate)
	fmt.Fprintf(&b, " LIMIT %s OFFSET %s", bind(q.Limit), bind(q.Offset))
	return b.String(), args
}
