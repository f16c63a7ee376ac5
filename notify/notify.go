// Package notify delivers document status notifications to interested parties.
//
// The pipeline emits one Notification per stage and one on completion or
// failure. Delivery is best effort: the pipeline logs and ignores notifier
// errors.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/poiesic/docindex/core"
)

// Stage identifies the pipeline step a notification describes.
type Stage string

const (
	StageExtracting Stage = "extracting"
	StageChunking   Stage = "chunking"
	StageEmbedding  Stage = "embedding"
	StagePersisting Stage = "persisting"
	StageCompleted  Stage = "completed"
	StageFailed     Stage = "failed"
)

// Messages shown to users for each stage.
const (
	MessageExtracting = "Extracting text..."
	MessageChunking   = "Splitting document into chunks..."
	MessageEmbedding  = "Generating AI embeddings..."
	MessagePersisting = "Saving to knowledge base..."
	MessageCompleted  = "Processing complete! You can now chat with your document."
	failurePrefix     = "An error occurred: "
)

// FailureMessage renders the user-facing message for a failed run.
func FailureMessage(err error) string {
	return failurePrefix + err.Error()
}

// Notification is a status update for one document.
type Notification struct {
	DocumentID   core.DocumentID     `json:"document_id"`
	CollectionID core.CollectionID   `json:"collection_id"`
	FileName     string              `json:"file_name"`
	Status       core.DocumentStatus `json:"-"`
	StatusName   string              `json:"status"`
	Stage        Stage               `json:"stage"`
	Message      string              `json:"message"`
	Time         time.Time           `json:"time"`
}

// New builds a notification from a document's current state.
func New(doc *core.Document, stage Stage, message string) Notification {
	return Notification{
		DocumentID:   doc.ID,
		CollectionID: doc.CollectionID,
		FileName:     doc.OriginalFileName,
		Status:       doc.Status,
		StatusName:   doc.Status.String(),
		Stage:        stage,
		Message:      message,
		Time:         time.Now().UTC(),
	}
}

// Notifier delivers notifications. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, n Notification) error

// Notify calls f.
func (f Func) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Noop discards notifications.
type Noop struct{}

// Notify does nothing.
func (Noop) Notify(context.Context, Notification) error {
	return nil
}

// Log writes notifications to a structured logger.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a logging notifier. nil uses slog.Default().
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With("component", "notify")}
}

// Notify logs n at info level, or warn for failures.
func (l *Log) Notify(ctx context.Context, n Notification) error {
	level := slog.LevelInfo
	if n.Stage == StageFailed {
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, n.Message,
		"document_id", n.DocumentID,
		"stage", n.Stage,
		"status", n.StatusName,
	)
	return nil
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

// Notify delivers to every notifier and joins their errors.
func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
