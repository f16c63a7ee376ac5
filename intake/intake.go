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

// Package intake accepts files for indexing.
//
// Submit stores a copy of the file, creates its Pending document and only
// then enqueues the processing job, so a worker always finds both. Watcher
// submits files that appear in a watched directory.
package intake

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/poiesic/docindex/core"
	"github.com/poiesic/docindex/extraction"
	"github.com/poiesic/docindex/notify"
	"github.com/poiesic/docindex/storage"
)

// Enqueuer accepts jobs. *queue.Queue satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, job core.Job) error
}

// Intake stores uploads and schedules their processing.
type Intake struct {
	documents  storage.DocumentRepository
	queue      Enqueuer
	dir        string
	supports   func(contentType string) bool
	uploadedBy string
	logger     *slog.Logger
}

// Option configures an Intake.
type Option func(*Intake)

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(in *Intake) {
		if logger == nil {
			logger = slog.Default()
		}
		in.logger = logger
	}
}

// WithUploader records who submitted the files.
func WithUploader(name string) Option {
	return func(in *Intake) {
		in.uploadedBy = name
	}
}

// WithSupportedTypes restricts accepted content types, typically to
// (*extraction.Registry).Supports. Default accepts every type with a known extension.
func WithSupportedTypes(supports func(contentType string) bool) Option {
	return func(in *Intake) {
		if supports != nil {
			in.supports = supports
		}
	}
}

// New creates an Intake storing copies under dir.
func New(documents storage.DocumentRepository, q Enqueuer, dir string, opts ...Option) (*Intake, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if q == nil {
		return nil, ErrQueueRequired
	}
	if dir == "" {
		return nil, ErrUploadDirRequired
	}

	in := &Intake{
		documents: documents,
		queue:     q,
		dir:       dir,
		supports:  func(string) bool { return true },
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(in)
	}
	in.logger = in.logger.With("component", "intake")
	return in, nil
}

// Dir returns the uploads directory.
func (in *Intake) Dir() string {
	return in.dir
}

// Submit copies the file at path into the uploads directory, creates a
// Pending document for it and enqueues a process job.
// Enqueue blocks while the queue is full. If it fails, the document is
// marked Failed and returned with the error.
func (in *Intake) Submit(ctx context.Context, path string, collectionID core.CollectionID) (*core.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, core.Cancelled(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: %w", path, ErrNotRegularFile)
	}

	ext := strings.ToLower(filepath.Ext(path))
	contentType := extraction.ContentTypeForExtension(ext)
	if contentType == "" || !in.supports(contentType) {
		return nil, fmt.Errorf("%w: %s", core.ErrUnsupportedContentType, filepath.Base(path))
	}

	id := core.NewDocumentID()
	stored := id.String() + ext
	dest, err := in.store(path, stored)
	if err != nil {
		return nil, err
	}

	doc, err := in.documents.CreateDocument(ctx, &core.Document{
		ID:               id,
		CollectionID:     collectionID,
		ObjectID:         stored,
		FileName:         stored,
		OriginalFileName: filepath.Base(path),
		FilePath:         dest,
		ContentType:      contentType,
		FileExtension:    ext,
		Size:             info.Size(),
		Status:           core.StatusPending,
		UploadedBy:       in.uploadedBy,
		UploadedAt:       time.Now().UTC(),
	})
	if err != nil {
		os.Remove(dest)
		return nil, fmt.Errorf("creating document: %w", err)
	}

	logger := in.logger.With("document_id", doc.ID, "file", doc.OriginalFileName)
	if err := in.queue.Enqueue(ctx, core.NewProcessJob(doc.ID)); err != nil {
		logger.Error("enqueue failed", "err", err)
		return in.abandon(ctx, logger, doc, err), fmt.Errorf("enqueueing document: %w", err)
	}

	logger.Info("document submitted", "content_type", contentType, "size", doc.Size)
	return doc, nil
}

// store copies src to name inside the uploads directory.
func (in *Intake) store(src, name string) (string, error) {
	if err := os.MkdirAll(in.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating uploads directory: %w", err)
	}
	dest, err := filepath.Abs(filepath.Join(in.dir, name))
	if err != nil {
		return "", err
	}

	r, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer r.Close()

	w, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		os.Remove(dest)
		return "", fmt.Errorf("copying %s: %w", src, err)
	}
	if err := w.Close(); err != nil {
		os.Remove(dest)
		return "", err
	}
	return dest, nil
}

// abandon marks a document that never reached the queue as Failed.
func (in *Intake) abandon(ctx context.Context, logger *slog.Logger, doc *core.Document, cause error) *core.Document {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := doc.Transition(core.StatusFailed); err != nil {
		return doc
	}
	doc.StatusMessage = notify.FailureMessage(core.Cancelled(cause))
	updated, err := in.documents.UpdateDocument(ctx, doc)
	if err != nil {
		logger.Error("marking unqueued document failed", "err", err)
		return doc
	}
	return updated
}
