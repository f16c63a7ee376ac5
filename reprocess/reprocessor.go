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
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/docindex/core"
	"github.com/poiesic/docindex/storage"
)

// Enqueuer accepts jobs. *queue.Queue satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, job core.Job) error
}

// Config selects the documents to reprocess.
type Config struct {
	// Statuses limits the run to documents in these states. Empty means Failed.
	Statuses []core.DocumentStatus

	// CollectionID limits the run to one collection when set.
	CollectionID core.CollectionID

	// PageSize is the number of documents listed per page
	PageSize int

	// ReportInterval is how often to report progress (number of documents)
	ReportInterval int
}

// DefaultConfig returns a Config selecting failed documents.
func DefaultConfig() *Config {
	return &Config{
		Statuses:       []core.DocumentStatus{core.StatusFailed},
		PageSize:       DefaultPageSize,
		ReportInterval: 10,
	}
}

// Reprocessor enqueues reprocess jobs for stored documents.
type Reprocessor struct {
	documents storage.DocumentRepository
	queue     Enqueuer
	config    *Config
	progress  io.Writer
	logger    *slog.Logger
}

// NewReprocessor creates a new reprocessor.
// progress: where to write progress output (typically os.Stderr)
func NewReprocessor(documents storage.DocumentRepository, q Enqueuer, config *Config, progress io.Writer) (*Reprocessor, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if q == nil {
		return nil, ErrQueueRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if len(config.Statuses) == 0 {
		config.Statuses = []core.DocumentStatus{core.StatusFailed}
	}
	if progress == nil {
		progress = io.Discard
	}

	return &Reprocessor{
		documents: documents,
		queue:     q,
		config:    config,
		progress:  progress,
		logger:    slog.Default().With("component", "reprocess"),
	}, nil
}

// Run enqueues a reprocess job for every selected document and returns how
// many were enqueued. Matching IDs are collected before the first enqueue,
// so status changes made by running workers cannot shift the listing.
func (r *Reprocessor) Run(ctx context.Context) (int, error) {
	iter := NewDocumentIterator(r.documents, storage.DocumentQuery{
		CollectionID: r.config.CollectionID,
		Statuses:     r.config.Statuses,
	}, r.config.PageSize)

	ids, err := iter.IDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list documents: %w", err)
	}
	if len(ids) == 0 {
		fmt.Fprintf(r.progress, "No documents to reprocess (statuses: %v)\n", r.config.Statuses)
		return 0, nil
	}

	fmt.Fprintf(r.progress, "Scheduling reprocessing of %d documents\n", len(ids))
	return r.enqueue(ctx, ids)
}

// RunIDs enqueues reprocess jobs for the given documents, ignoring the status
// filter. Every ID must exist.
func (r *Reprocessor) RunIDs(ctx context.Context, ids ...core.DocumentID) (int, error) {
	for _, id := range ids {
		if _, err := r.documents.GetDocument(ctx, id); err != nil {
			return 0, fmt.Errorf("document %s: %w", id, err)
		}
	}
	return r.enqueue(ctx, ids)
}

func (r *Reprocessor) enqueue(ctx context.Context, ids []core.DocumentID) (int, error) {
	tracker := NewProgressTracker(r.progress, len(ids), r.config.ReportInterval)
	tracker.Start()
	defer tracker.Finish()

	for _, id := range ids {
		if err := r.queue.Enqueue(ctx, core.NewReprocessJob(id)); err != nil {
			return tracker.Current(), fmt.Errorf("enqueueing %s: %w", id, err)
		}
		r.logger.Debug("job enqueued", "document_id", id)
		tracker.Increment(1)
	}

	elapsed := tracker.Elapsed()
	r.logger.Info("reprocess scheduled", "documents", len(ids), "elapsed", elapsed.Round(time.Millisecond))
	return len(ids), nil
}
