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

package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/poiesic/docindex/ai"
	"github.com/poiesic/docindex/chunking"
	"github.com/poiesic/docindex/core"
	"github.com/poiesic/docindex/metrics"
	"github.com/poiesic/docindex/notify"
	"github.com/poiesic/docindex/queue"
	"github.com/poiesic/docindex/storage"
)

const (
	tracerName = "github.com/poiesic/docindex/ingestion"

	defaultFailureTimeout = 10 * time.Second
)

// TextExtractor returns the full text of a document's stored file.
// *extraction.Registry satisfies it.
type TextExtractor interface {
	ExtractText(ctx context.Context, doc *core.Document) (string, error)
}

// Chunker splits text into ordered, non-empty segments.
// *chunking.Chunker satisfies it.
type Chunker interface {
	CreateChunks(text string) []string
}

// Pipeline processes one document per call: extract, chunk, embed, persist.
type Pipeline struct {
	documents      storage.DocumentRepository
	chunks         storage.ChunkRepository
	extractor      TextExtractor
	chunker        Chunker
	embeddings     *EmbeddingGenerator
	notifier       notify.Notifier
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	batchSize      int
	failureTimeout time.Duration
	logger         *slog.Logger
}

var _ queue.Handler = (*Pipeline)(nil)

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithBatchSize sets how many chunk texts are embedded per backend call.
// Default is DefaultBatchSize.
func WithBatchSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			return fmt.Errorf("batch size must be positive, got %d", size)
		}
		p.batchSize = size
		return nil
	}
}

// WithChunker replaces the default chunker.
func WithChunker(c Chunker) Option {
	return func(p *Pipeline) error {
		if c == nil {
			return errors.New("chunker cannot be nil")
		}
		p.chunker = c
		return nil
	}
}

// WithNotifier sets where status notifications go.
// Default discards them.
func WithNotifier(n notify.Notifier) Option {
	return func(p *Pipeline) error {
		if n == nil {
			n = notify.Noop{}
		}
		p.notifier = n
		return nil
	}
}

// WithMetrics records pipeline metrics. Default records nothing.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) error {
		p.metrics = m
		return nil
	}
}

// WithTracerProvider sets the provider for pipeline spans.
// Default is the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Pipeline) error {
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		p.tracer = tp.Tracer(tracerName)
		return nil
	}
}

// WithFailureTimeout bounds the writes that record a failed run.
// They run detached from the run's context so a cancelled run still ends Failed.
func WithFailureTimeout(d time.Duration) Option {
	return func(p *Pipeline) error {
		if d <= 0 {
			return fmt.Errorf("failure timeout must be positive, got %s", d)
		}
		p.failureTimeout = d
		return nil
	}
}

// NewPipeline creates a new processing pipeline.
func NewPipeline(
	documents storage.DocumentRepository,
	chunks storage.ChunkRepository,
	extractor TextExtractor,
	embedder ai.Embedder,
	opts ...Option,
) (*Pipeline, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if chunks == nil {
		return nil, ErrChunkRepositoryRequired
	}
	if extractor == nil {
		return nil, ErrExtractorRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	p := &Pipeline{
		documents:      documents,
		chunks:         chunks,
		extractor:      extractor,
		notifier:       notify.Noop{},
		tracer:         otel.GetTracerProvider().Tracer(tracerName),
		batchSize:      DefaultBatchSize,
		failureTimeout: defaultFailureTimeout,
		logger:         slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	p.logger = p.logger.With("component", "pipeline")

	if p.chunker == nil {
		c, err := chunking.New(chunking.DefaultConfig())
		if err != nil {
			return nil, err
		}
		p.chunker = c
	}

	embeddings, err := NewEmbeddingGenerator(embedder, p.batchSize)
	if err != nil {
		return nil, err
	}
	embeddings.metrics = p.metrics
	embeddings.logger = p.logger.With("stage", notify.StageEmbedding)
	p.embeddings = embeddings

	return p, nil
}

// HandleJob runs the job's document through the pipeline.
// Jobs for documents that no longer exist are dropped.
func (p *Pipeline) HandleJob(ctx context.Context, job core.Job) error {
	var err error
	switch job.Kind {
	case core.JobProcessDocument:
		err = p.Process(ctx, job.DocumentID)
	case core.JobReprocessDocument:
		err = p.Reprocess(ctx, job.DocumentID)
	default:
		return job.Validate()
	}
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	return err
}

// Process runs a Pending document through every stage.
// The returned error is the one recorded on the document.
// A missing document is logged and reported as core.ErrNotFound without
// notifications or writes.
func (p *Pipeline) Process(ctx context.Context, id core.DocumentID) error {
	return p.run(ctx, id, false)
}

// Reprocess removes a document's chunks, resets it to Pending and processes it again.
func (p *Pipeline) Reprocess(ctx context.Context, id core.DocumentID) error {
	return p.run(ctx, id, true)
}

func (p *Pipeline) run(ctx context.Context, id core.DocumentID, reset bool) error {
	ctx, span := p.tracer.Start(ctx, "ingestion.process_document", trace.WithAttributes(
		attribute.String("document.id", id.String()),
		attribute.Bool("document.reprocess", reset),
	))
	defer span.End()

	logger := p.logger.With("document_id", id)

	doc, err := p.documents.GetDocument(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		logger.Warn("document not found, skipping")
		span.AddEvent("document not found")
		return fmt.Errorf("document %s: %w", id, err)
	}
	if err != nil {
		return p.fail(ctx, span, logger, id, fmt.Errorf("loading document: %w", err), false)
	}

	persisted := false
	err = p.execute(ctx, logger, doc, reset, &persisted)
	if err != nil {
		return p.fail(ctx, span, logger, id, err, persisted)
	}

	p.metrics.DocumentProcessed(core.StatusCompleted.String())
	return nil
}

// execute runs the stages. persisted is set once chunks are written.
func (p *Pipeline) execute(ctx context.Context, logger *slog.Logger, doc *core.Document, reset bool, persisted *bool) error {
	var err error
	if reset {
		if doc, err = p.reset(ctx, logger, doc); err != nil {
			return err
		}
	}

	if err = doc.Transition(core.StatusProcessing); err != nil {
		return err
	}
	doc.StatusMessage = ""
	if doc, err = p.documents.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("marking document processing: %w", err)
	}
	logger.Info("processing document", "file", doc.OriginalFileName, "content_type", doc.ContentType)

	var text string
	err = p.stage(ctx, doc, notify.StageExtracting, notify.MessageExtracting, func(ctx context.Context) error {
		text, err = p.extractor.ExtractText(ctx, doc)
		if err != nil {
			return err
		}
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("%w: no text extracted from %s", core.ErrEmptyContent, doc.OriginalFileName)
		}
		return nil
	})
	if err != nil {
		return err
	}

	var texts []string
	err = p.stage(ctx, doc, notify.StageChunking, notify.MessageChunking, func(context.Context) error {
		texts = p.chunker.CreateChunks(text)
		if len(texts) == 0 {
			return fmt.Errorf("%w: text produced no chunks", core.ErrEmptyContent)
		}
		return nil
	})
	if err != nil {
		return err
	}
	logger.Debug("document chunked", "chunks", len(texts), "char_count", len(text))

	var vectors [][]float32
	err = p.stage(ctx, doc, notify.StageEmbedding, notify.MessageEmbedding, func(ctx context.Context) error {
		vectors, err = p.embeddings.GenerateEmbeddings(ctx, texts)
		return err
	})
	if err != nil {
		return err
	}

	err = p.stage(ctx, doc, notify.StagePersisting, notify.MessagePersisting, func(ctx context.Context) error {
		chunks := buildChunks(doc, texts, vectors)
		if err := p.chunks.AddBatch(ctx, chunks); err != nil {
			return fmt.Errorf("persisting chunks: %w", err)
		}
		*persisted = true
		p.metrics.ChunksPersisted(len(chunks))
		return nil
	})
	if err != nil {
		return err
	}

	if err = doc.Transition(core.StatusCompleted); err != nil {
		return err
	}
	doc.ProcessedAt = time.Now().UTC()
	doc.StatusMessage = ""
	if doc, err = p.documents.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("marking document completed: %w", err)
	}

	logger.Info("document processed", "chunks", len(texts))
	p.notify(ctx, logger, doc, notify.StageCompleted, notify.MessageCompleted)
	return nil
}

// reset clears the previous generation's chunks and moves the document back to Pending.
// A document stranded in Processing by a crashed worker is routed through Failed.
func (p *Pipeline) reset(ctx context.Context, logger *slog.Logger, doc *core.Document) (*core.Document, error) {
	removed, err := p.chunks.DeleteAllForDocument(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("clearing chunks: %w", err)
	}
	logger.Debug("cleared previous chunks", "chunks", removed)

	if doc.Status == core.StatusPending {
		return doc, nil
	}
	if doc.Status == core.StatusProcessing {
		logger.Warn("recovering document stuck in processing")
		if err := doc.Transition(core.StatusFailed); err != nil {
			return nil, err
		}
	}
	if err := doc.Transition(core.StatusPending); err != nil {
		return nil, err
	}
	doc.ProcessedAt = time.Time{}
	doc.StatusMessage = ""
	doc, err = p.documents.UpdateDocument(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("resetting document: %w", err)
	}
	return doc, nil
}

// stage runs fn inside a child span, after emitting the stage notification.
func (p *Pipeline) stage(ctx context.Context, doc *core.Document, stage notify.Stage, message string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return core.Cancelled(err)
	}

	ctx, span := p.tracer.Start(ctx, "ingestion."+string(stage))
	defer span.End()

	p.notify(ctx, p.logger.With("document_id", doc.ID), doc, stage, message)

	start := time.Now()
	err := fn(ctx)
	p.metrics.ObserveStage(string(stage), time.Since(start))
	if err != nil {
		err = core.Cancelled(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// fail records cause on the freshly reloaded document. The writes use a
// context detached from ctx so cancellation still ends the run in Failed.
func (p *Pipeline) fail(ctx context.Context, span trace.Span, logger *slog.Logger, id core.DocumentID, cause error, persisted bool) error {
	cause = core.Cancelled(cause)
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	logger.Error("document processing failed", "err", cause)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.failureTimeout)
	defer cancel()

	if persisted {
		if _, err := p.chunks.DeleteAllForDocument(ctx, id); err != nil {
			logger.Error("removing chunks of failed run", "err", err)
		}
	}

	doc, err := p.documents.GetDocument(ctx, id)
	if err != nil {
		logger.Error("reloading document after failure", "err", err)
		return cause
	}
	if err := doc.Transition(core.StatusFailed); err != nil {
		logger.Warn("document not marked failed", "status", doc.Status, "err", err)
		return cause
	}
	doc.StatusMessage = notify.FailureMessage(cause)
	if doc, err = p.documents.UpdateDocument(ctx, doc); err != nil {
		logger.Error("marking document failed", "err", err)
		return cause
	}

	p.metrics.DocumentProcessed(core.StatusFailed.String())
	p.notify(ctx, logger, doc, notify.StageFailed, doc.StatusMessage)
	return cause
}

// notify delivers a notification, logging and dropping delivery errors.
func (p *Pipeline) notify(ctx context.Context, logger *slog.Logger, doc *core.Document, stage notify.Stage, message string) {
	if err := p.notifier.Notify(ctx, notify.New(doc, stage, message)); err != nil {
		logger.Warn("notification failed", "stage", stage, "err", err)
	}
}

// buildChunks pairs texts[i] with vectors[i] as chunk i.
func buildChunks(doc *core.Document, texts []string, vectors [][]float32) []*core.DocumentChunk {
	created := time.Now().UTC()
	chunks := make([]*core.DocumentChunk, len(texts))
	for i, content := range texts {
		chunks[i] = &core.DocumentChunk{
			DocumentID: doc.ID,
			Index:      i,
			Content:    content,
			Embedding:  vectors[i],
			Metadata: map[string]string{
				core.MetadataSourceFile:  doc.OriginalFileName,
				core.MetadataContentType: doc.ContentType,
				core.MetadataContentHash: core.ContentHash(content),
				core.MetadataCharCount:   strconv.Itoa(len([]rune(content))),
			},
			CreatedAt: created,
		}
	}
	return chunks
}
