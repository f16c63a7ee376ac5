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

// Package docindex wires the document ingestion pipeline together: a chunk
// store, an embedding backend, the work queue with its workers, search,
// intake and metrics, all configured from a config.Config.
package docindex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/poiesic/docindex/ai"
	"github.com/poiesic/docindex/ai/ollama"
	"github.com/poiesic/docindex/ai/openai"
	"github.com/poiesic/docindex/chunking"
	"github.com/poiesic/docindex/config"
	"github.com/poiesic/docindex/core"
	"github.com/poiesic/docindex/extraction"
	"github.com/poiesic/docindex/ingestion"
	"github.com/poiesic/docindex/intake"
	"github.com/poiesic/docindex/metrics"
	"github.com/poiesic/docindex/notify"
	"github.com/poiesic/docindex/queue"
	"github.com/poiesic/docindex/reprocess"
	"github.com/poiesic/docindex/search"
	"github.com/poiesic/docindex/storage"
	"github.com/poiesic/docindex/storage/badger"
	"github.com/poiesic/docindex/storage/postgres"
	"github.com/poiesic/docindex/storage/sqlite"
)

// Index is an opened document index: repositories, embedder, queue and the
// components built on them.
type Index struct {
	cfg       config.Config
	documents storage.DocumentRepository
	chunks    storage.ChunkRepository
	store     io.Closer
	embedder  ai.Embedder
	extractor *extraction.Registry
	queue     *queue.Queue
	pipeline  *ingestion.Pipeline
	searcher  *search.Searcher
	intake    *intake.Intake
	metrics   *metrics.Metrics
	registry  *prometheus.Registry
	nats      *nats.Conn
	logger    *slog.Logger
}

// Option configures an Index.
type Option func(*options)

type options struct {
	embedder ai.Embedder
	runner   extraction.CommandRunner
	tracer   trace.TracerProvider
	logger   *slog.Logger
}

// WithEmbedder replaces the embedder built from the embedding config.
func WithEmbedder(e ai.Embedder) Option {
	return func(o *options) {
		o.embedder = e
	}
}

// WithCommandRunner sets the runner used for external extraction tools.
func WithCommandRunner(r extraction.CommandRunner) Option {
	return func(o *options) {
		o.runner = r
	}
}

// WithTracerProvider sets the tracer provider for pipeline spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracer = tp
	}
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Open builds an Index from cfg. The caller must Close it.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Index, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	idx := &Index{
		cfg:      *cfg,
		registry: prometheus.NewRegistry(),
		logger:   o.logger,
	}

	embedder := o.embedder
	if embedder == nil {
		var err error
		if embedder, err = NewEmbedder(cfg); err != nil {
			return nil, err
		}
	}
	idx.embedder = embedder

	documents, chunks, store, err := OpenStore(ctx, cfg.Storage, cfg.AI().Dimensions)
	if err != nil {
		return nil, err
	}
	idx.documents, idx.chunks, idx.store = documents, chunks, store

	if err := idx.wire(o); err != nil {
		idx.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) wire(o *options) error {
	var err error
	cfg := &idx.cfg

	if idx.queue, err = queue.New(cfg.Queue.Capacity); err != nil {
		return err
	}

	if idx.metrics, err = metrics.New(idx.registry); err != nil {
		return err
	}
	if err := idx.metrics.RegisterQueueDepth(idx.queue.Len); err != nil {
		return err
	}

	notifier, err := idx.notifier()
	if err != nil {
		return err
	}

	chunker, err := chunking.New(cfg.Chunking)
	if err != nil {
		return err
	}

	idx.extractor = extraction.DefaultRegistry(o.runner)

	pipelineOpts := []ingestion.Option{
		ingestion.WithLogger(idx.logger),
		ingestion.WithBatchSize(cfg.Embedding.BatchSize),
		ingestion.WithChunker(chunker),
		ingestion.WithNotifier(notifier),
		ingestion.WithMetrics(idx.metrics),
	}
	if o.tracer != nil {
		pipelineOpts = append(pipelineOpts, ingestion.WithTracerProvider(o.tracer))
	}
	idx.pipeline, err = ingestion.NewPipeline(idx.documents, idx.chunks, idx.extractor, idx.embedder, pipelineOpts...)
	if err != nil {
		return err
	}

	idx.searcher, err = search.NewSearcher(idx.chunks, idx.documents, idx.embedder, search.WithLogger(idx.logger))
	if err != nil {
		return err
	}

	idx.intake, err = intake.New(idx.documents, idx.queue, cfg.Uploads.Dir,
		intake.WithLogger(idx.logger),
		intake.WithSupportedTypes(idx.extractor.Supports),
	)
	return err
}

// notifier combines the log and NATS notifiers enabled in the config.
func (idx *Index) notifier() (notify.Notifier, error) {
	var notifiers notify.Multi
	if idx.cfg.Notify.Log {
		notifiers = append(notifiers, notify.NewLog(idx.logger))
	}
	if url := idx.cfg.Notify.NATSURL; url != "" {
		conn, err := nats.Connect(url, nats.Name("docindex"))
		if err != nil {
			return nil, fmt.Errorf("connect to nats: %w", err)
		}
		idx.nats = conn
		notifiers = append(notifiers, notify.NewNATS(conn, idx.cfg.Notify.SubjectPrefix))
	}
	if len(notifiers) == 0 {
		return notify.Noop{}, nil
	}
	return notifiers, nil
}

// NewEmbedder builds the configured embedding backend, rate limited when
// embedding.requests_per_second is set.
func NewEmbedder(cfg *config.Config) (ai.Embedder, error) {
	aiCfg := cfg.AI()

	var (
		embedder ai.Embedder
		err      error
	)
	switch aiCfg.Provider {
	case ai.ProviderOllama:
		embedder, err = ollama.NewEmbedder(aiCfg)
	case ai.ProviderOpenAI:
		embedder, err = openai.NewEmbedder(aiCfg)
	default:
		err = fmt.Errorf("unknown embedding provider %q", aiCfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return ai.NewRateLimitedEmbedder(embedder, aiCfg.RequestsPerSecond, 1), nil
}

// OpenStore opens the document and chunk repositories for the configured
// driver. dimensions fixes the embedding length; 0 adopts the stored one.
// Closing the returned io.Closer releases both repositories.
func OpenStore(ctx context.Context, cfg config.StorageConfig, dimensions int) (storage.DocumentRepository, storage.ChunkRepository, io.Closer, error) {
	switch cfg.Driver {
	case config.DriverBadger:
		backend, err := badger.OpenBackend(cfg.Path, cfg.InMemory)
		if err != nil {
			return nil, nil, nil, err
		}
		chunks, err := badger.NewChunkRepository(backend, dimensions)
		if err != nil {
			backend.Close()
			return nil, nil, nil, err
		}
		return badger.NewDocumentRepository(backend), chunks, backend, nil

	case config.DriverSQLite:
		path := cfg.Path
		if cfg.InMemory {
			path = ":memory:"
		}
		db, err := sqlite.Open(path)
		if err != nil {
			return nil, nil, nil, err
		}
		documents, chunks, err := db.Repositories(ctx, dimensions)
		if err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		return documents, chunks, db, nil

	case config.DriverPostgres:
		db, documents, chunks, err := postgres.Open(ctx, cfg.DSN, dimensions)
		if err != nil {
			return nil, nil, nil, err
		}
		return documents, chunks, db, nil

	default:
		return nil, nil, nil, fmt.Errorf("%w: %q", storage.ErrUnknownDriver, cfg.Driver)
	}
}

// Close closes the queue, the NATS connection and the store.
func (idx *Index) Close() error {
	if idx.queue != nil {
		idx.queue.Close()
	}
	if idx.nats != nil {
		if err := idx.nats.Drain(); err != nil {
			idx.logger.Error("error draining nats connection", "err", err)
		}
	}
	if err := idx.store.Close(); err != nil {
		idx.logger.Error("error closing storage", "err", err)
		return err
	}
	return nil
}

func (idx *Index) Config() config.Config {
	return idx.cfg
}

func (idx *Index) Documents() storage.DocumentRepository {
	return idx.documents
}

func (idx *Index) Chunks() storage.ChunkRepository {
	return idx.chunks
}

func (idx *Index) Queue() *queue.Queue {
	return idx.queue
}

func (idx *Index) Pipeline() *ingestion.Pipeline {
	return idx.pipeline
}

func (idx *Index) Searcher() *search.Searcher {
	return idx.searcher
}

func (idx *Index) Intake() *intake.Intake {
	return idx.intake
}

func (idx *Index) Metrics() *metrics.Metrics {
	return idx.metrics
}

// Gatherer exposes the Index's private metrics registry.
func (idx *Index) Gatherer() prometheus.Gatherer {
	return idx.registry
}

// NewWorkerPool creates queue.workers workers running the pipeline.
func (idx *Index) NewWorkerPool() (*queue.WorkerPool, error) {
	return queue.NewWorkerPool(idx.queue, idx.pipeline,
		queue.WithWorkers(idx.cfg.Queue.Workers),
		queue.WithPoolLogger(idx.logger),
	)
}

// NewWatcher creates a watcher submitting files that appear in dir.
func (idx *Index) NewWatcher(dir string, collectionID core.CollectionID, opts ...intake.WatcherOption) (*intake.Watcher, error) {
	opts = append([]intake.WatcherOption{intake.WithWatcherLogger(idx.logger)}, opts...)
	return intake.NewWatcher(idx.intake, dir, collectionID, opts...)
}

// NewReprocessor creates a reprocessor feeding this Index's queue.
func (idx *Index) NewReprocessor(cfg *reprocess.Config, progress io.Writer) (*reprocess.Reprocessor, error) {
	return reprocess.NewReprocessor(idx.documents, idx.queue, cfg, progress)
}

// Submit stores the file at path and enqueues it for processing.
func (idx *Index) Submit(ctx context.Context, path string, collectionID core.CollectionID) (*core.Document, error) {
	return idx.intake.Submit(ctx, path, collectionID)
}

// Search returns the chunks nearest to query.
func (idx *Index) Search(ctx context.Context, query string, limit int) ([]*search.Result, error) {
	return idx.searcher.Search(ctx, query, limit)
}

// DeleteDocument removes a document, its chunks and its stored upload.
func (idx *Index) DeleteDocument(ctx context.Context, id core.DocumentID) error {
	doc, err := idx.documents.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if err := idx.documents.DeleteDocument(ctx, id); err != nil {
		return err
	}
	if doc.FilePath != "" {
		if err := os.Remove(doc.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			idx.logger.Warn("failed to remove stored upload", "document_id", id, "path", doc.FilePath, "err", err)
		}
	}
	return nil
}
