package ingestion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/poiesic/docindex/ai/mock"
	"github.com/poiesic/docindex/chunking"
	"github.com/poiesic/docindex/core"
	"github.com/poiesic/docindex/extraction"
	"github.com/poiesic/docindex/metrics"
	"github.com/poiesic/docindex/notify"
	"github.com/poiesic/docindex/queue"
	"github.com/poiesic/docindex/storage"
	"github.com/poiesic/docindex/storage/badger"
	"github.com/poiesic/docindex/storage/storagetest"
)

const testDimensions = 8

// recorder collects notifications.
type recorder struct {
	mu    sync.Mutex
	notes []notify.Notification
}

func (r *recorder) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

func (r *recorder) stages() []notify.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	stages := make([]notify.Stage, len(r.notes))
	for i, n := range r.notes {
		stages[i] = n.Stage
	}
	return stages
}

func (r *recorder) last() notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.notes[len(r.notes)-1]
}

// chunkerFunc adapts a function to Chunker.
type chunkerFunc func(text string) []string

func (f chunkerFunc) CreateChunks(text string) []string { return f(text) }

type fixture struct {
	docs     storage.DocumentRepository
	chunks   storage.ChunkRepository
	embedder *mock.MockEmbedder
	registry *extraction.Registry
	notes    *recorder
	dir      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	docs, chunks, backend, err := badger.NewMemoryRepositories(testDimensions)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	return &fixture{
		docs:     docs,
		chunks:   chunks,
		embedder: mock.NewMockEmbedder(testDimensions),
		registry: extraction.DefaultRegistry(nil),
		notes:    &recorder{},
		dir:      t.TempDir(),
	}
}

// wordChunker packs four words per line and one line per chunk.
func wordChunker(t *testing.T) *chunking.Chunker {
	t.Helper()
	c, err := chunking.New(chunking.Config{MaxLineTokens: 4, MaxChunkTokens: 4},
		chunking.WithTokenCounter(chunking.CountWords))
	require.NoError(t, err)
	return c
}

func (f *fixture) pipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	opts = append([]Option{WithNotifier(f.notes), WithChunker(wordChunker(t))}, opts...)
	p, err := NewPipeline(f.docs, f.chunks, f.registry, f.embedder, opts...)
	require.NoError(t, err)
	return p
}

// upload writes a text file and creates its Pending document.
func (f *fixture) upload(t *testing.T, name, content string) *core.Document {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	doc := storagetest.NewDocument(name)
	doc.FilePath = path
	doc.Size = int64(len(content))
	created, err := f.docs.CreateDocument(context.Background(), doc)
	require.NoError(t, err)
	return created
}

func (f *fixture) document(t *testing.T, id core.DocumentID) *core.Document {
	t.Helper()
	doc, err := f.docs.GetDocument(context.Background(), id)
	require.NoError(t, err)
	return doc
}

func (f *fixture) chunkCount(t *testing.T, id core.DocumentID) int {
	t.Helper()
	n, err := f.chunks.CountByDocument(context.Background(), id)
	require.NoError(t, err)
	return n
}

func TestNewPipeline_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := NewPipeline(nil, f.chunks, f.registry, f.embedder)
	assert.ErrorIs(t, err, ErrDocumentRepositoryRequired)
	_, err = NewPipeline(f.docs, nil, f.registry, f.embedder)
	assert.ErrorIs(t, err, ErrChunkRepositoryRequired)
	_, err = NewPipeline(f.docs, f.chunks, nil, f.embedder)
	assert.ErrorIs(t, err, ErrExtractorRequired)
	_, err = NewPipeline(f.docs, f.chunks, f.registry, nil)
	assert.ErrorIs(t, err, ErrEmbedderRequired)

	_, err = NewPipeline(f.docs, f.chunks, f.registry, f.embedder, WithBatchSize(0))
	assert.Error(t, err)
	_, err = NewPipeline(f.docs, f.chunks, f.registry, f.embedder, WithChunker(nil))
	assert.Error(t, err)
}

func TestProcess_PlainTextCompletes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.pipeline(t)

	doc := f.upload(t, "hello.txt", strings.Repeat("hello world. ", 4))
	require.NoError(t, p.Process(ctx, doc.ID))

	got := f.document(t, doc.ID)
	assert.Equal(t, core.StatusCompleted, got.Status)
	assert.Empty(t, got.StatusMessage)
	assert.False(t, got.ProcessedAt.IsZero())

	chunks, err := f.chunks.GetByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
		assert.Equal(t, "hello world. hello world.", chunk.Content)
		assert.Equal(t, mock.Vector(chunk.Content, testDimensions), chunk.Embedding)
		assert.Equal(t, "hello.txt", chunk.Metadata[core.MetadataSourceFile])
		assert.Equal(t, "text/plain", chunk.Metadata[core.MetadataContentType])
		assert.Equal(t, core.ContentHash(chunk.Content), chunk.Metadata[core.MetadataContentHash])
		assert.Equal(t, "25", chunk.Metadata[core.MetadataCharCount])
	}

	assert.Equal(t, []notify.Stage{
		notify.StageExtracting, notify.StageChunking, notify.StageEmbedding,
		notify.StagePersisting, notify.StageCompleted,
	}, f.notes.stages())
	last := f.notes.last()
	assert.Equal(t, core.StatusCompleted, last.Status)
	assert.Equal(t, notify.MessageCompleted, last.Message)
}

func TestProcess_EmptyExtractionFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.registry.Register(extraction.ContentTypeText, extraction.ExtractorFunc(
		func(context.Context, string) (string, error) { return " \n\t ", nil }))
	p := f.pipeline(t)

	doc := f.upload(t, "blank.txt", "ignored")
	err := p.Process(ctx, doc.ID)
	assert.ErrorIs(t, err, core.ErrEmptyContent)

	got := f.document(t, doc.ID)
	assert.Equal(t, core.StatusFailed, got.Status)
	assert.Contains(t, got.StatusMessage, "An error occurred: ")
	assert.Contains(t, got.StatusMessage, "content cannot be empty")
	assert.Zero(t, f.chunkCount(t, doc.ID))
	assert.Zero(t, f.embedder.CallCount())

	last := f.notes.last()
	assert.Equal(t, notify.StageFailed, last.Stage)
	assert.Equal(t, got.StatusMessage, last.Message)
}

func TestProcess_UnsupportedContentTypeFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.pipeline(t)

	doc := storagetest.NewDocument("image.png")
	doc.ContentType = "image/png"
	_, err := f.docs.CreateDocument(ctx, doc)
	require.NoError(t, err)

	err = p.Process(ctx, doc.ID)
	assert.ErrorIs(t, err, core.ErrUnsupportedContentType)
	assert.Equal(t, core.StatusFailed, f.document(t, doc.ID).Status)
}

func TestProcess_EmbeddingFailureLeavesNoChunks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	calls := 0
	f.embedder.EmbedTextsFunc = func(_ context.Context, texts []string) ([][]float32, error) {
		calls++
		if calls == 2 {
			return nil, errors.New("backend unavailable")
		}
		vectors := make([][]float32, len(texts))
		for i, text := range texts {
			vectors[i] = mock.Vector(text, testDimensions)
		}
		return vectors, nil
	}
	p := f.pipeline(t,
		WithBatchSize(1),
		WithChunker(chunkerFunc(func(string) []string { return []string{"one", "two", "three"} })),
	)

	doc := f.upload(t, "three.txt", "one two three")
	err := p.Process(ctx, doc.ID)
	assert.ErrorIs(t, err, core.ErrEmbeddingBackend)
	assert.Equal(t, 2, calls)

	got := f.document(t, doc.ID)
	assert.Equal(t, core.StatusFailed, got.Status)
	assert.Contains(t, got.StatusMessage, "backend unavailable")
	assert.Zero(t, f.chunkCount(t, doc.ID))
	assert.NotContains(t, f.notes.stages(), notify.StagePersisting)
}

func TestProcess_DimensionMismatchFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.embedder = mock.NewMockEmbedder(testDimensions + 1)
	p := f.pipeline(t)

	doc := f.upload(t, "dims.txt", "hello world")
	err := p.Process(ctx, doc.ID)
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.Equal(t, core.StatusFailed, f.document(t, doc.ID).Status)
	assert.Zero(t, f.chunkCount(t, doc.ID))
}

func TestProcess_CancelledRunEndsFailed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t)
	f.embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		cancel()
		return nil, ctx.Err()
	}
	p := f.pipeline(t)

	doc := f.upload(t, "cancel.txt", "hello world")
	err := p.Process(ctx, doc.ID)
	assert.ErrorIs(t, err, core.ErrCancelled)

	got := f.document(t, doc.ID)
	assert.Equal(t, core.StatusFailed, got.Status, "a cancelled run must not stay Processing")
	assert.Contains(t, got.StatusMessage, "cancelled")
}

func TestProcess_MissingDocument(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t)

	id := core.NewDocumentID()
	assert.ErrorIs(t, p.Process(context.Background(), id), core.ErrNotFound)
	assert.NoError(t, p.HandleJob(context.Background(), core.NewProcessJob(id)))
	assert.Empty(t, f.notes.stages())
	assert.Zero(t, f.embedder.CallCount())
}

func TestProcess_CompletedDocumentUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.pipeline(t)

	doc := f.upload(t, "twice.txt", "hello world")
	require.NoError(t, p.Process(ctx, doc.ID))

	err := p.Process(ctx, doc.ID)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
	assert.Equal(t, core.StatusCompleted, f.document(t, doc.ID).Status)
	assert.Equal(t, 1, f.chunkCount(t, doc.ID))
}

func TestProcess_NotifierErrorsIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	failing := notify.Func(func(context.Context, notify.Notification) error {
		return errors.New("subscriber gone")
	})
	p := f.pipeline(t, WithNotifier(failing))

	doc := f.upload(t, "notify.txt", "hello world")
	require.NoError(t, p.Process(ctx, doc.ID))
	assert.Equal(t, core.StatusCompleted, f.document(t, doc.ID).Status)
}

func TestReprocess_ReplacesChunks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.pipeline(t)

	doc := f.upload(t, "grow.txt", strings.Repeat("hello world. ", 4))
	require.NoError(t, p.Process(ctx, doc.ID))
	require.Equal(t, 2, f.chunkCount(t, doc.ID))

	require.NoError(t, os.WriteFile(doc.FilePath, []byte(strings.Repeat("goodbye moon. ", 6)), 0o644))
	require.NoError(t, p.HandleJob(ctx, core.NewReprocessJob(doc.ID)))

	got := f.document(t, doc.ID)
	assert.Equal(t, core.StatusCompleted, got.Status)

	chunks, err := f.chunks.GetByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
		assert.Equal(t, "goodbye moon. goodbye moon.", chunk.Content)
	}
}

func TestReprocess_FailedDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.embedder.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("down")
	}
	p := f.pipeline(t)

	doc := f.upload(t, "retry.txt", "hello world")
	require.Error(t, p.Process(ctx, doc.ID))
	require.Equal(t, core.StatusFailed, f.document(t, doc.ID).Status)

	f.embedder.EmbedTextsFunc = nil
	require.NoError(t, p.Reprocess(ctx, doc.ID))

	got := f.document(t, doc.ID)
	assert.Equal(t, core.StatusCompleted, got.Status)
	assert.Empty(t, got.StatusMessage)
	assert.Equal(t, 1, f.chunkCount(t, doc.ID))
}

func TestReprocess_StuckProcessingDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.pipeline(t)

	doc := f.upload(t, "stuck.txt", "hello world")
	require.NoError(t, doc.Transition(core.StatusProcessing))
	_, err := f.docs.UpdateDocument(ctx, doc)
	require.NoError(t, err)

	require.NoError(t, p.Reprocess(ctx, doc.ID))

	got := f.document(t, doc.ID)
	assert.Equal(t, core.StatusCompleted, got.Status)
	assert.Empty(t, got.StatusMessage)
	assert.Equal(t, 1, f.chunkCount(t, doc.ID))
}

func TestPipeline_Tracing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	p := f.pipeline(t, WithTracerProvider(tp))

	ok := f.upload(t, "traced.txt", "hello world")
	require.NoError(t, p.Process(ctx, ok.ID))

	names := map[string]sdktrace.ReadOnlySpan{}
	for _, span := range spans.Ended() {
		names[span.Name()] = span
	}
	for _, name := range []string{
		"ingestion.process_document", "ingestion.extracting", "ingestion.chunking",
		"ingestion.embedding", "ingestion.persisting",
	} {
		assert.Contains(t, names, name)
	}
	root := names["ingestion.process_document"]
	assert.Equal(t, root.SpanContext().SpanID(), names["ingestion.embedding"].Parent().SpanID())
	assert.Equal(t, codes.Unset, root.Status().Code)

	f.registry.Register(extraction.ContentTypeText, extraction.ExtractorFunc(
		func(context.Context, string) (string, error) { return "", nil }))
	bad := f.upload(t, "empty.txt", "")
	require.Error(t, p.Process(ctx, bad.ID))

	ended := spans.Ended()
	failed := ended[len(ended)-1]
	assert.Equal(t, "ingestion.process_document", failed.Name())
	assert.Equal(t, codes.Error, failed.Status().Code)
}

func TestPipeline_Metrics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	p := f.pipeline(t, WithMetrics(m))

	doc := f.upload(t, "metered.txt", strings.Repeat("hello world. ", 4))
	require.NoError(t, p.Process(ctx, doc.ID))

	err = testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP docindex_chunks_persisted_total Document chunks written to the chunk store.
# TYPE docindex_chunks_persisted_total counter
docindex_chunks_persisted_total 2
# HELP docindex_documents_processed_total Pipeline runs finished, by final document status.
# TYPE docindex_documents_processed_total counter
docindex_documents_processed_total{status="completed"} 1
`), "docindex_chunks_persisted_total", "docindex_documents_processed_total")
	assert.NoError(t, err)
}

func TestPipeline_WorkerPool(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t)

	q, err := queue.New(4)
	require.NoError(t, err)
	workers, err := queue.NewWorkerPool(q, p, queue.WithWorkers(2))
	require.NoError(t, err)
	defer workers.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var ids []core.DocumentID
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		doc := f.upload(t, name, "hello world from "+name)
		ids = append(ids, doc.ID)
		require.NoError(t, q.Enqueue(ctx, core.NewProcessJob(doc.ID)))
	}
	require.NoError(t, q.Enqueue(ctx, core.NewProcessJob(core.NewDocumentID())))
	q.Close()

	require.NoError(t, workers.Run(ctx))
	for _, id := range ids {
		assert.Equal(t, core.StatusCompleted, f.document(t, id).Status)
	}
}
