// Package metrics exposes Prometheus instrumentation for the ingestion pipeline.
//
// All recording methods are safe on a nil *Metrics, so components can take
// metrics as an optional dependency.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docindex"

// Embedding request outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Metrics holds the pipeline collectors.
type Metrics struct {
	documentsProcessed *prometheus.CounterVec
	stageDuration      *prometheus.HistogramVec
	chunksPersisted    prometheus.Counter
	embeddingRequests  *prometheus.CounterVec
	registerer         prometheus.Registerer
}

// New creates the collectors and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		documentsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "documents_processed_total",
				Help:      "Pipeline runs finished, by final document status.",
			},
			[]string{"status"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Time spent in each pipeline stage.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
			},
			[]string{"stage"},
		),
		chunksPersisted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chunks_persisted_total",
				Help:      "Document chunks written to the chunk store.",
			},
		),
		embeddingRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "embedding_requests_total",
				Help:      "Embedding backend batch calls, by outcome.",
			},
			[]string{"outcome"},
		),
		registerer: reg,
	}

	for _, c := range []prometheus.Collector{
		m.documentsProcessed, m.stageDuration, m.chunksPersisted, m.embeddingRequests,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RegisterQueueDepth exports depth() as the docindex_queue_depth gauge.
func (m *Metrics) RegisterQueueDepth(depth func() int) error {
	if m == nil {
		return nil
	}
	return m.registerer.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Jobs waiting in the work queue.",
		},
		func() float64 { return float64(depth()) },
	))
}

// DocumentProcessed counts a finished pipeline run.
func (m *Metrics) DocumentProcessed(status string) {
	if m == nil {
		return
	}
	m.documentsProcessed.WithLabelValues(status).Inc()
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ChunksPersisted adds n written chunks.
func (m *Metrics) ChunksPersisted(n int) {
	if m == nil {
		return
	}
	m.chunksPersisted.Add(float64(n))
}

// EmbeddingRequest counts one backend call.
func (m *Metrics) EmbeddingRequest(err error) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	m.embeddingRequests.WithLabelValues(outcome).Inc()
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
