// Package telemetry holds the Prometheus metrics for indexing and retrieval.
// A nil *Metrics is valid and records nothing.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the pipeline.
//
// Metrics:
//   - notesrag_embedding_requests_total{outcome} - embedding calls by "ok" or "error"
//   - notesrag_texts_embedded_total - texts sent for embedding
//   - notesrag_retries_total{stage} - retried attempts per stage
//   - notesrag_documents_indexed_total{status} - documents by "indexed" or "failed"
//   - notesrag_retrieval_matches - histogram of matches per retrieval
//   - notesrag_stage_duration_seconds{stage} - histogram of stage latency
type Metrics struct {
	registry *prometheus.Registry

	EmbeddingRequests *prometheus.CounterVec
	TextsEmbedded     prometheus.Counter
	Retries           *prometheus.CounterVec
	DocumentsIndexed  *prometheus.CounterVec
	RetrievalMatches  prometheus.Histogram
	StageDuration     *prometheus.HistogramVec
}

// New creates metrics registered on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		EmbeddingRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notesrag_embedding_requests_total",
			Help: "Total number of embedding requests by outcome",
		}, []string{"outcome"}),
		TextsEmbedded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notesrag_texts_embedded_total",
			Help: "Total number of texts sent for embedding",
		}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notesrag_retries_total",
			Help: "Total number of retried attempts by stage",
		}, []string{"stage"}),
		DocumentsIndexed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notesrag_documents_indexed_total",
			Help: "Total number of documents processed by status",
		}, []string{"status"}),
		RetrievalMatches: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "notesrag_retrieval_matches",
			Help:    "Number of matches returned per retrieval",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "notesrag_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
	}
	m.registry.MustRegister(
		m.EmbeddingRequests,
		m.TextsEmbedded,
		m.Retries,
		m.DocumentsIndexed,
		m.RetrievalMatches,
		m.StageDuration,
	)
	return m
}

// Registry exposes the registry the metrics live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) EmbeddingRequest(err error, texts int) {
	if m == nil {
		return
	}
	if err != nil {
		m.EmbeddingRequests.WithLabelValues("error").Inc()
		return
	}
	m.EmbeddingRequests.WithLabelValues("ok").Inc()
	m.TextsEmbedded.Add(float64(texts))
}

func (m *Metrics) Retry(stage string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(stage).Inc()
}

func (m *Metrics) DocumentIndexed(ok bool) {
	if m == nil {
		return
	}
	status := "indexed"
	if !ok {
		status = "failed"
	}
	m.DocumentsIndexed.WithLabelValues(status).Inc()
}

func (m *Metrics) Retrieved(matches int) {
	if m == nil {
		return
	}
	m.RetrievalMatches.Observe(float64(matches))
}

func (m *Metrics) ObserveStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}

// WriteTextfile writes a snapshot in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
