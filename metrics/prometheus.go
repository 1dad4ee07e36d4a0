package metrics

import (
	"time"

	"github.com/poiesic/dealwire/core"
	"github.com/poiesic/dealwire/ingestion"
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMonitor exports pipeline activity as Prometheus metrics.
type PrometheusMonitor struct {
	ingested       *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	extractions    *prometheus.HistogramVec
	failures       *prometheus.CounterVec
	completed      *prometheus.CounterVec
	completionTime prometheus.Histogram
	confidence     prometheus.Histogram
}

var _ ingestion.Monitor = (*PrometheusMonitor)(nil)

// NewPrometheusMonitor creates a monitor and registers its collectors with reg.
func NewPrometheusMonitor(reg prometheus.Registerer) (*PrometheusMonitor, error) {
	m := &PrometheusMonitor{
		ingested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dealwire_ingest_total",
				Help: "Accepted ingest requests",
			},
			[]string{"scope", "deduplicated"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dealwire_transitions_total",
				Help: "Committed document status transitions",
			},
			[]string{"from", "to"},
		),
		extractions: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dealwire_extraction_duration_seconds",
				Help:    "Extractor call duration in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"outcome"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dealwire_attempt_failures_total",
				Help: "Recorded attempt failures",
			},
			[]string{"scope", "kind"},
		),
		completed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dealwire_enrichments_total",
				Help: "Stored enrichment records",
			},
			[]string{"scope", "deal_detected"},
		),
		completionTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dealwire_completion_latency_seconds",
				Help:    "Time from ingestion to completion in seconds",
				Buckets: prometheus.ExponentialBuckets(1, 4, 10),
			},
		),
		confidence: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dealwire_confidence_score",
				Help:    "Confidence scores of stored enrichments",
				Buckets: prometheus.LinearBuckets(10, 10, 10),
			},
		),
	}
	for _, c := range []prometheus.Collector{
		m.ingested, m.transitions, m.extractions, m.failures,
		m.completed, m.completionTime, m.confidence,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *PrometheusMonitor) Ingested(doc *core.Document, deduplicated bool) {
	m.ingested.WithLabelValues(doc.Scope, boolLabel(deduplicated)).Inc()
}

func (m *PrometheusMonitor) Transitioned(_ core.ID, _ int, from, to core.Status) {
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *PrometheusMonitor) ExtractionFinished(_ core.ID, _ int, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.extractions.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *PrometheusMonitor) AttemptFailed(failure *core.AttemptFailure) {
	m.failures.WithLabelValues(failure.Scope, string(failure.Kind)).Inc()
}

func (m *PrometheusMonitor) Completed(record *core.EnrichmentRecord, latency time.Duration) {
	m.completed.WithLabelValues(record.Scope, boolLabel(record.Output.DealDetected)).Inc()
	m.completionTime.Observe(latency.Seconds())
	m.confidence.Observe(float64(record.Output.ConfidenceScore))
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
