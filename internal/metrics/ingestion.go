package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// IngestionMetrics counts ingestion outcomes. A nil *IngestionMetrics is a
// valid no-op recorder.
type IngestionMetrics struct {
	records          *prometheus.CounterVec
	calls            *prometheus.CounterVec
	batchSize        prometheus.Histogram
	transformSkipped *prometheus.CounterVec
}

// NewIngestionMetrics registers the ingestion collectors on reg.
func NewIngestionMetrics(reg prometheus.Registerer) (*IngestionMetrics, error) {
	m := &IngestionMetrics{
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "records_total",
			Help:      "Records committed, by target table.",
		}, []string{"table"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "calls_total",
			Help:      "Ingestion calls, by outcome and error class.",
		}, []string{"outcome", "class"}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "batch_size",
			Help:      "Number of records per committed batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		transformSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "transform_skipped_total",
			Help:      "Calls whose endpoint carries a transformation script that was not applied.",
		}, []string{"domain"}),
	}

	for _, c := range []prometheus.Collector{m.records, m.calls, m.batchSize, m.transformSkipped} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// ObserveCommitted records a committed batch.
func (m *IngestionMetrics) ObserveCommitted(table string, rows int) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(table).Add(float64(rows))
	m.batchSize.Observe(float64(rows))
	m.calls.WithLabelValues("success", "").Inc()
}

// ObserveReplayed records a call answered from the idempotency cache.
func (m *IngestionMetrics) ObserveReplayed() {
	if m == nil {
		return
	}
	m.calls.WithLabelValues("replayed", "").Inc()
}

// ObserveFailed records a failed call.
func (m *IngestionMetrics) ObserveFailed(class string) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues("failed", class).Inc()
}

// ObserveTransformSkipped records a transformation script that was not run.
func (m *IngestionMetrics) ObserveTransformSkipped(domain string) {
	if m == nil {
		return
	}
	m.transformSkipped.WithLabelValues(domain).Inc()
}
