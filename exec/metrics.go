package exec

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// batchesTotal counts batches yielded by operators.
	batchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratum_operator_batches_total",
			Help: "Total number of batches yielded by physical operators",
		},
		[]string{"operator"},
	)
	// recordsTotal counts records yielded by operators.
	recordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratum_operator_records_total",
			Help: "Total number of records yielded by physical operators",
		},
		[]string{"operator"},
	)
	// recordsDeniedTotal counts records dropped by permission checks.
	recordsDeniedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratum_operator_records_denied_total",
			Help: "Total number of records dropped by permission checks",
		},
		[]string{"operator"},
	)
	// streamDuration is time spent inside operator stream polls.
	streamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stratum_operator_poll_duration_seconds",
			Help:    "Time spent inside operator stream polls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operator"},
	)
)

// OperatorMetrics are per-node counters, shared across every execution of
// the node. Values are mirrored into the prometheus collectors.
type OperatorMetrics struct {
	name          string
	BatchesOut    atomic.Int64
	RecordsOut    atomic.Int64
	RecordsDenied atomic.Int64
	NanosInStream atomic.Int64
}

func newOperatorMetrics(name string) *OperatorMetrics {
	return &OperatorMetrics{name: name}
}

func (m *OperatorMetrics) observeBatch(records int) {
	m.BatchesOut.Add(1)
	m.RecordsOut.Add(int64(records))
	batchesTotal.WithLabelValues(m.name).Inc()
	recordsTotal.WithLabelValues(m.name).Add(float64(records))
}

func (m *OperatorMetrics) observeDenied(records int) {
	if records == 0 {
		return
	}
	m.RecordsDenied.Add(int64(records))
	recordsDeniedTotal.WithLabelValues(m.name).Add(float64(records))
}

func (m *OperatorMetrics) observePoll(d time.Duration) {
	m.NanosInStream.Add(d.Nanoseconds())
	streamDuration.WithLabelValues(m.name).Observe(d.Seconds())
}

// meteredStream wraps a stream with poll timing and batch counting for one
// operator.
type meteredStream struct {
	inner   BatchStream
	metrics *OperatorMetrics
}

func meter(metrics *OperatorMetrics, inner BatchStream) BatchStream {
	return &meteredStream{inner: inner, metrics: metrics}
}

func (s *meteredStream) Next(ctx context.Context) (*ValueBatch, bool, error) {
	start := time.Now()
	batch, ok, err := s.inner.Next(ctx)
	s.metrics.observePoll(time.Since(start))
	if ok {
		s.metrics.observeBatch(batch.Len())
	}
	return batch, ok, err
}
