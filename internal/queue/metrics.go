package queue

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records job outcomes. A nil *Metrics is valid and records nothing.
type Metrics struct {
	jobs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

const (
	outcomeCompleted = "completed"
	outcomeRetried   = "retried"
	outcomeFailed    = "failed"
)

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callflow_jobs_total",
			Help: "Processed jobs by queue, kind and outcome.",
		}, []string{"queue", "kind", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "callflow_job_duration_seconds",
			Help:    "Handler execution time.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"queue", "kind"}),
	}
	reg.MustRegister(m.jobs, m.duration)
	return m
}

func (m *Metrics) observe(queue, kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(queue, kind, outcome).Inc()
	m.duration.WithLabelValues(queue, kind).Observe(d.Seconds())
}
