package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels of processed jobs.
const (
	OutcomeDone      = "done"
	OutcomeRetry     = "retry"
	OutcomeExhausted = "exhausted"
	OutcomeAbandoned = "abandoned"
	OutcomeDead      = "dead"
)

// Metrics are the Prometheus collectors of a Pool.
type Metrics struct {
	Processed *prometheus.CounterVec
	Duration  *prometheus.HistogramVec
	Claimed   prometheus.Counter
}

// NewMetrics registers the pool collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Processed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chama",
			Subsystem: "worker",
			Name:      "jobs_processed_total",
			Help:      "Jobs processed by kind and outcome.",
		}, []string{"kind", "outcome"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chama",
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Time spent running a job.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		Claimed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "chama",
			Subsystem: "worker",
			Name:      "jobs_claimed_total",
			Help:      "Jobs claimed from the queue.",
		}),
	}
}
