package saga

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts saga lifecycle outcomes for the /metrics endpoint.
type Metrics struct {
	started     prometheus.Counter
	completed   prometheus.Counter
	compensated prometheus.Counter
	duration    prometheus.Histogram
}

// NewMetrics registers saga metrics on the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer registers saga metrics on the given registerer.
func NewMetricsWithRegisterer(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "saga_started_total",
			Help: "Total number of saga instances started",
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "saga_completed_total",
			Help: "Total number of saga instances completed successfully",
		}),
		compensated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "saga_compensated_total",
			Help: "Total number of saga instances that ran compensation",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "saga_run_duration_seconds",
			Help:    "Duration of saga runs in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}

	registerer.MustRegister(m.started, m.completed, m.compensated, m.duration)
	return m
}

func (m *Metrics) RecordStarted() {
	m.started.Inc()
}

func (m *Metrics) RecordCompleted() {
	m.completed.Inc()
}

func (m *Metrics) RecordCompensated() {
	m.compensated.Inc()
}

func (m *Metrics) RecordDuration(d time.Duration) {
	m.duration.Observe(d.Seconds())
}
