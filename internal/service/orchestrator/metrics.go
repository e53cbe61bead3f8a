package orchestrator

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var stageBuckets = []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800}

type metrics struct {
	attempts      *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) metrics {
	m := metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autodeployhub",
			Subsystem: "orchestrator",
			Name:      "attempts_total",
			Help:      "Finished attempts by kind and terminal status",
		}, []string{"kind", "status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "autodeployhub",
			Subsystem: "orchestrator",
			Name:      "stage_duration_seconds",
			Help:      "Duration of fetch, build and cluster stages",
			Buckets:   stageBuckets,
		}, []string{"stage", "outcome"}),
	}
	if reg == nil {
		return m
	}
	if err := reg.Register(m.attempts); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				m.attempts = existing
			}
		}
	}
	if err := reg.Register(m.stageDuration); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.HistogramVec); ok {
				m.stageDuration = existing
			}
		}
	}
	return m
}

func (m metrics) recordAttempt(kind, status string) {
	m.attempts.WithLabelValues(kind, status).Inc()
}

func (m metrics) observeStage(stage, outcome string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage, outcome).Observe(d.Seconds())
}
