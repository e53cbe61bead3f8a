package httpx

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 120, 600}
)

func (r *Router) initMetrics(reg prometheus.Registerer) {
	r.requestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autodeployhub",
		Subsystem: "api",
		Name:      "http_requests_total",
		Help:      "Count of processed HTTP requests",
	}, []string{"method", "route", "status"})

	r.requestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "autodeployhub",
		Subsystem: "api",
		Name:      "http_request_duration_seconds",
		Help:      "Latency distribution of HTTP handlers",
		Buckets:   histogramBuckets,
	}, []string{"method", "route", "status"})

	r.rateLimitHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autodeployhub",
		Subsystem: "api",
		Name:      "rate_limit_hits_total",
		Help:      "Number of rate-limited responses",
	}, []string{"route", "key"})

	r.requestTotal = registerCounter(reg, r.requestTotal)
	r.rateLimitHits = registerCounter(reg, r.rateLimitHits)
	if err := reg.Register(r.requestLatency); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				r.requestLatency = existing
			}
		}
	}
}

func registerCounter(reg prometheus.Registerer, counter *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(counter); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return counter
}

// instrument records request counts and latency under a fixed route label.
func (r *Router) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)
		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		r.recordRequestMetrics(req.Method, route, status, time.Since(start))
	}
}

func (r *Router) recordRequestMetrics(method, route string, status int, duration time.Duration) {
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	r.requestTotal.With(labels).Inc()
	r.requestLatency.With(labels).Observe(duration.Seconds())
}

func (r *Router) recordRateLimitHit(route, key string) {
	r.rateLimitHits.With(prometheus.Labels{"route": route, "key": key}).Inc()
}
