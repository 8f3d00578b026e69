package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	JobsQueuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_queued_total",
			Help: "Total number of jobs promoted to the queue",
		},
	)
	JobsClaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_claimed_total",
			Help: "Total number of job claims handed to workers",
		},
	)
	ClaimsEmptyTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "claims_empty_total",
			Help: "Total number of claim attempts that found the queue empty",
		},
	)
	JobsCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs completed",
		},
	)
	JobsErroredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_errored_total",
			Help: "Total number of worker-reported job errors",
		},
	)
	JobsCancelledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_cancelled_total",
			Help: "Total number of jobs cancelled",
		},
	)
	SweepRequeuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sweep_requeued_total",
			Help: "Total number of stale jobs requeued by the retry sweep",
		},
	)
	SweepFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sweep_failed_total",
			Help: "Total number of jobs failed by the retry sweep after exhausting attempts",
		},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(JobsQueuedTotal)
	prometheus.MustRegister(JobsClaimedTotal)
	prometheus.MustRegister(ClaimsEmptyTotal)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsErroredTotal)
	prometheus.MustRegister(JobsCancelledTotal)
	prometheus.MustRegister(SweepRequeuedTotal)
	prometheus.MustRegister(SweepFailedTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// ObserveSweep records one sweep's reclassification counts.
func ObserveSweep(requeued, failed int64) {
	if requeued > 0 {
		SweepRequeuedTotal.Add(float64(requeued))
	}
	if failed > 0 {
		SweepFailedTotal.Add(float64(failed))
	}
}
