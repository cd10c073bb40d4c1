// Package metrics provides Prometheus instrumentation for the risk scoring service.
package metrics

import (
	"context"
	"database/sql"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "riskscore"

var (
	// HTTPRequestsTotal counts HTTP requests by method, route pattern, and status bucket.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and route pattern.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ScoresTotal counts computed scores by risk category.
	ScoresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scores_total",
			Help:      "Total risk scores computed by category.",
		},
		[]string{"category"},
	)

	// ScoreDuration observes end-to-end scoring latency.
	ScoreDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "score_duration_seconds",
		Help:      "Scoring latency including explanation.",
		Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// ExplanationsTotal counts explanation outcomes (ok, failed, unavailable).
	ExplanationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "explanations_total",
			Help:      "Explanation attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// ArtifactWritesSkippedTotal counts artifact writes skipped under resource pressure.
	ArtifactWritesSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "artifact_writes_skipped_total",
		Help:      "Explanation artifact writes skipped because of memory pressure.",
	})

	// ArtifactsRemovedTotal counts explanation artifacts removed by retention.
	ArtifactsRemovedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "artifacts_removed_total",
		Help:      "Explanation artifacts removed by the retention job.",
	})

	// UnseenCategoriesTotal counts unseen categorical values by feature.
	UnseenCategoriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unseen_categories_total",
			Help:      "Categorical values not present in the fitted vocabulary.",
		},
		[]string{"feature"},
	)

	// ModelState reports the manager state (0 unloaded, 1 loading, 2 ready, 3 retraining).
	ModelState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "model_state",
		Help:      "Model manager state: 0 unloaded, 1 loading, 2 ready, 3 retraining.",
	})

	// ModelLoadsTotal counts load attempts by mode (restore, train) and result.
	ModelLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_loads_total",
			Help:      "Model load attempts by mode and result.",
		},
		[]string{"mode", "result"},
	)

	// TrainingDuration observes full training pipeline duration.
	TrainingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "training_duration_seconds",
		Help:      "Duration of the full preparation, tuning and save pipeline.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})

	// ModelTestAUC reports the held-out ROC-AUC of the loaded model.
	ModelTestAUC = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "model_test_roc_auc",
		Help:      "Held-out ROC-AUC of the currently loaded model.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ScoresTotal,
		ScoreDuration,
		ExplanationsTotal,
		ArtifactWritesSkippedTotal,
		ArtifactsRemovedTotal,
		UnseenCategoriesTotal,
		ModelState,
		ModelLoadsTotal,
		TrainingDuration,
		ModelTestAUC,
		DBOpenConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and the goroutine
// count into gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware records request metrics keyed by the chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		// Route pattern, not the raw path, to keep label cardinality bounded
		pattern := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			pattern = rctx.RoutePattern()
		}

		HTTPRequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(r.Method, pattern, statusBucket(ww.Status())).Inc()
	})
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	if code == 0 {
		code = http.StatusOK
	}
	if code < 100 || code > 599 {
		return strconv.Itoa(code)
	}
	return strconv.Itoa(code/100) + "xx"
}
