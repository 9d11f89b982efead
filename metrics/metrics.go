// Package metrics defines the Prometheus collectors exported by the service.
package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "phishguard"

var (
	// Predictions counts completed predictions by decision ("phishing" or "benign").
	Predictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "predictions_total",
		Help:      "Completed predictions by decision.",
	}, []string{"decision"})

	// PredictionFailures counts rejected or failed predictions by kind.
	PredictionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "prediction_failures_total",
		Help:      "Predictions that did not produce a score, by kind.",
	}, []string{"kind"})

	PredictionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "prediction_duration_seconds",
		Help:      "Time spent scoring a request.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"mode"})

	ReconstructionError = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "reconstruction_error",
		Help:      "Autoencoder reconstruction error per scored URL.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
	})

	FinalScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "final_score",
		Help:      "Fused score per scored URL.",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
	})

	// ClassifierOverrides counts predictions where the classifier raised the score.
	ClassifierOverrides = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "classifier_overrides_total",
		Help:      "Predictions whose final score was raised by the classifier.",
	})

	// Degradations counts fail-open fallbacks by component.
	Degradations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "degradations_total",
		Help:      "Fail-open fallbacks taken, by component.",
	}, []string{"component"})

	ShortenerCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "shortener_cache_lookups_total",
		Help:      "Shortener cache lookups by result.",
	}, []string{"result"})

	ShortenerCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "shortener_cache_entries",
		Help:      "Entries currently held in the shortener cache.",
	})

	ShortenerResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "shortener_resolutions_total",
		Help:      "Network resolutions of shortened URLs by outcome.",
	}, []string{"outcome"})

	ModelReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "model_reloads_total",
		Help:      "Model snapshot loads by outcome.",
	}, []string{"outcome"})

	ModelReady = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "model_ready",
		Help:      "1 when a model snapshot is loaded and serving.",
	})

	FeedbackWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feedback_writes_total",
		Help:      "Feedback records persisted, by kind.",
	}, []string{"kind"})
)

// DatabaseMetrics exports sql.DBStats for one connection pool.
type DatabaseMetrics struct {
	openConnections *prometheus.GaugeVec
	inUse           *prometheus.GaugeVec
	idle            *prometheus.GaugeVec
	waitCount       *prometheus.GaugeVec
	service         string
}

// NewDatabaseMetrics registers pool gauges labelled with service.
func NewDatabaseMetrics(service string) *DatabaseMetrics {
	return &DatabaseMetrics{
		openConnections: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_open_connections",
			Help:      "Established connections, both in use and idle.",
		}, []string{"service"}),
		inUse: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_in_use_connections",
			Help:      "Connections currently in use.",
		}, []string{"service"}),
		idle: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_idle_connections",
			Help:      "Idle connections.",
		}, []string{"service"}),
		waitCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_wait_count",
			Help:      "Total connections waited for.",
		}, []string{"service"}),
		service: service,
	}
}

// UpdateDBStats copies the current pool statistics into the gauges.
func (m *DatabaseMetrics) UpdateDBStats(db *sql.DB) {
	if db == nil {
		return
	}
	stats := db.Stats()
	m.openConnections.WithLabelValues(m.service).Set(float64(stats.OpenConnections))
	m.inUse.WithLabelValues(m.service).Set(float64(stats.InUse))
	m.idle.WithLabelValues(m.service).Set(float64(stats.Idle))
	m.waitCount.WithLabelValues(m.service).Set(float64(stats.WaitCount))
}
