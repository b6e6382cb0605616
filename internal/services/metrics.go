package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"playtrack/internal/models"
)

// Metrics holds all custom Prometheus metrics for the engine
type Metrics struct {
	SessionsProcessed   prometheus.Counter
	ProcessLatency      prometheus.Histogram
	RegressionsTotal    prometheus.Counter
	NewFingerprints     prometheus.Counter
	NewlyFixedTotal     prometheus.Counter
	ActiveAlerts        prometheus.Gauge
	TrackedFingerprints prometheus.Gauge
}

// InitMetrics initializes the Prometheus metrics
func InitMetrics() *Metrics {
	return &Metrics{
		SessionsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "playtrack_sessions_processed_total",
			Help: "Total number of sessions processed by the lifecycle engine",
		}),
		ProcessLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "playtrack_session_process_duration_seconds",
			Help:    "Session processing latency in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}),
		RegressionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "playtrack_regressions_detected_total",
			Help: "Total number of regression events detected",
		}),
		NewFingerprints: promauto.NewCounter(prometheus.CounterOpts{
			Name: "playtrack_fingerprints_created_total",
			Help: "Total number of new fingerprints created on first sight",
		}),
		NewlyFixedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "playtrack_fixes_detected_total",
			Help: "Total number of fingerprints that silently disappeared",
		}),
		ActiveAlerts: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "playtrack_alerts_active",
			Help: "Number of non-dismissed regression alerts",
		}),
		TrackedFingerprints: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "playtrack_fingerprints_tracked",
			Help: "Total number of distinct issues ever tracked",
		}),
	}
}

// ObserveSession records per-run metrics from a finished report
func (m *Metrics) ObserveSession(report *models.RegressionReport, elapsed time.Duration) {
	m.SessionsProcessed.Inc()
	m.ProcessLatency.Observe(elapsed.Seconds())
	m.RegressionsTotal.Add(float64(len(report.Regressions)))
	m.NewFingerprints.Add(float64(len(report.NewFindings)))
	m.NewlyFixedTotal.Add(float64(len(report.NewlyFixed)))
	m.ActiveAlerts.Set(float64(report.Stats.ActiveAlerts))
	m.TrackedFingerprints.Set(float64(report.Stats.TotalTracked))
}
