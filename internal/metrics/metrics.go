package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Task metrics
	TasksInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tee_worker_tasks_in_flight",
			Help: "Number of tasks currently handled by the worker",
		},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tee_worker_notifications_total",
			Help: "Total number of task notifications handled by type",
		},
		[]string{"type"},
	)

	StatusReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tee_worker_status_reports_total",
			Help: "Total number of replicate status reports by status and outcome",
		},
		[]string{"status", "outcome"},
	)

	// Compute metrics
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tee_worker_stage_duration_seconds",
			Help:    "Compute stage container duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"stage", "status"},
	)

	// Chain metrics
	ChainTransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tee_worker_chain_transactions_total",
			Help: "Total number of hub transactions by method and outcome",
		},
		[]string{"method", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(TasksInFlight)
	prometheus.MustRegister(NotificationsTotal)
	prometheus.MustRegister(StatusReportsTotal)
	prometheus.MustRegister(StageDuration)
	prometheus.MustRegister(ChainTransactionsTotal)
}

func ObserveStage(stage, status string, d time.Duration) {
	StageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}

func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
