package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgtransfer_api_requests_total",
			Help: "Number of control API requests",
		},
		[]string{"method", "path", "status"},
	)
	APILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pgtransfer_api_latency_seconds",
			Help:    "Control API latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	TransfersStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgtransfer_transfers_started_total",
			Help: "Transfers started, by mode",
		},
		[]string{"mode"},
	)
	TransfersFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgtransfer_transfers_finished_total",
			Help: "Transfers that reached a terminal phase",
		},
		[]string{"phase"},
	)
	RowsTransferred = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pgtransfer_rows_transferred_total",
			Help: "Rows written to destination tables",
		},
	)
	BatchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pgtransfer_batch_duration_seconds",
			Help:    "Time to read and write one batch",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)
	TransferRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgtransfer_transfer_running",
			Help: "1 while a transfer job is executing",
		},
	)
)

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		APIRequests,
		APILatency,
		TransfersStarted,
		TransfersFinished,
		RowsTransferred,
		BatchLatency,
		TransferRunning,
	)
}
