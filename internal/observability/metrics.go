package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	transfersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tableport_transfers_total",
			Help: "Total number of transfers by path and status.",
		},
		[]string{"path", "status"},
	)
	transferStreamsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tableport_transfer_streams_total",
			Help: "Total number of CSV streams handed to destinations.",
		},
	)
	transferDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tableport_transfer_duration_seconds",
			Help:    "Transfer duration by path.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"path"},
	)
)

func init() {
	prometheus.MustRegister(
		transfersTotal,
		transferStreamsTotal,
		transferDurationSeconds,
	)
}

// ObserveTransfer records the outcome of one transfer or transfer leg.
func ObserveTransfer(path, status string, streams int, elapsed time.Duration) {
	transfersTotal.WithLabelValues(path, status).Inc()
	if streams > 0 {
		transferStreamsTotal.Add(float64(streams))
	}
	transferDurationSeconds.WithLabelValues(path).Observe(elapsed.Seconds())
}
