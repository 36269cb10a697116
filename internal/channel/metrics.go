package channel

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sendTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalbox_channel_send_total",
			Help: "Total channel delivery attempts by channel and status.",
		},
		[]string{"channel", "status"},
	)
	sendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signalbox_channel_send_duration_seconds",
			Help:    "Duration of channel delivery attempts that reached the transport.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"channel"},
	)
)

// Record counts one attempt on channel with the given outcome.
func Record(channel string, status Status) {
	sendTotal.WithLabelValues(channel, string(status)).Inc()
}

// ObserveSince records the transport latency of an attempt started at start.
func ObserveSince(channel string, start time.Time) {
	sendDuration.WithLabelValues(channel).Observe(time.Since(start).Seconds())
}
