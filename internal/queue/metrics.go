package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signalbox_queue_depth",
		Help: "Jobs waiting in the in-process queue.",
	})
	submitTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalbox_queue_submit_total",
			Help: "Job submissions by kind and result.",
		},
		[]string{"kind", "result"},
	)
	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signalbox_job_duration_seconds",
			Help:    "Job execution time by kind and status.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		},
		[]string{"kind", "status"},
	)
)
