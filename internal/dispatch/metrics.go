package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeDelivered = "delivered"
	outcomeDeferred  = "deferred"
	outcomeSkipped   = "skipped"
	outcomeFailed    = "failed"
)

var dispatchTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "signalbox_dispatch_total",
		Help: "Dispatch attempts by operation and outcome.",
	},
	[]string{"operation", "outcome"},
)

func observe(operation, outcome string) {
	dispatchTotal.WithLabelValues(operation, outcome).Inc()
}
