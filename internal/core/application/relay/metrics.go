package relay

import "github.com/prometheus/client_golang/prometheus"

var (
	deliveryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement",
			Subsystem: "relay",
			Name:      "delivery_attempts_total",
			Help:      "Number of delivery attempts per chain pair.",
		},
		[]string{"chain_pair"},
	)
	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement",
			Subsystem: "relay",
			Name:      "deliveries_total",
			Help:      "Number of delivery attempts per chain pair and outcome.",
		},
		[]string{"chain_pair", "outcome"},
	)
)

// Collectors returns the metrics of the relay service.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{deliveryAttempts, deliveries}
}
