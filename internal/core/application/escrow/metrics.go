package escrow

import "github.com/prometheus/client_golang/prometheus"

var escrowTransitions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "settlement",
		Subsystem: "escrow",
		Name:      "transitions_total",
		Help:      "Number of escrow entries entering each state.",
	},
	[]string{"state"},
)

// Collectors returns the metrics of the escrow ledger.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{escrowTransitions}
}
