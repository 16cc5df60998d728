package auction

import "github.com/prometheus/client_golang/prometheus"

const (
	namespace = "settlement"
	subsystem = "auction"
)

var (
	auctionsOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "opened_total",
		Help:      "Number of auctions opened.",
	})
	auctionsMatched = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "matched_total",
		Help:      "Number of auctions matched with an attested winner.",
	})
	auctionsSettled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "settled_total",
		Help:      "Number of auctions settled.",
	})
	auctionsCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "cancelled_total",
		Help:      "Number of auctions cancelled.",
	})
	bidsAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "bids_accepted_total",
		Help:      "Number of bid commitments accepted.",
	})
	bidsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "bids_rejected_total",
		Help:      "Number of bid commitments rejected.",
	})
)

// Collectors returns the metrics of the auction service.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		auctionsOpened, auctionsMatched, auctionsSettled, auctionsCancelled,
		bidsAccepted, bidsRejected,
	}
}
