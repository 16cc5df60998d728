package circuitbreaker

import (
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

var (
	// MaxNumOfFailingRequests ...
	MaxNumOfFailingRequests = 10
	// FailingRatio ...
	FailingRatio = 0.6
	// OpenTimeout is the period of the open state after which the breaker
	// lets requests through again.
	OpenTimeout = 30 * time.Second
)

// NewCircuitBreaker is a factory function returning a named
// *gobreaker.CircuitBreaker that trips once more than
// MaxNumOfFailingRequests requests have been made and the failing ratio has
// met FailingRatio. State changes are logged.
// Requests failing with any of the given errors are not counted as failures.
func NewCircuitBreaker(name string, ignored ...error) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: OpenTimeout,
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			for _, e := range ignored {
				if errors.Is(err, e) {
					return true
				}
			}
			return false
		},
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return int(counts.Requests) > MaxNumOfFailingRequests && ratio >= FailingRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(log.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	})
}
