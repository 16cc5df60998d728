package relay

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
	"go.uber.org/ratelimit"
	"golang.org/x/sync/errgroup"
)

type limiters struct {
	rate  int
	lock  *sync.Mutex
	store map[domain.ChainPair]ratelimit.Limiter
}

func newLimiters(rate int) *limiters {
	return &limiters{
		rate:  rate,
		lock:  &sync.Mutex{},
		store: make(map[domain.ChainPair]ratelimit.Limiter),
	}
}

func (l *limiters) get(pair domain.ChainPair) ratelimit.Limiter {
	l.lock.Lock()
	defer l.lock.Unlock()

	limiter, ok := l.store[pair]
	if !ok {
		limiter = ratelimit.New(l.rate)
		l.store[pair] = limiter
	}
	return limiter
}

// Start runs the retry worker in background. It's a no-op if the daemon
// has no relayer key.
func (s *Service) Start() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.running || s.cfg.Signer == nil {
		return
	}
	s.running = true
	s.quit = make(chan struct{})

	s.wg.Add(1)
	go s.retryLoop()
	log.Debug("settlement retry worker started")
}

// Stop stops the retry worker and waits for in-flight deliveries.
func (s *Service) Stop() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.running {
		return
	}
	close(s.quit)
	s.wg.Wait()
	s.running = false
	log.Debug("settlement retry worker stopped")
}

func (s *Service) retryLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				select {
				case <-s.quit:
					cancel()
				case <-ctx.Done():
				}
			}()
			if err := s.RetryPendingDeliveries(ctx); err != nil {
				log.WithError(err).Warn("failed to retry pending deliveries")
			}
			cancel()
		}
	}
}

// RetryPendingDeliveries delivers, in parallel, every Pending message not
// held by a running attempt and every Failed message, as long as it has
// attempts left. Deliveries are rate limited per chain pair.
func (s *Service) RetryPendingDeliveries(ctx context.Context) error {
	if s.cfg.Signer == nil {
		return ErrMissingSigner
	}

	messages := make([]domain.SettlementMessage, 0)
	for _, status := range []domain.DeliveryStatus{
		domain.DeliveryPending, domain.DeliveryFailed,
	} {
		list, err := s.repoManager.SettlementRepository().
			GetSettlementsByStatus(ctx, status)
		if err != nil {
			return err
		}
		messages = append(messages, list...)
	}

	now := s.cfg.Now()
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.cfg.RetryWorkers)

	for i := range messages {
		msg := messages[i]
		if msg.Attempts >= s.cfg.MaxDeliveryAttempts ||
			msg.IsAttemptInProgress(now, s.cfg.AttemptLease) {
			continue
		}

		eg.Go(func() error {
			pair := domain.ChainPair{
				Source: msg.Payload.SourceChainID,
				Target: msg.Payload.TargetChainID,
			}
			s.limiters.get(pair).Take()
			if ctx.Err() != nil {
				return nil
			}

			if _, err := s.signAndDeliver(ctx, msg); err != nil {
				log.WithError(err).WithFields(log.Fields{
					"message_hash": msg.Hash().Hex(),
					"auction_id":   msg.Payload.AuctionID,
					"attempts":     msg.Attempts + 1,
				}).Debug("settlement retry did not deliver")
			}
			return nil
		})
	}

	return eg.Wait()
}
