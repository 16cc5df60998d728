package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-settlement/internal/core/application/auction"
	"github.com/tdex-network/tdex-settlement/internal/core/application/pubsub"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
	"github.com/tdex-network/tdex-settlement/internal/core/ports"
)

var (
	// ErrDeliveryFailed is returned when the target chain rejected the
	// settlement. The message is marked Failed and can be retried.
	ErrDeliveryFailed = errors.New("settlement execution failed on target chain")
	// ErrDeliveryOutcomeUnknown is returned when an attempt was interrupted
	// before its outcome was known. The message stays Pending and the next
	// attempt queries the target chain first.
	ErrDeliveryOutcomeUnknown = errors.New("settlement delivery outcome unknown")
	// ErrMissingSigner is returned by DeliverAuction when the daemon has no
	// relayer key.
	ErrMissingSigner = errors.New("relayer signing key not configured")
)

const (
	defaultAttemptTimeout  = 2 * time.Minute
	defaultMaxAttempts     = 5
	defaultRetryInterval   = 30 * time.Second
	defaultRetryRate       = 1
	defaultRetryWorkers    = 4
	defaultStatusCacheSize = 1024
)

// Config holds the parameters of the relay service.
type Config struct {
	Registry           *domain.ChainRegistry
	AuthorizedRelayers []common.Address
	// Signer is the relayer key of the daemon. It's optional and required
	// only by DeliverAuction and the retry worker.
	Signer domain.Signer
	// AttemptTimeout bounds a whole delivery attempt, target chain query
	// included.
	AttemptTimeout time.Duration
	// AttemptLease is how long an attempt claims a message. It must exceed
	// AttemptTimeout by at least one second since lease start times are
	// stored with second precision.
	AttemptLease        time.Duration
	MaxDeliveryAttempts int
	RetryInterval       time.Duration
	// RetryRate is the max number of deliveries per second, per chain pair,
	// made by the retry worker.
	RetryRate       int
	RetryWorkers    int
	StatusCacheSize int
	Now             func() time.Time
}

func (c *Config) validate() error {
	if c.Registry == nil {
		return fmt.Errorf("missing chain registry")
	}
	if len(c.AuthorizedRelayers) <= 0 {
		return fmt.Errorf("missing authorized relayers")
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = defaultAttemptTimeout
	}
	if c.AttemptLease <= 0 {
		c.AttemptLease = max(2*c.AttemptTimeout, c.AttemptTimeout+time.Second)
	}
	if c.AttemptLease < c.AttemptTimeout+time.Second {
		return fmt.Errorf(
			"attempt lease must exceed attempt timeout by at least 1s",
		)
	}
	if c.MaxDeliveryAttempts <= 0 {
		c.MaxDeliveryAttempts = defaultMaxAttempts
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = defaultRetryInterval
	}
	if c.RetryRate <= 0 {
		c.RetryRate = defaultRetryRate
	}
	if c.RetryWorkers <= 0 {
		c.RetryWorkers = defaultRetryWorkers
	}
	if c.StatusCacheSize <= 0 {
		c.StatusCacheSize = defaultStatusCacheSize
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return nil
}

// Service delivers settlement messages to their target chain exactly once.
type Service struct {
	repoManager ports.RepoManager
	auctionSvc  *auction.Service
	executor    ports.SettlementExecutor
	pubsub      *pubsub.Service
	cfg         Config

	// delivered messages never change again.
	statusCache *lru.Cache

	limiters *limiters
	lock     *sync.Mutex
	quit     chan struct{}
	wg       *sync.WaitGroup
	running  bool
}

func NewService(
	repoManager ports.RepoManager,
	auctionSvc *auction.Service,
	executor ports.SettlementExecutor,
	pubsubSvc *pubsub.Service,
	cfg Config,
) (*Service, error) {
	if repoManager == nil {
		return nil, fmt.Errorf("missing repo manager")
	}
	if auctionSvc == nil {
		return nil, fmt.Errorf("missing auction service")
	}
	if executor == nil {
		return nil, fmt.Errorf("missing settlement executor")
	}
	if pubsubSvc == nil {
		return nil, fmt.Errorf("missing pubsub service")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cache, err := lru.New(cfg.StatusCacheSize)
	if err != nil {
		return nil, err
	}

	return &Service{
		repoManager: repoManager,
		auctionSvc:  auctionSvc,
		executor:    executor,
		pubsub:      pubsubSvc,
		cfg:         cfg,
		statusCache: cache,
		limiters:    newLimiters(cfg.RetryRate),
		lock:        &sync.Mutex{},
		wg:          &sync.WaitGroup{},
	}, nil
}

// Deliver executes the signed settlement message on its target chain and
// records it as Delivered. Delivery is keyed by message hash: a message is
// executed at most once no matter how many times it is delivered.
func (s *Service) Deliver(
	ctx context.Context, signed domain.SignedSettlementMessage,
) (*domain.DeliveryReceipt, error) {
	hash := signed.Payload.Hash
	logger := log.WithField("message_hash", hash.Hex())

	signer, err := domain.VerifySignedMessage(signed, s.cfg.AuthorizedRelayers)
	if err != nil {
		logger.WithError(err).Warn("rejected settlement message")
		return nil, err
	}

	msg, err := s.repoManager.SettlementRepository().GetSettlement(ctx, hash)
	if err != nil {
		return nil, err
	}
	if msg.Payload.AuctionID != signed.Payload.AuctionID ||
		msg.Payload.TargetChainID != signed.Payload.TargetChainID {
		return nil, fmt.Errorf(
			"%w: signed payload differs from the recorded one",
			domain.ErrInvalidSettlement,
		)
	}
	if msg.IsDelivered() {
		return nil, domain.ErrAlreadyDelivered
	}

	chain, err := s.cfg.Registry.Route(
		msg.Payload.SourceChainID, msg.Payload.TargetChainID,
	)
	if err != nil {
		return nil, err
	}

	// The attempt deadline starts before its lease and is shorter than it.
	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
	defer cancel()

	attempt, err := s.beginAttempt(ctx, hash)
	if err != nil {
		return nil, err
	}
	logger = logger.WithFields(log.Fields{
		"auction_id":   msg.Payload.AuctionID,
		"target_chain": chain.ID,
		"attempt":      attempt.Attempts,
		"relayer":      signer.Hex(),
	})
	deliveryAttempts.WithLabelValues(pairLabel(msg.Payload)).Inc()

	// A previous attempt may have landed on chain without being recorded.
	if attempt.Attempts > 1 {
		res, err := s.executor.GetSettlement(attemptCtx, chain, hash)
		if err != nil {
			logger.WithError(err).Warn("failed to query target chain")
			return nil, s.markUnknown(ctx, *attempt, err)
		}
		if res.Executed {
			logger.Info("settlement found already executed on target chain")
			return s.markDelivered(ctx, *attempt, res.TxHash)
		}
	}

	txHash, err := s.executor.ExecuteSettlement(attemptCtx, chain, signed)
	if err != nil {
		if attemptCtx.Err() != nil {
			logger.WithError(err).Warn("settlement delivery interrupted")
			return nil, s.markUnknown(ctx, *attempt, err)
		}
		logger.WithError(err).Warn("settlement delivery failed")
		return nil, s.markFailed(ctx, *attempt, err)
	}

	receipt, err := s.markDelivered(ctx, *attempt, txHash)
	if err != nil {
		return nil, err
	}
	logger.WithField("tx_hash", txHash).Info("settlement delivered")
	return receipt, nil
}

// DeliverAuction signs the settlement message of the given auction with
// the daemon's relayer key and delivers it.
func (s *Service) DeliverAuction(
	ctx context.Context, auctionID uint64,
) (*domain.DeliveryReceipt, error) {
	msg, err := s.repoManager.SettlementRepository().
		GetSettlementByAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	return s.signAndDeliver(ctx, *msg)
}

// Status returns the delivery state of the message with the given hash.
func (s *Service) Status(
	ctx context.Context, hash common.Hash,
) (*domain.SettlementMessage, error) {
	if cached, ok := s.statusCache.Get(hash); ok {
		msg := cached.(domain.SettlementMessage)
		return &msg, nil
	}

	msg, err := s.repoManager.SettlementRepository().GetSettlement(ctx, hash)
	if err != nil {
		return nil, err
	}
	if msg.IsDelivered() {
		s.statusCache.Add(hash, *msg)
	}
	return msg, nil
}

// ListSettlements returns the messages with the given delivery status.
func (s *Service) ListSettlements(
	ctx context.Context, status domain.DeliveryStatus,
) ([]domain.SettlementMessage, error) {
	return s.repoManager.SettlementRepository().
		GetSettlementsByStatus(ctx, status)
}

func (s *Service) signAndDeliver(
	ctx context.Context, msg domain.SettlementMessage,
) (*domain.DeliveryReceipt, error) {
	if s.cfg.Signer == nil {
		return nil, ErrMissingSigner
	}
	signed, err := domain.SignSettlementMessage(&msg, s.cfg.Signer)
	if err != nil {
		return nil, err
	}
	return s.Deliver(ctx, *signed)
}

func (s *Service) beginAttempt(
	ctx context.Context, hash common.Hash,
) (*domain.SettlementMessage, error) {
	return s.updateSettlement(
		ctx, hash, func(m *domain.SettlementMessage) error {
			return m.BeginAttempt(s.cfg.Now(), s.cfg.AttemptLease)
		},
	)
}

// updateSettlement runs the given change of delivery state in a
// transaction and returns the updated message.
func (s *Service) updateSettlement(
	ctx context.Context, hash common.Hash,
	changeFn func(m *domain.SettlementMessage) error,
) (*domain.SettlementMessage, error) {
	res, err := s.repoManager.RunTransaction(
		ctx, false, func(ctx context.Context) (interface{}, error) {
			var msg *domain.SettlementMessage
			if err := s.repoManager.SettlementRepository().UpdateSettlement(
				ctx, hash,
				func(m *domain.SettlementMessage) (*domain.SettlementMessage, error) {
					if err := changeFn(m); err != nil {
						return nil, err
					}
					msg = m
					return m, nil
				},
			); err != nil {
				return nil, err
			}
			return msg, nil
		},
	)
	if err != nil {
		return nil, err
	}
	return res.(*domain.SettlementMessage), nil
}

// markDelivered records the delivery and settles the auction in a single
// transaction. It must complete even if the caller gave up meanwhile since
// the payout is already executed.
func (s *Service) markDelivered(
	ctx context.Context, attempt domain.SettlementMessage, txHash string,
) (*domain.DeliveryReceipt, error) {
	ctx = context.WithoutCancel(ctx)
	hash := attempt.Hash()

	res, err := s.repoManager.RunTransaction(
		ctx, false, func(ctx context.Context) (interface{}, error) {
			var msg *domain.SettlementMessage
			if err := s.repoManager.SettlementRepository().UpdateSettlement(
				ctx, hash,
				func(m *domain.SettlementMessage) (*domain.SettlementMessage, error) {
					if !m.MarkDelivered(txHash, s.cfg.Now()) {
						return nil, domain.ErrAlreadyDelivered
					}
					msg = m
					return m, nil
				},
			); err != nil {
				return nil, err
			}

			if _, err := s.auctionSvc.SettleAuction(
				ctx, msg.Payload.AuctionID,
			); err != nil {
				return nil, err
			}
			return msg, nil
		},
	)
	if err != nil {
		return nil, err
	}

	msg := res.(*domain.SettlementMessage)
	s.statusCache.Add(hash, *msg)
	deliveries.WithLabelValues(pairLabel(msg.Payload), "delivered").Inc()

	receipt := &domain.DeliveryReceipt{
		ID:            uuid.New().String(),
		MessageHash:   hash,
		SourceChainID: msg.Payload.SourceChainID,
		TargetChainID: msg.Payload.TargetChainID,
		TxHash:        msg.TxHash,
		Attempts:      msg.Attempts,
		DeliveredAt:   msg.DeliveredAt,
	}
	if err := s.pubsub.PublishSettlementDeliveredEvent(
		*receipt, msg.Payload.AuctionID,
	); err != nil {
		log.WithError(err).Warn("failed to publish settlement delivered event")
	}
	return receipt, nil
}

func (s *Service) markFailed(
	ctx context.Context, attempt domain.SettlementMessage, cause error,
) error {
	ctx = context.WithoutCancel(ctx)

	msg, err := s.updateSettlement(
		ctx, attempt.Hash(), func(m *domain.SettlementMessage) error {
			return m.MarkFailed(attempt.Attempts, cause.Error())
		},
	)
	if err != nil {
		return s.staleAttempt(err, ErrDeliveryFailed, cause)
	}

	deliveries.WithLabelValues(pairLabel(msg.Payload), "failed").Inc()
	if err := s.pubsub.PublishSettlementFailedEvent(*msg); err != nil {
		log.WithError(err).Warn("failed to publish settlement failed event")
	}
	return fmt.Errorf("%w: %s", ErrDeliveryFailed, cause)
}

func (s *Service) markUnknown(
	ctx context.Context, attempt domain.SettlementMessage, cause error,
) error {
	ctx = context.WithoutCancel(ctx)

	msg, err := s.updateSettlement(
		ctx, attempt.Hash(), func(m *domain.SettlementMessage) error {
			return m.MarkUnknown(attempt.Attempts, cause.Error())
		},
	)
	if err != nil {
		return s.staleAttempt(err, ErrDeliveryOutcomeUnknown, cause)
	}

	deliveries.WithLabelValues(pairLabel(msg.Payload), "unknown").Inc()
	return fmt.Errorf("%w: %s", ErrDeliveryOutcomeUnknown, cause)
}

// staleAttempt reports the outcome of an attempt superseded by a newer one,
// which owns the message state from then on.
func (s *Service) staleAttempt(err, outcome, cause error) error {
	if !errors.Is(err, domain.ErrStaleDeliveryAttempt) &&
		!errors.Is(err, domain.ErrAlreadyDelivered) {
		return err
	}
	log.WithError(err).Warn("outcome of superseded delivery attempt discarded")
	return fmt.Errorf("%w: %s: %s", outcome, cause, err)
}

func pairLabel(p domain.SettlementPayload) string {
	return domain.ChainPair{
		Source: p.SourceChainID, Target: p.TargetChainID,
	}.String()
}
