package auction

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-settlement/internal/core/application/compliance"
	"github.com/tdex-network/tdex-settlement/internal/core/application/escrow"
	"github.com/tdex-network/tdex-settlement/internal/core/application/pubsub"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
	"github.com/tdex-network/tdex-settlement/internal/core/ports"
)

const (
	readOnlyTx = true

	defaultSweepInterval = 10 * time.Second
)

// Config holds the parameters of the auction service.
type Config struct {
	Verifier *domain.AttestationVerifier
	Policy   domain.MeasurementPolicy
	// AutoFinalizeEscrows makes matching release the winning escrow and
	// refund all the others, and cancelling refund every escrow, in the same
	// transaction of the auction transition.
	AutoFinalizeEscrows bool
	SweepInterval       time.Duration
	Now                 func() time.Time
}

// Service drives the lifecycle of sealed-bid auctions.
type Service struct {
	repoManager   ports.RepoManager
	escrowSvc     *escrow.Service
	complianceSvc *compliance.Service
	pubsub        *pubsub.Service

	verifier      *domain.AttestationVerifier
	policy        domain.MeasurementPolicy
	autoFinalize  bool
	sweepInterval time.Duration
	now           func() time.Time

	lock    *sync.Mutex
	quit    chan struct{}
	wg      *sync.WaitGroup
	running bool
}

func NewService(
	repoManager ports.RepoManager,
	escrowSvc *escrow.Service,
	complianceSvc *compliance.Service,
	pubsubSvc *pubsub.Service,
	cfg Config,
) (*Service, error) {
	if repoManager == nil {
		return nil, fmt.Errorf("missing repo manager")
	}
	if escrowSvc == nil {
		return nil, fmt.Errorf("missing escrow service")
	}
	if complianceSvc == nil {
		return nil, fmt.Errorf("missing compliance service")
	}
	if pubsubSvc == nil {
		return nil, fmt.Errorf("missing pubsub service")
	}
	if cfg.Verifier == nil {
		return nil, fmt.Errorf("missing attestation verifier")
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Service{
		repoManager:   repoManager,
		escrowSvc:     escrowSvc,
		complianceSvc: complianceSvc,
		pubsub:        pubsubSvc,
		verifier:      cfg.Verifier,
		policy:        cfg.Policy,
		autoFinalize:  cfg.AutoFinalizeEscrows,
		sweepInterval: cfg.SweepInterval,
		now:           cfg.Now,
		lock:          &sync.Mutex{},
		wg:            &sync.WaitGroup{},
	}, nil
}

// OpenAuction creates a new Open auction and returns it with its assigned
// identifier.
func (s *Service) OpenAuction(
	ctx context.Context, params domain.AuctionParams,
) (*domain.Auction, error) {
	auction, err := domain.NewAuction(params, s.now())
	if err != nil {
		return nil, err
	}

	res, err := s.repoManager.RunTransaction(
		ctx, !readOnlyTx, func(ctx context.Context) (interface{}, error) {
			return s.repoManager.AuctionRepository().AddAuction(ctx, auction)
		},
	)
	if err != nil {
		return nil, err
	}
	id := res.(uint64)
	auction.ID = id

	auctionsOpened.Inc()
	log.WithFields(log.Fields{
		"auction_id":   id,
		"asset_token":  auction.AssetToken.Hex(),
		"source_chain": auction.SourceChainID,
		"target_chain": auction.TargetChainID,
		"deadline":     time.Unix(auction.BiddingDeadline, 0).UTC(),
	}).Info("auction opened")
	return auction, nil
}

// SubmitBid records the bid commitment and opens its escrow entry in a
// single transaction. Bidders of auctions requiring compliance must hold a
// valid clearance.
func (s *Service) SubmitBid(
	ctx context.Context, bid domain.BidCommitment,
) (*domain.BidCommitment, error) {
	res, err := s.repoManager.RunTransaction(
		ctx, !readOnlyTx, func(ctx context.Context) (interface{}, error) {
			auction, err := s.repoManager.AuctionRepository().
				GetAuction(ctx, bid.AuctionID)
			if err != nil {
				return nil, err
			}

			if auction.RequireCompliance {
				cleared, err := s.complianceSvc.IsCleared(ctx, bid.Bidder)
				if err != nil {
					return nil, err
				}
				if !cleared {
					return nil, fmt.Errorf(
						"%w: %s", domain.ErrNotCompliant, bid.Bidder.Hex(),
					)
				}
			}

			var accepted *domain.BidCommitment
			if err := s.repoManager.AuctionRepository().UpdateAuction(
				ctx, auction.ID,
				func(a *domain.Auction) (*domain.Auction, error) {
					b, err := a.AddBid(bid, s.now())
					if err != nil {
						return nil, err
					}
					accepted = b
					return a, nil
				},
			); err != nil {
				return nil, err
			}

			if _, err := s.escrowSvc.OpenEscrow(ctx, *accepted); err != nil {
				return nil, err
			}
			return accepted, nil
		},
	)
	if err != nil {
		if domain.IsAttestationError(err) {
			log.WithError(err).WithFields(log.Fields{
				"auction_id": bid.AuctionID,
				"bidder":     bid.Bidder.Hex(),
			}).Warn("rejected bid")
		}
		bidsRejected.Inc()
		return nil, err
	}

	accepted := res.(*domain.BidCommitment)
	bidsAccepted.Inc()
	log.WithFields(log.Fields{
		"auction_id": accepted.AuctionID,
		"bid_id":     accepted.ID.Hex(),
		"escrow":     accepted.EscrowAddress.Hex(),
	}).Debug("bid accepted")
	return accepted, nil
}

// CloseAuction stops an Open auction from accepting further bids. Closing a
// Closed auction is a no-op.
func (s *Service) CloseAuction(ctx context.Context, id uint64) error {
	closed, err := s.transition(ctx, id, func(a *domain.Auction) (bool, error) {
		return a.Close(s.now())
	})
	if err != nil {
		return err
	}

	if closed {
		log.WithField("auction_id", id).Info("auction closed")
	}
	return nil
}

// MatchAuction records the attested winner of a Closed auction and creates
// its Pending settlement message in a single transaction. The result hash
// attested by the enclave is checked against the one recomputed from the
// recorded bids, never against one supplied by the caller.
func (s *Service) MatchAuction(
	ctx context.Context, id uint64,
	claim domain.MatchClaim, att domain.Attestation,
) (*domain.MatchResult, *domain.SettlementMessage, error) {
	type matched struct {
		auction *domain.Auction
		msg     *domain.SettlementMessage
	}

	res, err := s.repoManager.RunTransaction(
		ctx, !readOnlyTx, func(ctx context.Context) (interface{}, error) {
			var msg *domain.SettlementMessage
			var auction *domain.Auction

			if err := s.repoManager.AuctionRepository().UpdateAuction(
				ctx, id, func(a *domain.Auction) (*domain.Auction, error) {
					if err := a.ValidateMatchClaim(claim); err != nil {
						return nil, err
					}
					resultHash, err := a.ExpectedResultHash(claim)
					if err != nil {
						return nil, err
					}
					verified, err := s.verifier.Verify(att, s.policy, resultHash)
					if err != nil {
						log.WithError(err).WithFields(log.Fields{
							"auction_id":    a.ID,
							"measurement":   att.EnclaveMeasurement.Hex(),
							"attested_hash": att.ResultHash.Hex(),
							"expected_hash": resultHash.Hex(),
						}).Warn("rejected match attestation")
						return nil, err
					}

					match, err := a.RecordMatch(claim, verified, s.now())
					if err != nil {
						return nil, err
					}
					msg, err = domain.BuildSettlementMessage(a, match, verified)
					if err != nil {
						return nil, err
					}
					auction = a
					return a, nil
				},
			); err != nil {
				return nil, err
			}

			if err := s.repoManager.SettlementRepository().
				AddSettlement(ctx, msg); err != nil {
				return nil, err
			}

			if s.autoFinalize {
				if _, err := s.escrowSvc.FinalizeEscrows(ctx, id); err != nil {
					return nil, err
				}
			}
			return matched{auction, msg}, nil
		},
	)
	if err != nil {
		return nil, nil, err
	}

	m := res.(matched)
	auctionsMatched.Inc()
	log.WithFields(log.Fields{
		"auction_id":   id,
		"winner":       m.auction.Match.Winner.Hex(),
		"price":        m.auction.Match.WinningPrice.String(),
		"message_hash": m.msg.Hash().Hex(),
	}).Info("auction matched")

	if err := s.pubsub.PublishAuctionMatchedEvent(*m.auction, *m.msg); err != nil {
		log.WithError(err).Warn("failed to publish auction matched event")
	}
	return m.auction.Match, m.msg, nil
}

// SettleAuction brings a Matched auction to Settled and returns whether the
// status changed. It joins the transaction carried by ctx, if any.
func (s *Service) SettleAuction(ctx context.Context, id uint64) (bool, error) {
	settled, err := s.transition(ctx, id, func(a *domain.Auction) (bool, error) {
		return a.Settle(s.now())
	})
	if err != nil {
		return false, err
	}

	if settled {
		ports.AfterCommit(ctx, auctionsSettled.Inc)
		log.WithField("auction_id", id).Info("auction settled")
	}
	return settled, nil
}

// CancelAuction brings an Open or Closed auction to Cancelled.
func (s *Service) CancelAuction(
	ctx context.Context, id uint64, reason string,
) error {
	if _, err := s.repoManager.RunTransaction(
		ctx, !readOnlyTx, func(ctx context.Context) (interface{}, error) {
			if err := s.repoManager.AuctionRepository().UpdateAuction(
				ctx, id, func(a *domain.Auction) (*domain.Auction, error) {
					if err := a.Cancel(reason, s.now()); err != nil {
						return nil, err
					}
					return a, nil
				},
			); err != nil {
				return nil, err
			}

			if s.autoFinalize {
				if _, err := s.escrowSvc.FinalizeEscrows(ctx, id); err != nil {
					return nil, err
				}
			}
			return nil, nil
		},
	); err != nil {
		return err
	}

	auctionsCancelled.Inc()
	log.WithFields(log.Fields{
		"auction_id": id,
		"reason":     reason,
	}).Info("auction cancelled")
	return nil
}

// transition applies an idempotent status change in a transaction and
// returns whether the status changed.
func (s *Service) transition(
	ctx context.Context, id uint64,
	transitionFn func(a *domain.Auction) (bool, error),
) (bool, error) {
	res, err := s.repoManager.RunTransaction(
		ctx, !readOnlyTx, func(ctx context.Context) (interface{}, error) {
			var changed bool
			if err := s.repoManager.AuctionRepository().UpdateAuction(
				ctx, id, func(a *domain.Auction) (*domain.Auction, error) {
					ok, err := transitionFn(a)
					if err != nil {
						return nil, err
					}
					changed = ok
					return a, nil
				},
			); err != nil {
				return nil, err
			}
			return changed, nil
		},
	)
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

func (s *Service) GetAuction(
	ctx context.Context, id uint64,
) (*domain.Auction, error) {
	return s.repoManager.AuctionRepository().GetAuction(ctx, id)
}

func (s *Service) GetAuctionStatus(
	ctx context.Context, id uint64,
) (domain.AuctionStatus, error) {
	auction, err := s.repoManager.AuctionRepository().GetAuction(ctx, id)
	if err != nil {
		return domain.AuctionStatus{}, err
	}
	return auction.Status, nil
}

// ListAuctions returns all auctions, or only those with the given status if
// not nil.
func (s *Service) ListAuctions(
	ctx context.Context, status *domain.AuctionStatus,
) ([]domain.Auction, error) {
	if status != nil {
		return s.repoManager.AuctionRepository().GetAuctionsByStatus(ctx, *status)
	}
	return s.repoManager.AuctionRepository().GetAllAuctions(ctx)
}

// Start runs the deadline sweeper in background.
func (s *Service) Start() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.quit = make(chan struct{})

	s.wg.Add(1)
	go s.sweepLoop()
	log.Debug("auction deadline sweeper started")
}

// Stop stops the deadline sweeper and waits for it to return.
func (s *Service) Stop() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.running {
		return
	}
	close(s.quit)
	s.wg.Wait()
	s.running = false
	log.Debug("auction deadline sweeper stopped")
}

func (s *Service) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			if err := s.SweepExpiredAuctions(context.Background()); err != nil {
				log.WithError(err).Warn("failed to sweep expired auctions")
			}
		}
	}
}

// SweepExpiredAuctions closes the Open auctions whose bidding deadline has
// passed, and cancels those that received no bid.
func (s *Service) SweepExpiredAuctions(ctx context.Context) error {
	auctions, err := s.repoManager.AuctionRepository().
		GetAuctionsByStatus(ctx, domain.AuctionOpen)
	if err != nil {
		return err
	}

	now := s.now()
	for _, a := range auctions {
		if !a.IsExpired(now) {
			continue
		}

		if len(a.Bids) <= 0 {
			err = s.CancelAuction(ctx, a.ID, "no bids before deadline")
		} else {
			err = s.CloseAuction(ctx, a.ID)
		}
		if err != nil && !domain.IsStateError(err) {
			log.WithError(err).WithField("auction_id", a.ID).
				Warn("failed to finalize expired auction")
		}
	}
	return nil
}
