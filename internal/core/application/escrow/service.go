package escrow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-settlement/internal/core/application/pubsub"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
	"github.com/tdex-network/tdex-settlement/internal/core/ports"
)

// ErrUnbalancedLedger is returned when a transition would break the
// conservation of the deposits of an auction. It indicates a bug or a
// corrupted db and is never expected.
var ErrUnbalancedLedger = errors.New("escrow ledger is not balanced")

// Ledger is the report of the escrow entries of an auction.
type Ledger struct {
	domain.EscrowTotals
	TotalDeposited *big.Int
	Balanced       bool
}

// Service is the only writer of escrow entries.
type Service struct {
	repoManager ports.RepoManager
	pubsub      *pubsub.Service
	policy      domain.ForfeitPolicy
	now         func() time.Time
}

func NewService(
	repoManager ports.RepoManager, pubsubSvc *pubsub.Service,
	policy domain.ForfeitPolicy, now func() time.Time,
) (*Service, error) {
	if repoManager == nil {
		return nil, fmt.Errorf("missing repo manager")
	}
	if pubsubSvc == nil {
		return nil, fmt.Errorf("missing pubsub service")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &Service{repoManager, pubsubSvc, policy, now}, nil
}

// OpenEscrow creates the Held entry of an accepted bid. It joins the
// transaction carried by ctx, if any.
func (s *Service) OpenEscrow(
	ctx context.Context, bid domain.BidCommitment,
) (*domain.EscrowEntry, error) {
	entry, err := domain.NewEscrowEntry(bid, s.now())
	if err != nil {
		return nil, err
	}

	if _, err := s.repoManager.RunTransaction(
		ctx, false, func(ctx context.Context) (interface{}, error) {
			return nil, s.repoManager.EscrowRepository().AddEscrow(ctx, entry)
		},
	); err != nil {
		return nil, err
	}

	ports.AfterCommit(ctx, func() {
		escrowTransitions.WithLabelValues(domain.EscrowHeld.String()).Inc()
	})
	return entry, nil
}

func (s *Service) GetEscrow(
	ctx context.Context, address common.Address,
) (*domain.EscrowEntry, error) {
	return s.repoManager.EscrowRepository().GetEscrow(ctx, address)
}

func (s *Service) ListEscrows(
	ctx context.Context, auctionID uint64,
) ([]domain.EscrowEntry, error) {
	return s.repoManager.EscrowRepository().GetEscrowsByAuction(ctx, auctionID)
}

// Release moves the winning entry to Released and returns the amount
// counted toward settlement.
func (s *Service) Release(
	ctx context.Context, address common.Address,
) (*big.Int, error) {
	entry, err := s.transition(
		ctx, address,
		func(e *domain.EscrowEntry, a *domain.Auction, now time.Time) error {
			_, err := e.Release(a, now)
			return err
		},
	)
	if err != nil {
		return nil, err
	}
	return entry.Amount, nil
}

// Refund moves a non-winning entry to Refunded and returns the amount given
// back to the bidder.
func (s *Service) Refund(
	ctx context.Context, address common.Address,
) (*big.Int, error) {
	entry, err := s.transition(
		ctx, address,
		func(e *domain.EscrowEntry, a *domain.Auction, now time.Time) error {
			_, err := e.Refund(a, now)
			return err
		},
	)
	if err != nil {
		return nil, err
	}
	return entry.Amount, nil
}

// Forfeit moves a non-winning entry to Forfeited and disposes of its funds
// according to the configured policy.
func (s *Service) Forfeit(
	ctx context.Context, address common.Address, reason string,
) (*domain.ForfeitDisposition, error) {
	entry, err := s.transition(
		ctx, address,
		func(e *domain.EscrowEntry, a *domain.Auction, now time.Time) error {
			_, err := e.Forfeit(a, reason, s.policy, now)
			return err
		},
	)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"auction_id":  entry.AuctionID,
		"escrow":      entry.Address.Hex(),
		"bidder":      entry.Bidder.Hex(),
		"reason":      reason,
		"disposition": entry.Disposition.Kind,
	}).Warn("escrow forfeited")

	if err := s.pubsub.PublishEscrowForfeitedEvent(*entry); err != nil {
		log.WithError(err).Warn("failed to publish escrow forfeited event")
	}
	return entry.Disposition, nil
}

// FinalizeEscrows releases the winning entry and refunds all the others of
// a matched auction, or refunds all the entries of a cancelled one.
// Already finalized entries are skipped. It joins the transaction carried
// by ctx, if any.
func (s *Service) FinalizeEscrows(
	ctx context.Context, auctionID uint64,
) (*Ledger, error) {
	var finalized []domain.EscrowState
	res, err := s.repoManager.RunTransaction(
		ctx, false, func(ctx context.Context) (interface{}, error) {
			finalized = finalized[:0]

			auction, err := s.repoManager.AuctionRepository().
				GetAuction(ctx, auctionID)
			if err != nil {
				return nil, err
			}
			if !auction.IsEscrowUnlocked() {
				return nil, domain.ErrEscrowLocked
			}

			entries, err := s.repoManager.EscrowRepository().
				GetEscrowsByAuction(ctx, auctionID)
			if err != nil {
				return nil, err
			}

			now := s.now()
			for _, e := range entries {
				if e.State.IsFinal() {
					continue
				}
				if err := s.repoManager.EscrowRepository().UpdateEscrow(
					ctx, e.Address,
					func(e *domain.EscrowEntry) (*domain.EscrowEntry, error) {
						var err error
						if auction.Match != nil &&
							auction.Match.WinningEscrow == e.Address {
							_, err = e.Release(auction, now)
						} else {
							_, err = e.Refund(auction, now)
						}
						if err != nil {
							return nil, err
						}
						finalized = append(finalized, e.State)
						return e, nil
					},
				); err != nil {
					return nil, err
				}
			}

			return s.ledger(ctx, auction)
		},
	)
	if err != nil {
		return nil, err
	}

	ports.AfterCommit(ctx, func() {
		for _, state := range finalized {
			escrowTransitions.WithLabelValues(state.String()).Inc()
		}
	})
	return res.(*Ledger), nil
}

// Totals returns the per state sums of the escrow entries of an auction
// and whether they add up to the total deposited.
func (s *Service) Totals(ctx context.Context, auctionID uint64) (*Ledger, error) {
	res, err := s.repoManager.RunTransaction(
		ctx, true, func(ctx context.Context) (interface{}, error) {
			auction, err := s.repoManager.AuctionRepository().
				GetAuction(ctx, auctionID)
			if err != nil {
				return nil, err
			}
			return s.ledger(ctx, auction)
		},
	)
	if err != nil {
		return nil, err
	}
	return res.(*Ledger), nil
}

func (s *Service) transition(
	ctx context.Context, address common.Address,
	transitionFn func(*domain.EscrowEntry, *domain.Auction, time.Time) error,
) (*domain.EscrowEntry, error) {
	res, err := s.repoManager.RunTransaction(
		ctx, false, func(ctx context.Context) (interface{}, error) {
			entry, err := s.repoManager.EscrowRepository().GetEscrow(ctx, address)
			if err != nil {
				return nil, err
			}
			auction, err := s.repoManager.AuctionRepository().
				GetAuction(ctx, entry.AuctionID)
			if err != nil {
				return nil, err
			}

			var updated *domain.EscrowEntry
			if err := s.repoManager.EscrowRepository().UpdateEscrow(
				ctx, address,
				func(e *domain.EscrowEntry) (*domain.EscrowEntry, error) {
					if err := transitionFn(e, auction, s.now()); err != nil {
						return nil, err
					}
					updated = e
					return e, nil
				},
			); err != nil {
				return nil, err
			}

			ledger, err := s.ledger(ctx, auction)
			if err != nil {
				return nil, err
			}
			if !ledger.Balanced {
				return nil, fmt.Errorf(
					"%w: auction %d, deposited %s, accounted %s",
					ErrUnbalancedLedger, auction.ID, ledger.TotalDeposited,
					ledger.Sum(),
				)
			}
			return updated, nil
		},
	)
	if err != nil {
		return nil, err
	}

	entry := res.(*domain.EscrowEntry)
	ports.AfterCommit(ctx, func() {
		escrowTransitions.WithLabelValues(entry.State.String()).Inc()
	})
	log.WithFields(log.Fields{
		"auction_id": entry.AuctionID,
		"escrow":     entry.Address.Hex(),
		"state":      entry.State.String(),
	}).Debug("escrow entry finalized")
	return entry, nil
}

func (s *Service) ledger(
	ctx context.Context, auction *domain.Auction,
) (*Ledger, error) {
	entries, err := s.repoManager.EscrowRepository().
		GetEscrowsByAuction(ctx, auction.ID)
	if err != nil {
		return nil, err
	}
	totals := domain.ComputeEscrowTotals(auction.ID, entries)
	deposited := auction.TotalDeposits()
	return &Ledger{totals, deposited, totals.Balanced(deposited)}, nil
}
