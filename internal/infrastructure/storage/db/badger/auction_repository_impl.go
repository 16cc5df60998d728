package dbbadger

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v3"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

const auctionSequenceKey = "auction_sequence"

type auctionRecord struct {
	ID      uint64
	Status  string `badgerhold:"index"`
	Auction domain.Auction
}

type auctionSequence struct {
	LastID uint64
}

type auctionRepositoryImpl struct {
	store *badgerhold.Store
}

// NewAuctionRepositoryImpl returns a badger implementation of
// domain.AuctionRepository.
func NewAuctionRepositoryImpl(store *badgerhold.Store) domain.AuctionRepository {
	return &auctionRepositoryImpl{store}
}

func (r *auctionRepositoryImpl) AddAuction(
	ctx context.Context, auction *domain.Auction,
) (uint64, error) {
	var id uint64
	if err := update(ctx, r.store, func(tx *badger.Txn) error {
		seq := auctionSequence{}
		if err := r.store.TxGet(tx, auctionSequenceKey, &seq); err != nil {
			if !errors.Is(err, badgerhold.ErrNotFound) {
				return err
			}
		}
		seq.LastID++

		if err := r.store.TxUpsert(tx, auctionSequenceKey, seq); err != nil {
			return err
		}

		a := *auction
		a.ID = seq.LastID
		if err := r.store.TxInsert(tx, a.ID, newAuctionRecord(a)); err != nil {
			return err
		}
		id = seq.LastID
		return nil
	}); err != nil {
		return 0, err
	}

	auction.ID = id
	return id, nil
}

func (r *auctionRepositoryImpl) GetAuction(
	ctx context.Context, id uint64,
) (*domain.Auction, error) {
	var auction *domain.Auction
	if err := view(ctx, r.store, func(tx *badger.Txn) (err error) {
		auction, err = r.getAuction(tx, id)
		return
	}); err != nil {
		return nil, err
	}
	return auction, nil
}

func (r *auctionRepositoryImpl) GetAllAuctions(
	ctx context.Context,
) ([]domain.Auction, error) {
	query := badgerhold.Where("ID").Ge(uint64(0)).SortBy("ID")
	return r.findAuctions(ctx, query)
}

func (r *auctionRepositoryImpl) GetAuctionsByStatus(
	ctx context.Context, status domain.AuctionStatus,
) ([]domain.Auction, error) {
	query := badgerhold.Where("Status").Eq(status.String()).
		Index("Status").
		SortBy("ID")
	return r.findAuctions(ctx, query)
}

func (r *auctionRepositoryImpl) UpdateAuction(
	ctx context.Context,
	id uint64, updateFn func(a *domain.Auction) (*domain.Auction, error),
) error {
	return update(ctx, r.store, func(tx *badger.Txn) error {
		auction, err := r.getAuction(tx, id)
		if err != nil {
			return err
		}

		updatedAuction, err := updateFn(auction)
		if err != nil {
			return err
		}

		return r.store.TxUpdate(tx, id, newAuctionRecord(*updatedAuction))
	})
}

func (r *auctionRepositoryImpl) getAuction(
	tx *badger.Txn, id uint64,
) (*domain.Auction, error) {
	record := auctionRecord{}
	if err := r.store.TxGet(tx, id, &record); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrAuctionNotFound
		}
		return nil, err
	}
	return &record.Auction, nil
}

func (r *auctionRepositoryImpl) findAuctions(
	ctx context.Context, query *badgerhold.Query,
) ([]domain.Auction, error) {
	records := make([]auctionRecord, 0)
	if err := view(ctx, r.store, func(tx *badger.Txn) error {
		return r.store.TxFind(tx, &records, query)
	}); err != nil {
		return nil, err
	}

	auctions := make([]domain.Auction, 0, len(records))
	for _, rec := range records {
		auctions = append(auctions, rec.Auction)
	}
	return auctions, nil
}

func newAuctionRecord(auction domain.Auction) auctionRecord {
	return auctionRecord{
		ID:      auction.ID,
		Status:  auction.Status.String(),
		Auction: auction,
	}
}
