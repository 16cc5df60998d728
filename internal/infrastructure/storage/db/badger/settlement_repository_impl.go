package dbbadger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type settlementRecord struct {
	Hash      string
	AuctionID uint64 `badgerhold:"index"`
	Status    string `badgerhold:"index"`
	Message   domain.SettlementMessage
}

// settlementAuctionKey points an auction to its settlement message.
type settlementAuctionKey struct {
	Hash string
}

type settlementRepositoryImpl struct {
	store *badgerhold.Store
}

// NewSettlementRepositoryImpl returns a badger implementation of
// domain.SettlementRepository.
func NewSettlementRepositoryImpl(
	store *badgerhold.Store,
) domain.SettlementRepository {
	return &settlementRepositoryImpl{store}
}

func (r *settlementRepositoryImpl) AddSettlement(
	ctx context.Context, msg *domain.SettlementMessage,
) error {
	return update(ctx, r.store, func(tx *badger.Txn) error {
		hash := msg.Hash().Hex()
		if err := r.store.TxInsert(
			tx, auctionKey(msg.Payload.AuctionID), settlementAuctionKey{hash},
		); err != nil {
			if errors.Is(err, badgerhold.ErrKeyExists) {
				return domain.ErrSettlementExists
			}
			return err
		}
		if err := r.store.TxInsert(tx, hash, newSettlementRecord(*msg)); err != nil {
			if errors.Is(err, badgerhold.ErrKeyExists) {
				return domain.ErrSettlementExists
			}
			return err
		}
		return nil
	})
}

func (r *settlementRepositoryImpl) GetSettlement(
	ctx context.Context, hash common.Hash,
) (*domain.SettlementMessage, error) {
	var msg *domain.SettlementMessage
	if err := view(ctx, r.store, func(tx *badger.Txn) (err error) {
		msg, err = r.getSettlement(tx, hash.Hex())
		return
	}); err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *settlementRepositoryImpl) GetSettlementByAuction(
	ctx context.Context, auctionID uint64,
) (*domain.SettlementMessage, error) {
	var msg *domain.SettlementMessage
	if err := view(ctx, r.store, func(tx *badger.Txn) error {
		key := settlementAuctionKey{}
		if err := r.store.TxGet(tx, auctionKey(auctionID), &key); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return domain.ErrSettlementNotFound
			}
			return err
		}

		m, err := r.getSettlement(tx, key.Hash)
		if err != nil {
			return err
		}
		msg = m
		return nil
	}); err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *settlementRepositoryImpl) GetSettlementsByStatus(
	ctx context.Context, status domain.DeliveryStatus,
) ([]domain.SettlementMessage, error) {
	query := badgerhold.Where("Status").Eq(status.String()).
		Index("Status").
		SortBy("AuctionID")

	records := make([]settlementRecord, 0)
	if err := view(ctx, r.store, func(tx *badger.Txn) error {
		return r.store.TxFind(tx, &records, query)
	}); err != nil {
		return nil, err
	}

	messages := make([]domain.SettlementMessage, 0, len(records))
	for _, rec := range records {
		messages = append(messages, rec.Message)
	}
	return messages, nil
}

func (r *settlementRepositoryImpl) UpdateSettlement(
	ctx context.Context,
	hash common.Hash,
	updateFn func(m *domain.SettlementMessage) (*domain.SettlementMessage, error),
) error {
	return update(ctx, r.store, func(tx *badger.Txn) error {
		msg, err := r.getSettlement(tx, hash.Hex())
		if err != nil {
			return err
		}

		updatedMsg, err := updateFn(msg)
		if err != nil {
			return err
		}

		return r.store.TxUpdate(tx, hash.Hex(), newSettlementRecord(*updatedMsg))
	})
}

func (r *settlementRepositoryImpl) getSettlement(
	tx *badger.Txn, hash string,
) (*domain.SettlementMessage, error) {
	record := settlementRecord{}
	if err := r.store.TxGet(tx, hash, &record); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrSettlementNotFound
		}
		return nil, err
	}
	return &record.Message, nil
}

func newSettlementRecord(msg domain.SettlementMessage) settlementRecord {
	return settlementRecord{
		Hash:      msg.Hash().Hex(),
		AuctionID: msg.Payload.AuctionID,
		Status:    msg.Status.String(),
		Message:   msg,
	}
}

func auctionKey(auctionID uint64) string {
	return fmt.Sprintf("auction:%d", auctionID)
}
