package dbbadger

import (
	"context"
	"errors"
	"sort"

	"github.com/dgraph-io/badger/v3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type escrowRecord struct {
	Address   string
	AuctionID uint64 `badgerhold:"index"`
	CreatedAt int64
	Entry     domain.EscrowEntry
}

type escrowRepositoryImpl struct {
	store *badgerhold.Store
}

// NewEscrowRepositoryImpl returns a badger implementation of
// domain.EscrowRepository.
func NewEscrowRepositoryImpl(store *badgerhold.Store) domain.EscrowRepository {
	return &escrowRepositoryImpl{store}
}

func (r *escrowRepositoryImpl) AddEscrow(
	ctx context.Context, entry *domain.EscrowEntry,
) error {
	return update(ctx, r.store, func(tx *badger.Txn) error {
		key := entry.Address.Hex()
		if err := r.store.TxInsert(tx, key, newEscrowRecord(*entry)); err != nil {
			if errors.Is(err, badgerhold.ErrKeyExists) {
				return domain.ErrDuplicateEscrow
			}
			return err
		}
		return nil
	})
}

func (r *escrowRepositoryImpl) GetEscrow(
	ctx context.Context, address common.Address,
) (*domain.EscrowEntry, error) {
	var entry *domain.EscrowEntry
	if err := view(ctx, r.store, func(tx *badger.Txn) (err error) {
		entry, err = r.getEscrow(tx, address)
		return
	}); err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *escrowRepositoryImpl) GetEscrowsByAuction(
	ctx context.Context, auctionID uint64,
) ([]domain.EscrowEntry, error) {
	query := badgerhold.Where("AuctionID").Eq(auctionID).Index("AuctionID")

	records := make([]escrowRecord, 0)
	if err := view(ctx, r.store, func(tx *badger.Txn) error {
		return r.store.TxFind(tx, &records, query)
	}); err != nil {
		return nil, err
	}

	// badgerhold can't sort on a non-key field of an index scan.
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt != records[j].CreatedAt {
			return records[i].CreatedAt < records[j].CreatedAt
		}
		return records[i].Address < records[j].Address
	})

	entries := make([]domain.EscrowEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, rec.Entry)
	}
	return entries, nil
}

func (r *escrowRepositoryImpl) UpdateEscrow(
	ctx context.Context,
	address common.Address,
	updateFn func(e *domain.EscrowEntry) (*domain.EscrowEntry, error),
) error {
	return update(ctx, r.store, func(tx *badger.Txn) error {
		entry, err := r.getEscrow(tx, address)
		if err != nil {
			return err
		}

		updatedEntry, err := updateFn(entry)
		if err != nil {
			return err
		}

		return r.store.TxUpdate(tx, address.Hex(), newEscrowRecord(*updatedEntry))
	})
}

func (r *escrowRepositoryImpl) getEscrow(
	tx *badger.Txn, address common.Address,
) (*domain.EscrowEntry, error) {
	record := escrowRecord{}
	if err := r.store.TxGet(tx, address.Hex(), &record); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrEscrowNotFound
		}
		return nil, err
	}
	return &record.Entry, nil
}

func newEscrowRecord(entry domain.EscrowEntry) escrowRecord {
	return escrowRecord{
		Address:   entry.Address.Hex(),
		AuctionID: entry.AuctionID,
		CreatedAt: entry.CreatedAt,
		Entry:     entry,
	}
}
