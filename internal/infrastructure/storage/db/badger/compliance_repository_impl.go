package dbbadger

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type complianceRecord struct {
	Participant string
	Record      domain.ComplianceRecord
}

type complianceRepositoryImpl struct {
	store *badgerhold.Store
}

// NewComplianceRepositoryImpl returns a badger implementation of
// domain.ComplianceRepository.
func NewComplianceRepositoryImpl(
	store *badgerhold.Store,
) domain.ComplianceRepository {
	return &complianceRepositoryImpl{store}
}

func (r *complianceRepositoryImpl) UpsertComplianceRecord(
	ctx context.Context, record *domain.ComplianceRecord,
) error {
	return update(ctx, r.store, func(tx *badger.Txn) error {
		key := record.Participant.Hex()

		current := complianceRecord{}
		err := r.store.TxGet(tx, key, &current)
		if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
			return err
		}
		if err == nil && !record.Supersedes(&current.Record) {
			return domain.ErrStaleComplianceOutcome
		}
		return r.store.TxUpsert(tx, key, complianceRecord{key, *record})
	})
}

func (r *complianceRepositoryImpl) GetComplianceRecord(
	ctx context.Context, participant common.Address,
) (*domain.ComplianceRecord, error) {
	record := complianceRecord{}
	if err := view(ctx, r.store, func(tx *badger.Txn) error {
		return r.store.TxGet(tx, participant.Hex(), &record)
	}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrComplianceRecordNotFound
		}
		return nil, err
	}
	return &record.Record, nil
}
