package inmemory

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
)

type complianceInmemoryStore struct {
	records map[common.Address]domain.ComplianceRecord
	locker  *sync.Mutex
}

type complianceRepositoryImpl struct {
	store *complianceInmemoryStore
}

// NewComplianceRepositoryImpl returns a new inmemory ComplianceRepository
// implementation.
func NewComplianceRepositoryImpl(
	store *complianceInmemoryStore,
) domain.ComplianceRepository {
	return &complianceRepositoryImpl{store}
}

func (r *complianceRepositoryImpl) UpsertComplianceRecord(
	_ context.Context, record *domain.ComplianceRecord,
) error {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	if current, ok := r.store.records[record.Participant]; ok &&
		!record.Supersedes(&current) {
		return domain.ErrStaleComplianceOutcome
	}
	r.store.records[record.Participant] = *record
	return nil
}

func (r *complianceRepositoryImpl) GetComplianceRecord(
	_ context.Context, participant common.Address,
) (*domain.ComplianceRecord, error) {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	record, ok := r.store.records[participant]
	if !ok {
		return nil, domain.ErrComplianceRecordNotFound
	}
	return &record, nil
}

func (s *complianceInmemoryStore) snapshot() func() {
	s.locker.Lock()
	defer s.locker.Unlock()

	records := make(map[common.Address]domain.ComplianceRecord, len(s.records))
	for k, v := range s.records {
		records[k] = v
	}

	return func() {
		s.locker.Lock()
		defer s.locker.Unlock()

		s.records = records
	}
}
