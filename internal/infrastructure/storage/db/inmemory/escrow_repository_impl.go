package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
)

type escrowInmemoryStore struct {
	entries map[common.Address]domain.EscrowEntry
	locker  *sync.Mutex
}

type escrowRepositoryImpl struct {
	store *escrowInmemoryStore
}

// NewEscrowRepositoryImpl returns a new inmemory EscrowRepository
// implementation.
func NewEscrowRepositoryImpl(store *escrowInmemoryStore) domain.EscrowRepository {
	return &escrowRepositoryImpl{store}
}

func (r *escrowRepositoryImpl) AddEscrow(
	_ context.Context, entry *domain.EscrowEntry,
) error {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	if _, ok := r.store.entries[entry.Address]; ok {
		return domain.ErrDuplicateEscrow
	}
	r.store.entries[entry.Address] = cloneEscrow(*entry)
	return nil
}

func (r *escrowRepositoryImpl) GetEscrow(
	_ context.Context, address common.Address,
) (*domain.EscrowEntry, error) {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	return r.getEscrow(address)
}

func (r *escrowRepositoryImpl) GetEscrowsByAuction(
	_ context.Context, auctionID uint64,
) ([]domain.EscrowEntry, error) {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	entries := make([]domain.EscrowEntry, 0)
	for _, e := range r.store.entries {
		if e.AuctionID == auctionID {
			entries = append(entries, cloneEscrow(e))
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt < entries[j].CreatedAt ||
			(entries[i].CreatedAt == entries[j].CreatedAt &&
				entries[i].Address.Cmp(entries[j].Address) < 0)
	})
	return entries, nil
}

func (r *escrowRepositoryImpl) UpdateEscrow(
	_ context.Context,
	address common.Address,
	updateFn func(e *domain.EscrowEntry) (*domain.EscrowEntry, error),
) error {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	entry, err := r.getEscrow(address)
	if err != nil {
		return err
	}

	updatedEntry, err := updateFn(entry)
	if err != nil {
		return err
	}

	r.store.entries[address] = cloneEscrow(*updatedEntry)
	return nil
}

func (r *escrowRepositoryImpl) getEscrow(
	address common.Address,
) (*domain.EscrowEntry, error) {
	entry, ok := r.store.entries[address]
	if !ok {
		return nil, domain.ErrEscrowNotFound
	}
	e := cloneEscrow(entry)
	return &e, nil
}

func (s *escrowInmemoryStore) snapshot() func() {
	s.locker.Lock()
	defer s.locker.Unlock()

	entries := make(map[common.Address]domain.EscrowEntry, len(s.entries))
	for k, v := range s.entries {
		entries[k] = cloneEscrow(v)
	}

	return func() {
		s.locker.Lock()
		defer s.locker.Unlock()

		s.entries = entries
	}
}
