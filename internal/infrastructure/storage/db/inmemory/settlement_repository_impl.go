package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
)

type settlementInmemoryStore struct {
	messages  map[common.Hash]domain.SettlementMessage
	byAuction map[uint64]common.Hash
	locker    *sync.Mutex
}

type settlementRepositoryImpl struct {
	store *settlementInmemoryStore
}

// NewSettlementRepositoryImpl returns a new inmemory SettlementRepository
// implementation.
func NewSettlementRepositoryImpl(
	store *settlementInmemoryStore,
) domain.SettlementRepository {
	return &settlementRepositoryImpl{store}
}

func (r *settlementRepositoryImpl) AddSettlement(
	_ context.Context, msg *domain.SettlementMessage,
) error {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	hash := msg.Hash()
	if _, ok := r.store.messages[hash]; ok {
		return domain.ErrSettlementExists
	}
	if _, ok := r.store.byAuction[msg.Payload.AuctionID]; ok {
		return domain.ErrSettlementExists
	}
	r.store.messages[hash] = cloneSettlement(*msg)
	r.store.byAuction[msg.Payload.AuctionID] = hash
	return nil
}

func (r *settlementRepositoryImpl) GetSettlement(
	_ context.Context, hash common.Hash,
) (*domain.SettlementMessage, error) {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	return r.getSettlement(hash)
}

func (r *settlementRepositoryImpl) GetSettlementByAuction(
	_ context.Context, auctionID uint64,
) (*domain.SettlementMessage, error) {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	hash, ok := r.store.byAuction[auctionID]
	if !ok {
		return nil, domain.ErrSettlementNotFound
	}
	return r.getSettlement(hash)
}

func (r *settlementRepositoryImpl) GetSettlementsByStatus(
	_ context.Context, status domain.DeliveryStatus,
) ([]domain.SettlementMessage, error) {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	messages := make([]domain.SettlementMessage, 0)
	for _, m := range r.store.messages {
		if m.Status == status {
			messages = append(messages, cloneSettlement(m))
		}
	}
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].Payload.AuctionID < messages[j].Payload.AuctionID
	})
	return messages, nil
}

func (r *settlementRepositoryImpl) UpdateSettlement(
	_ context.Context,
	hash common.Hash,
	updateFn func(m *domain.SettlementMessage) (*domain.SettlementMessage, error),
) error {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	msg, err := r.getSettlement(hash)
	if err != nil {
		return err
	}

	updatedMsg, err := updateFn(msg)
	if err != nil {
		return err
	}

	r.store.messages[hash] = cloneSettlement(*updatedMsg)
	return nil
}

func (r *settlementRepositoryImpl) getSettlement(
	hash common.Hash,
) (*domain.SettlementMessage, error) {
	msg, ok := r.store.messages[hash]
	if !ok {
		return nil, domain.ErrSettlementNotFound
	}
	m := cloneSettlement(msg)
	return &m, nil
}

func (s *settlementInmemoryStore) snapshot() func() {
	s.locker.Lock()
	defer s.locker.Unlock()

	messages := make(map[common.Hash]domain.SettlementMessage, len(s.messages))
	for k, v := range s.messages {
		messages[k] = cloneSettlement(v)
	}
	byAuction := make(map[uint64]common.Hash, len(s.byAuction))
	for k, v := range s.byAuction {
		byAuction[k] = v
	}

	return func() {
		s.locker.Lock()
		defer s.locker.Unlock()

		s.messages = messages
		s.byAuction = byAuction
	}
}
