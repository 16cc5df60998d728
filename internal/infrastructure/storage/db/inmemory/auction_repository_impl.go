package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/tdex-network/tdex-settlement/internal/core/domain"
)

type auctionInmemoryStore struct {
	auctions map[uint64]domain.Auction
	lastID   uint64
	locker   *sync.Mutex
}

type auctionRepositoryImpl struct {
	store *auctionInmemoryStore
}

// NewAuctionRepositoryImpl returns a new inmemory AuctionRepository
// implementation.
func NewAuctionRepositoryImpl(store *auctionInmemoryStore) domain.AuctionRepository {
	return &auctionRepositoryImpl{store}
}

func (r *auctionRepositoryImpl) AddAuction(
	_ context.Context, auction *domain.Auction,
) (uint64, error) {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	r.store.lastID++
	auction.ID = r.store.lastID
	r.store.auctions[auction.ID] = cloneAuction(*auction)
	return auction.ID, nil
}

func (r *auctionRepositoryImpl) GetAuction(
	_ context.Context, id uint64,
) (*domain.Auction, error) {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	return r.getAuction(id)
}

func (r *auctionRepositoryImpl) GetAllAuctions(
	_ context.Context,
) ([]domain.Auction, error) {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	return r.findAuctions(func(domain.Auction) bool { return true }), nil
}

func (r *auctionRepositoryImpl) GetAuctionsByStatus(
	_ context.Context, status domain.AuctionStatus,
) ([]domain.Auction, error) {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	return r.findAuctions(func(a domain.Auction) bool {
		return a.Status == status
	}), nil
}

func (r *auctionRepositoryImpl) UpdateAuction(
	_ context.Context,
	id uint64, updateFn func(a *domain.Auction) (*domain.Auction, error),
) error {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	auction, err := r.getAuction(id)
	if err != nil {
		return err
	}

	updatedAuction, err := updateFn(auction)
	if err != nil {
		return err
	}

	r.store.auctions[id] = cloneAuction(*updatedAuction)
	return nil
}

func (r *auctionRepositoryImpl) getAuction(id uint64) (*domain.Auction, error) {
	auction, ok := r.store.auctions[id]
	if !ok {
		return nil, domain.ErrAuctionNotFound
	}
	a := cloneAuction(auction)
	return &a, nil
}

func (r *auctionRepositoryImpl) findAuctions(
	filter func(domain.Auction) bool,
) []domain.Auction {
	auctions := make([]domain.Auction, 0)
	for _, a := range r.store.auctions {
		if filter(a) {
			auctions = append(auctions, cloneAuction(a))
		}
	}
	sort.Slice(auctions, func(i, j int) bool {
		return auctions[i].ID < auctions[j].ID
	})
	return auctions
}

func (s *auctionInmemoryStore) snapshot() func() {
	s.locker.Lock()
	defer s.locker.Unlock()

	auctions := make(map[uint64]domain.Auction, len(s.auctions))
	for k, v := range s.auctions {
		auctions[k] = cloneAuction(v)
	}
	lastID := s.lastID

	return func() {
		s.locker.Lock()
		defer s.locker.Unlock()

		s.auctions = auctions
		s.lastID = lastID
	}
}
