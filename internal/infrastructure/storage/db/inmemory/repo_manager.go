package inmemory

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
	"github.com/tdex-network/tdex-settlement/internal/core/ports"
)

type txKey struct{}

type repoManager struct {
	auctionStore    *auctionInmemoryStore
	escrowStore     *escrowInmemoryStore
	settlementStore *settlementInmemoryStore
	complianceStore *complianceInmemoryStore

	auctionRepository    domain.AuctionRepository
	escrowRepository     domain.EscrowRepository
	settlementRepository domain.SettlementRepository
	complianceRepository domain.ComplianceRepository

	txLock *sync.Mutex
}

// NewRepoManager returns an in-memory RepoManager. Transactions are
// serialized by a global lock and any change made by a failing handler is
// rolled back to the snapshot taken when the transaction started.
func NewRepoManager() ports.RepoManager {
	auctionStore := &auctionInmemoryStore{
		auctions: make(map[uint64]domain.Auction),
		locker:   &sync.Mutex{},
	}
	escrowStore := &escrowInmemoryStore{
		entries: make(map[common.Address]domain.EscrowEntry),
		locker:  &sync.Mutex{},
	}
	settlementStore := &settlementInmemoryStore{
		messages:  make(map[common.Hash]domain.SettlementMessage),
		byAuction: make(map[uint64]common.Hash),
		locker:    &sync.Mutex{},
	}
	complianceStore := &complianceInmemoryStore{
		records: make(map[common.Address]domain.ComplianceRecord),
		locker:  &sync.Mutex{},
	}

	return &repoManager{
		auctionStore:         auctionStore,
		escrowStore:          escrowStore,
		settlementStore:      settlementStore,
		complianceStore:      complianceStore,
		auctionRepository:    NewAuctionRepositoryImpl(auctionStore),
		escrowRepository:     NewEscrowRepositoryImpl(escrowStore),
		settlementRepository: NewSettlementRepositoryImpl(settlementStore),
		complianceRepository: NewComplianceRepositoryImpl(complianceStore),
		txLock:               &sync.Mutex{},
	}
}

func (r *repoManager) AuctionRepository() domain.AuctionRepository {
	return r.auctionRepository
}

func (r *repoManager) EscrowRepository() domain.EscrowRepository {
	return r.escrowRepository
}

func (r *repoManager) SettlementRepository() domain.SettlementRepository {
	return r.settlementRepository
}

func (r *repoManager) ComplianceRepository() domain.ComplianceRepository {
	return r.complianceRepository
}

func (r *repoManager) RunTransaction(
	ctx context.Context,
	readOnly bool,
	handler func(ctx context.Context) (interface{}, error),
) (interface{}, error) {
	// Nested transactions join the outer one.
	if ctx.Value(txKey{}) != nil {
		return handler(ctx)
	}

	ctx, runHooks := ports.WithCommitHooks(ctx)
	res, err := r.runTransaction(
		context.WithValue(ctx, txKey{}, true), readOnly, handler,
	)
	if err != nil {
		return nil, err
	}
	runHooks()
	return res, nil
}

func (r *repoManager) runTransaction(
	ctx context.Context,
	readOnly bool,
	handler func(ctx context.Context) (interface{}, error),
) (interface{}, error) {
	r.txLock.Lock()
	defer r.txLock.Unlock()

	if readOnly {
		return handler(ctx)
	}

	rollbacks := []func(){
		r.auctionStore.snapshot(),
		r.escrowStore.snapshot(),
		r.settlementStore.snapshot(),
		r.complianceStore.snapshot(),
	}

	res, err := handler(ctx)
	if err != nil {
		for _, rollback := range rollbacks {
			rollback()
		}
		return nil, err
	}
	return res, nil
}

func (r *repoManager) Close() {}
