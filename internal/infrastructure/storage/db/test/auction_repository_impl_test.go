package db_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
)

func TestAuctionRepositoryImplementations(t *testing.T) {
	repositories := createRepoManagers(t)

	for i := range repositories {
		repo := repositories[i]

		t.Run(repo.Name, func(t *testing.T) {
			t.Run("testAddAndGetAuction", func(t *testing.T) {
				testAddAndGetAuction(t, repo)
			})

			t.Run("testUpdateAuction", func(t *testing.T) {
				testUpdateAuction(t, repo)
			})

			t.Run("testGetAuctionsByStatus", func(t *testing.T) {
				testGetAuctionsByStatus(t, repo)
			})

			t.Run("testWriteRollback", func(t *testing.T) {
				testWriteRollback(t, repo)
			})
		})
	}
}

func testAddAndGetAuction(t *testing.T, repo repoManager) {
	auctionRepo := repo.DBManager.AuctionRepository()

	_, err := repo.read(func(ctx context.Context) (interface{}, error) {
		return auctionRepo.GetAuction(ctx, 1_000_000)
	})
	require.ErrorIs(t, err, domain.ErrAuctionNotFound)

	ids := make([]uint64, 0, 3)
	for i := 0; i < 3; i++ {
		auction := makeRandomAuction()
		iID, err := repo.write(func(ctx context.Context) (interface{}, error) {
			return auctionRepo.AddAuction(ctx, auction)
		})
		require.NoError(t, err)

		id := iID.(uint64)
		require.Equal(t, id, auction.ID)
		if len(ids) > 0 {
			require.Greater(t, id, ids[len(ids)-1])
		}
		ids = append(ids, id)
	}

	iAuction, err := repo.read(func(ctx context.Context) (interface{}, error) {
		return auctionRepo.GetAuction(ctx, ids[1])
	})
	require.NoError(t, err)
	auction := iAuction.(*domain.Auction)
	require.Equal(t, ids[1], auction.ID)
	require.Equal(t, domain.AuctionOpen, auction.Status)
	require.Zero(t, big.NewInt(500).Cmp(auction.ReservePrice))

	auctions, err := auctionRepo.GetAllAuctions(context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(auctions), 3)
	for i := 1; i < len(auctions); i++ {
		require.Less(t, auctions[i-1].ID, auctions[i].ID)
	}
}

func testUpdateAuction(t *testing.T, repo repoManager) {
	auctionRepo := repo.DBManager.AuctionRepository()
	ctx := context.Background()

	id, err := auctionRepo.AddAuction(ctx, makeRandomAuction())
	require.NoError(t, err)

	_, err = repo.write(func(ctx context.Context) (interface{}, error) {
		return nil, auctionRepo.UpdateAuction(
			ctx, id, func(a *domain.Auction) (*domain.Auction, error) {
				if _, err := a.Close(now.Add(2 * time.Hour)); err != nil {
					return nil, err
				}
				return a, nil
			},
		)
	})
	require.NoError(t, err)

	auction, err := auctionRepo.GetAuction(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.AuctionClosed, auction.Status)
	require.NotZero(t, auction.ClosedAt)

	err = auctionRepo.UpdateAuction(
		ctx, 1_000_000, func(a *domain.Auction) (*domain.Auction, error) {
			return a, nil
		},
	)
	require.ErrorIs(t, err, domain.ErrAuctionNotFound)
}

func testGetAuctionsByStatus(t *testing.T, repo repoManager) {
	auctionRepo := repo.DBManager.AuctionRepository()
	ctx := context.Background()

	id, err := auctionRepo.AddAuction(ctx, makeRandomAuction())
	require.NoError(t, err)

	err = auctionRepo.UpdateAuction(
		ctx, id, func(a *domain.Auction) (*domain.Auction, error) {
			if err := a.Cancel("operator request", now); err != nil {
				return nil, err
			}
			return a, nil
		},
	)
	require.NoError(t, err)

	cancelled, err := auctionRepo.GetAuctionsByStatus(ctx, domain.AuctionCancelled)
	require.NoError(t, err)
	require.NotEmpty(t, cancelled)

	found := false
	for _, a := range cancelled {
		require.Equal(t, domain.AuctionCancelled, a.Status)
		if a.ID == id {
			found = true
			require.Equal(t, "operator request", a.CancelReason)
		}
	}
	require.True(t, found)

	open, err := auctionRepo.GetAuctionsByStatus(ctx, domain.AuctionOpen)
	require.NoError(t, err)
	for _, a := range open {
		require.NotEqual(t, id, a.ID)
	}
}

// testWriteRollback checks that every change made within a failing
// transaction is discarded.
func testWriteRollback(t *testing.T, repo repoManager) {
	ctx := context.Background()
	auctionRepo := repo.DBManager.AuctionRepository()
	escrowRepo := repo.DBManager.EscrowRepository()

	id, err := auctionRepo.AddAuction(ctx, makeRandomAuction())
	require.NoError(t, err)

	entry := makeRandomEscrow(id, now.Unix())
	errRollback := errors.New("rollback")

	_, err = repo.write(func(ctx context.Context) (interface{}, error) {
		if err := escrowRepo.AddEscrow(ctx, entry); err != nil {
			return nil, err
		}
		if err := auctionRepo.UpdateAuction(
			ctx, id, func(a *domain.Auction) (*domain.Auction, error) {
				if err := a.Cancel("rolled back", now); err != nil {
					return nil, err
				}
				return a, nil
			},
		); err != nil {
			return nil, err
		}
		return nil, errRollback
	})
	require.ErrorIs(t, err, errRollback)

	_, err = escrowRepo.GetEscrow(ctx, entry.Address)
	require.ErrorIs(t, err, domain.ErrEscrowNotFound)

	auction, err := auctionRepo.GetAuction(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.AuctionOpen, auction.Status)
	require.Empty(t, auction.CancelReason)
}
