package db_test

import (
	"context"
	"crypto/rand"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
	"github.com/tdex-network/tdex-settlement/internal/core/ports"
	dbbadger "github.com/tdex-network/tdex-settlement/internal/infrastructure/storage/db/badger"
	"github.com/tdex-network/tdex-settlement/internal/infrastructure/storage/db/inmemory"
	postgresdb "github.com/tdex-network/tdex-settlement/internal/infrastructure/storage/db/pg"
)

const pgDataSourceEnv = "SETTLEMENT_TEST_PG_DSN"

var (
	readOnly = true
	now      = time.Unix(1_700_000_000, 0)
)

type repoManager struct {
	Name      string
	DBManager ports.RepoManager
}

func (r repoManager) read(
	query func(context.Context) (interface{}, error),
) (interface{}, error) {
	return r.DBManager.RunTransaction(context.Background(), readOnly, query)
}

func (r repoManager) write(
	query func(context.Context) (interface{}, error),
) (interface{}, error) {
	return r.DBManager.RunTransaction(context.Background(), !readOnly, query)
}

// createRepoManagers returns a fresh instance of every storage
// implementation. Postgres is included only if a data source is given
// through the environment.
func createRepoManagers(t *testing.T) []repoManager {
	badgerDBManager, err := dbbadger.NewRepoManager("", nil)
	require.NoError(t, err)

	managers := []repoManager{
		{
			Name:      "inmemory",
			DBManager: inmemory.NewRepoManager(),
		},
		{
			Name:      "badger",
			DBManager: badgerDBManager,
		},
	}

	if dsn := os.Getenv(pgDataSourceEnv); dsn != "" {
		pgDBManager, err := postgresdb.NewService(postgresdb.DbConfig{
			DataSourceURL: dsn,
		})
		require.NoError(t, err)
		managers = append(managers, repoManager{
			Name:      "postgres",
			DBManager: pgDBManager,
		})
	}

	t.Cleanup(func() {
		for _, m := range managers {
			m.DBManager.Close()
		}
	})
	return managers
}

func makeRandomAuction() *domain.Auction {
	auction, _ := domain.NewAuction(domain.AuctionParams{
		Seller:          randomAddress(),
		AssetToken:      randomAddress(),
		AssetAmount:     big.NewInt(1000),
		ReservePrice:    big.NewInt(500),
		BiddingDeadline: now.Add(time.Hour).Unix(),
		SourceChainID:   domain.ArbitrumOneChainID,
		TargetChainID:   domain.SepoliaChainID,
	}, now)
	return auction
}

func makeRandomEscrow(auctionID uint64, createdAt int64) *domain.EscrowEntry {
	return &domain.EscrowEntry{
		Address:   randomAddress(),
		AuctionID: auctionID,
		Bidder:    randomAddress(),
		Amount:    big.NewInt(int64(randomIntInRange(1, 1000))),
		State:     domain.EscrowHeld,
		CreatedAt: createdAt,
	}
}

func makeRandomSettlement(auctionID uint64) *domain.SettlementMessage {
	payload := domain.SettlementPayload{
		AuctionID:      auctionID,
		SourceChainID:  domain.ArbitrumOneChainID,
		TargetChainID:  domain.SepoliaChainID,
		AssetToken:     randomAddress(),
		Recipient:      randomAddress(),
		Amount:         big.NewInt(int64(randomIntInRange(1, 1000))),
		AttestationRef: randomHash(),
	}
	payload.Hash, _ = payload.ComputeHash()

	return &domain.SettlementMessage{
		Payload:   payload,
		Status:    domain.DeliveryPending,
		CreatedAt: now.Unix(),
	}
}

func randomAddress() common.Address {
	return common.BytesToAddress(randomBytes(common.AddressLength))
}

func randomHash() common.Hash {
	return common.BytesToHash(randomBytes(common.HashLength))
}

func randomBytes(len int) []byte {
	b := make([]byte, len)
	//nolint
	rand.Read(b)
	return b
}

func randomIntInRange(min, max int) int {
	n, _ := rand.Int(rand.Reader, big.NewInt(int64(max-min)))
	return int(n.Int64()) + min
}
