package relay_test

import (
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-settlement/internal/core/application/relay"
	"github.com/tdex-network/tdex-settlement/internal/core/application/testutil"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
	"github.com/tdex-network/tdex-settlement/internal/infrastructure/chain/simulated"
)

// Auction with reserve 10 ETH and two bids: the 12 ETH bid wins, its
// deposit is released, the other one is refunded, and the proceeds reach
// the winner on Sepolia exactly once.
func TestSettlementEndToEnd(t *testing.T) {
	h := testutil.NewHarness(t, testutil.Options{AutoFinalizeEscrows: true})

	registry, err := domain.NewChainRegistry(
		domain.DefaultChains(),
		[]domain.ChainPair{
			{Source: domain.ArbitrumOneChainID, Target: domain.SepoliaChainID},
		},
	)
	require.NoError(t, err)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	relayer := domain.NewKeySigner(key)

	chains := simulated.NewChains([]common.Address{relayer.Address()})
	chains.Fund(domain.SepoliaChainID, testutil.AssetToken, testutil.Ether(100))

	relaySvc, err := relay.NewService(
		h.RepoManager, h.AuctionSvc, chains, h.PubSub, relay.Config{
			Registry:           registry,
			AuthorizedRelayers: []common.Address{relayer.Address()},
			Signer:             relayer,
			Now:                h.Clock.Now,
		},
	)
	require.NoError(t, err)

	auction := h.OpenAuction(t, h.AuctionParams(testutil.Ether(10)))
	bids := h.SubmitBids(
		t, auction.ID,
		[]*big.Int{testutil.Ether(11), testutil.Ether(12)},
		[]*big.Int{testutil.Ether(2), testutil.Ether(3)},
	)
	_, msg := h.CloseAndMatch(t, auction.ID)

	signed, err := domain.SignSettlementMessage(msg, relayer)
	require.NoError(t, err)

	// Concurrent deliveries of the same message: exactly one succeeds.
	const attempts = 5
	errs := make([]error, attempts)
	wg := &sync.WaitGroup{}
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = relaySvc.Deliver(ctx, *signed)
		}(i)
	}
	wg.Wait()

	delivered := 0
	for _, err := range errs {
		if err == nil {
			delivered++
			continue
		}
		require.True(t, domain.IsStateError(err), err.Error())
	}
	require.Equal(t, 1, delivered)

	_, err = relaySvc.DeliverAuction(ctx, auction.ID)
	require.ErrorIs(t, err, domain.ErrAlreadyDelivered)

	require.Zero(t, testutil.Ether(12).Cmp(
		chains.BalanceOf(domain.SepoliaChainID, testutil.AssetToken, bids[1].Bidder),
	))
	require.Zero(t, testutil.Ether(88).Cmp(
		chains.Liquidity(domain.SepoliaChainID, testutil.AssetToken),
	))

	status, err := h.AuctionSvc.GetAuctionStatus(ctx, auction.ID)
	require.NoError(t, err)
	require.Equal(t, domain.AuctionSettled, status)

	ledger, err := h.EscrowSvc.Totals(ctx, auction.ID)
	require.NoError(t, err)
	require.True(t, ledger.Balanced)
	require.Zero(t, testutil.Ether(3).Cmp(ledger.Released))
	require.Zero(t, testutil.Ether(2).Cmp(ledger.Refunded))
}
