package auction_test

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-settlement/internal/core/application/pubsub"
	"github.com/tdex-network/tdex-settlement/internal/core/application/testutil"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
	"github.com/tdex-network/tdex-settlement/internal/infrastructure/enclave/simulated"
)

var ctx = context.Background()

func TestAuctionLifecycle(t *testing.T) {
	h := testutil.NewHarness(t, testutil.Options{AutoFinalizeEscrows: true})
	events, stop := h.PubSub.Listen()
	defer stop()

	auction := h.OpenAuction(t, h.AuctionParams(testutil.Ether(10)))
	require.Equal(t, uint64(1), auction.ID)
	require.Equal(t, domain.AuctionOpen, auction.Status)

	bids := h.SubmitBids(
		t, auction.ID,
		[]*big.Int{testutil.Ether(11), testutil.Ether(12)},
		[]*big.Int{testutil.Ether(2), testutil.Ether(3)},
	)

	match, msg := h.CloseAndMatch(t, auction.ID)
	require.Equal(t, bids[1].Bidder, match.Winner)
	require.Equal(t, bids[1].EscrowAddress, match.WinningEscrow)
	require.Zero(t, testutil.Ether(12).Cmp(match.WinningPrice))

	status, err := h.AuctionSvc.GetAuctionStatus(ctx, auction.ID)
	require.NoError(t, err)
	require.Equal(t, domain.AuctionMatched, status)

	require.Equal(t, domain.DeliveryPending, msg.Status)
	require.Equal(t, domain.ArbitrumOneChainID, msg.Payload.SourceChainID)
	require.Equal(t, domain.SepoliaChainID, msg.Payload.TargetChainID)
	require.Equal(t, testutil.AssetToken, msg.Payload.AssetToken)
	require.Equal(t, bids[1].Bidder, msg.Payload.Recipient)
	require.Zero(t, testutil.Ether(12).Cmp(msg.Payload.Amount))

	stored, err := h.RepoManager.SettlementRepository().
		GetSettlementByAuction(ctx, auction.ID)
	require.NoError(t, err)
	require.Equal(t, msg.Hash(), stored.Hash())

	winner, err := h.EscrowSvc.GetEscrow(ctx, bids[1].EscrowAddress)
	require.NoError(t, err)
	require.Equal(t, domain.EscrowReleased, winner.State)
	loser, err := h.EscrowSvc.GetEscrow(ctx, bids[0].EscrowAddress)
	require.NoError(t, err)
	require.Equal(t, domain.EscrowRefunded, loser.State)

	ledger, err := h.EscrowSvc.Totals(ctx, auction.ID)
	require.NoError(t, err)
	require.True(t, ledger.Balanced)
	require.Zero(t, ledger.Held.Sign())

	select {
	case event := <-events:
		require.Equal(t, pubsub.EventAuctionMatched, event.Topic)
		require.Contains(t, string(event.Payload), msg.Hash().Hex())
	default:
		t.Fatal("expected auction matched event")
	}

	settled, err := h.AuctionSvc.SettleAuction(ctx, auction.ID)
	require.NoError(t, err)
	require.True(t, settled)

	settled, err = h.AuctionSvc.SettleAuction(ctx, auction.ID)
	require.NoError(t, err)
	require.False(t, settled)

	err = h.AuctionSvc.CancelAuction(ctx, auction.ID, "too late")
	require.ErrorIs(t, err, domain.ErrAuctionFinalized)
}

func TestFailingSubmitBid(t *testing.T) {
	tests := []struct {
		name          string
		bidFn         func(t *testing.T, h *testutil.Harness, auctionID uint64) domain.BidCommitment
		expectedError error
	}{
		{
			name: "zero_deposit",
			bidFn: func(t *testing.T, h *testutil.Harness, auctionID uint64) domain.BidCommitment {
				bid, _ := h.NewBid(t, auctionID, testutil.Ether(11), big.NewInt(0))
				return bid
			},
			expectedError: domain.ErrInvalidBid,
		},
		{
			name: "empty_payload",
			bidFn: func(t *testing.T, h *testutil.Harness, auctionID uint64) domain.BidCommitment {
				bid, _ := h.NewBid(t, auctionID, testutil.Ether(11), testutil.Ether(1))
				bid.EncryptedPayload = nil
				return bid
			},
			expectedError: domain.ErrInvalidBid,
		},
		{
			name: "tampered_deposit",
			bidFn: func(t *testing.T, h *testutil.Harness, auctionID uint64) domain.BidCommitment {
				bid, _ := h.NewBid(t, auctionID, testutil.Ether(11), testutil.Ether(1))
				bid.DepositAmount = testutil.Ether(5)
				return bid
			},
			expectedError: domain.ErrInvalidSignature,
		},
		{
			name: "unknown_auction",
			bidFn: func(t *testing.T, h *testutil.Harness, _ uint64) domain.BidCommitment {
				bid, _ := h.NewBid(t, 99, testutil.Ether(11), testutil.Ether(1))
				return bid
			},
			expectedError: domain.ErrAuctionNotFound,
		},
		{
			name: "after_deadline",
			bidFn: func(t *testing.T, h *testutil.Harness, auctionID uint64) domain.BidCommitment {
				bid, _ := h.NewBid(t, auctionID, testutil.Ether(11), testutil.Ether(1))
				h.Clock.Advance(2 * time.Hour)
				return bid
			},
			expectedError: domain.ErrAuctionClosed,
		},
	}

	for i := range tests {
		tt := tests[i]

		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := testutil.NewHarness(t, testutil.Options{})
			auction := h.OpenAuction(t, h.AuctionParams(testutil.Ether(10)))

			bid := tt.bidFn(t, h, auction.ID)
			accepted, err := h.AuctionSvc.SubmitBid(ctx, bid)
			require.ErrorIs(t, err, tt.expectedError)
			require.Nil(t, accepted)

			_, err = h.EscrowSvc.GetEscrow(ctx, bid.EscrowAddress)
			require.ErrorIs(t, err, domain.ErrEscrowNotFound)
		})
	}
}

func TestSubmitBidIsAtomic(t *testing.T) {
	h := testutil.NewHarness(t, testutil.Options{})
	first := h.OpenAuction(t, h.AuctionParams(testutil.Ether(10)))
	second := h.OpenAuction(t, h.AuctionParams(testutil.Ether(10)))

	bids := h.SubmitBids(
		t, first.ID, []*big.Int{testutil.Ether(11)}, []*big.Int{testutil.Ether(1)},
	)

	_, err := h.AuctionSvc.SubmitBid(ctx, bids[0])
	require.ErrorIs(t, err, domain.ErrDuplicateEscrow)

	// The escrow address is already held for another auction: the bid must
	// not be recorded either.
	bid, key := h.NewBid(t, second.ID, testutil.Ether(11), testutil.Ether(1))
	bid.EscrowAddress = bids[0].EscrowAddress
	require.NoError(t, domain.SignBid(&bid, key))

	_, err = h.AuctionSvc.SubmitBid(ctx, bid)
	require.ErrorIs(t, err, domain.ErrDuplicateEscrow)

	auction, err := h.AuctionSvc.GetAuction(ctx, second.ID)
	require.NoError(t, err)
	require.Empty(t, auction.Bids)

	entry, err := h.EscrowSvc.GetEscrow(ctx, bids[0].EscrowAddress)
	require.NoError(t, err)
	require.Equal(t, first.ID, entry.AuctionID)
}

func TestConcurrentSubmitBidSameEscrow(t *testing.T) {
	h := testutil.NewHarness(t, testutil.Options{})
	numOfAuctions := 4

	bids := make([]domain.BidCommitment, 0, numOfAuctions)
	for i := 0; i < numOfAuctions; i++ {
		auction := h.OpenAuction(t, h.AuctionParams(testutil.Ether(10)))
		bid, key := h.NewBid(t, auction.ID, testutil.Ether(11), testutil.Ether(1))
		if len(bids) > 0 {
			bid.EscrowAddress = bids[0].EscrowAddress
			require.NoError(t, domain.SignBid(&bid, key))
		}
		bids = append(bids, bid)
	}

	type result struct {
		bid domain.BidCommitment
		err error
	}
	results := make(chan result, numOfAuctions)
	wg := &sync.WaitGroup{}
	for _, bid := range bids {
		wg.Add(1)
		go func(bid domain.BidCommitment) {
			defer wg.Done()
			_, err := h.AuctionSvc.SubmitBid(ctx, bid)
			results <- result{bid, err}
		}(bid)
	}
	wg.Wait()
	close(results)

	var winner *domain.BidCommitment
	for res := range results {
		auction, err := h.AuctionSvc.GetAuction(ctx, res.bid.AuctionID)
		require.NoError(t, err)

		if res.err != nil {
			require.ErrorIs(t, res.err, domain.ErrDuplicateEscrow)
			require.Empty(t, auction.Bids)
			continue
		}
		require.Nil(t, winner)
		bid := res.bid
		winner = &bid
		require.Len(t, auction.Bids, 1)
	}
	require.NotNil(t, winner)

	entry, err := h.EscrowSvc.GetEscrow(ctx, winner.EscrowAddress)
	require.NoError(t, err)
	require.Equal(t, winner.AuctionID, entry.AuctionID)
	require.Equal(t, winner.Bidder, entry.Bidder)
}

func TestSubmitBidRequiringCompliance(t *testing.T) {
	h := testutil.NewHarness(t, testutil.Options{})
	params := h.AuctionParams(testutil.Ether(10))
	params.RequireCompliance = true
	auction := h.OpenAuction(t, params)

	bid, key := h.NewBid(t, auction.ID, testutil.Ether(11), testutil.Ether(1))
	_, err := h.AuctionSvc.SubmitBid(ctx, bid)
	require.ErrorIs(t, err, domain.ErrNotCompliant)

	h.Clear(t, bid.Bidder)
	accepted, err := h.AuctionSvc.SubmitBid(ctx, bid)
	require.NoError(t, err)
	require.NotEqual(t, common.Hash{}, accepted.ID)

	// The clearance expires.
	h.Clock.Advance(25 * time.Hour)
	params.BiddingDeadline = h.Clock.Now().Add(time.Hour).Unix()
	other := h.OpenAuction(t, params)
	late := h.NewBidFrom(t, key, other.ID, testutil.Ether(11), testutil.Ether(1))
	_, err = h.AuctionSvc.SubmitBid(ctx, late)
	require.ErrorIs(t, err, domain.ErrNotCompliant)
}

func TestFailingMatchAuction(t *testing.T) {
	h := testutil.NewHarness(t, testutil.Options{})
	auction := h.OpenAuction(t, h.AuctionParams(testutil.Ether(10)))
	bids := h.SubmitBids(
		t, auction.ID,
		[]*big.Int{testutil.Ether(11), testutil.Ether(12)},
		[]*big.Int{testutil.Ether(2), testutil.Ether(3)},
	)

	opened, err := h.AuctionSvc.GetAuction(ctx, auction.ID)
	require.NoError(t, err)
	claim, att, err := h.Enclave.MatchAuction(opened)
	require.NoError(t, err)

	_, _, err = h.AuctionSvc.MatchAuction(ctx, auction.ID, *claim, *att)
	require.ErrorIs(t, err, domain.ErrAuctionNotClosed)

	require.NoError(t, h.AuctionSvc.CloseAuction(ctx, auction.ID))

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	rogue, err := simulated.NewEnclave(
		key, common.HexToHash("0xbad"), []byte("0123456789abcdef"), h.Clock.Now,
	)
	require.NoError(t, err)

	tests := []struct {
		name          string
		claim         domain.MatchClaim
		att           domain.Attestation
		expectedError error
	}{
		{
			name: "claim_differs_from_attested_result",
			claim: domain.MatchClaim{
				Winner:        bids[0].Bidder,
				WinningEscrow: bids[0].EscrowAddress,
				WinningPrice:  testutil.Ether(11),
			},
			att:           *att,
			expectedError: domain.ErrResultMismatch,
		},
		{
			name: "price_differs_from_attested_result",
			claim: domain.MatchClaim{
				Winner:        claim.Winner,
				WinningEscrow: claim.WinningEscrow,
				WinningPrice:  testutil.Ether(20),
			},
			att:           *att,
			expectedError: domain.ErrResultMismatch,
		},
		{
			name:          "unknown_measurement",
			claim:         *claim,
			att:           *rogue.Attest(att.ResultHash),
			expectedError: domain.ErrMeasurementMismatch,
		},
		{
			name: "not_a_recorded_bid",
			claim: domain.MatchClaim{
				Winner:        bids[0].Bidder,
				WinningEscrow: bids[1].EscrowAddress,
				WinningPrice:  testutil.Ether(12),
			},
			att:           *att,
			expectedError: domain.ErrNoSuchBid,
		},
		{
			name: "reserve_not_met",
			claim: domain.MatchClaim{
				Winner:        claim.Winner,
				WinningEscrow: claim.WinningEscrow,
				WinningPrice:  testutil.Ether(9),
			},
			att:           *att,
			expectedError: domain.ErrReserveNotMet,
		},
	}

	for _, tt := range tests {
		_, _, err := h.AuctionSvc.MatchAuction(ctx, auction.ID, tt.claim, tt.att)
		require.ErrorIs(t, err, tt.expectedError, tt.name)
	}

	status, err := h.AuctionSvc.GetAuctionStatus(ctx, auction.ID)
	require.NoError(t, err)
	require.Equal(t, domain.AuctionClosed, status)
	_, err = h.RepoManager.SettlementRepository().
		GetSettlementByAuction(ctx, auction.ID)
	require.ErrorIs(t, err, domain.ErrSettlementNotFound)

	_, _, err = h.AuctionSvc.MatchAuction(ctx, auction.ID, *claim, *att)
	require.NoError(t, err)
	_, _, err = h.AuctionSvc.MatchAuction(ctx, auction.ID, *claim, *att)
	require.ErrorIs(t, err, domain.ErrAuctionAlreadyMatched)
}

func TestCancelAuction(t *testing.T) {
	h := testutil.NewHarness(t, testutil.Options{AutoFinalizeEscrows: true})
	auction := h.OpenAuction(t, h.AuctionParams(testutil.Ether(10)))
	bids := h.SubmitBids(
		t, auction.ID,
		[]*big.Int{testutil.Ether(11), testutil.Ether(12)},
		[]*big.Int{testutil.Ether(2), testutil.Ether(3)},
	)
	require.NoError(t, h.AuctionSvc.CloseAuction(ctx, auction.ID))

	require.NoError(t, h.AuctionSvc.CancelAuction(ctx, auction.ID, "seller withdrew"))

	cancelled, err := h.AuctionSvc.GetAuction(ctx, auction.ID)
	require.NoError(t, err)
	require.Equal(t, domain.AuctionCancelled, cancelled.Status)
	require.Equal(t, "seller withdrew", cancelled.CancelReason)

	for _, bid := range bids {
		entry, err := h.EscrowSvc.GetEscrow(ctx, bid.EscrowAddress)
		require.NoError(t, err)
		require.Equal(t, domain.EscrowRefunded, entry.State)
	}

	err = h.AuctionSvc.CancelAuction(ctx, auction.ID, "again")
	require.ErrorIs(t, err, domain.ErrAuctionFinalized)

	t.Run("matched", func(t *testing.T) {
		auction := h.OpenAuction(t, h.AuctionParams(testutil.Ether(10)))
		h.SubmitBids(
			t, auction.ID, []*big.Int{testutil.Ether(11)}, []*big.Int{testutil.Ether(1)},
		)
		h.CloseAndMatch(t, auction.ID)

		err := h.AuctionSvc.CancelAuction(ctx, auction.ID, "seller withdrew")
		require.ErrorIs(t, err, domain.ErrAuctionNotCancellable)
	})
}

func TestSweepExpiredAuctions(t *testing.T) {
	h := testutil.NewHarness(t, testutil.Options{AutoFinalizeEscrows: true})
	withBids := h.OpenAuction(t, h.AuctionParams(testutil.Ether(10)))
	h.SubmitBids(
		t, withBids.ID, []*big.Int{testutil.Ether(11)}, []*big.Int{testutil.Ether(1)},
	)
	withoutBids := h.OpenAuction(t, h.AuctionParams(testutil.Ether(10)))

	params := h.AuctionParams(testutil.Ether(10))
	params.BiddingDeadline = h.Clock.Now().Add(3 * time.Hour).Unix()
	notExpired := h.OpenAuction(t, params)

	h.Clock.Advance(2 * time.Hour)
	require.NoError(t, h.AuctionSvc.SweepExpiredAuctions(ctx))

	expected := map[uint64]domain.AuctionStatus{
		withBids.ID:    domain.AuctionClosed,
		withoutBids.ID: domain.AuctionCancelled,
		notExpired.ID:  domain.AuctionOpen,
	}
	for id, status := range expected {
		got, err := h.AuctionSvc.GetAuctionStatus(ctx, id)
		require.NoError(t, err)
		require.Equal(t, status, got)
	}

	closed := domain.AuctionClosed
	list, err := h.AuctionSvc.ListAuctions(ctx, &closed)
	require.NoError(t, err)
	require.Len(t, list, 1)

	all, err := h.AuctionSvc.ListAuctions(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestMatchWithoutAutoFinalize(t *testing.T) {
	h := testutil.NewHarness(t, testutil.Options{})
	auction := h.OpenAuction(t, h.AuctionParams(testutil.Ether(10)))
	bids := h.SubmitBids(
		t, auction.ID,
		[]*big.Int{testutil.Ether(11), testutil.Ether(12)},
		[]*big.Int{testutil.Ether(2), testutil.Ether(3)},
	)
	h.CloseAndMatch(t, auction.ID)

	for _, bid := range bids {
		entry, err := h.EscrowSvc.GetEscrow(ctx, bid.EscrowAddress)
		require.NoError(t, err)
		require.Equal(t, domain.EscrowHeld, entry.State)
	}

	ledger, err := h.EscrowSvc.FinalizeEscrows(ctx, auction.ID)
	require.NoError(t, err)
	require.True(t, ledger.Balanced)
	require.Zero(t, testutil.Ether(3).Cmp(ledger.Released))
	require.Zero(t, testutil.Ether(2).Cmp(ledger.Refunded))
}
