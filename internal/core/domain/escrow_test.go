package domain_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
)

func newEntries(t *testing.T, bids []domain.BidCommitment) []*domain.EscrowEntry {
	entries := make([]*domain.EscrowEntry, 0, len(bids))
	for _, bid := range bids {
		entry, err := domain.NewEscrowEntry(bid, now)
		require.NoError(t, err)
		require.Equal(t, domain.EscrowHeld, entry.State)
		entries = append(entries, entry)
	}
	return entries
}

func totals(auctionID uint64, entries []*domain.EscrowEntry) domain.EscrowTotals {
	list := make([]domain.EscrowEntry, 0, len(entries))
	for _, e := range entries {
		list = append(list, *e)
	}
	return domain.ComputeEscrowTotals(auctionID, list)
}

func TestEscrowReleaseAndRefund(t *testing.T) {
	e := newEnclave(t)
	auction, bids, _ := newMatchedAuction(t, e, 1)
	entries := newEntries(t, bids)
	deposited := auction.TotalDeposits()
	require.True(t, totals(1, entries).Balanced(deposited))

	_, err := entries[0].Release(auction, now)
	require.ErrorIs(t, err, domain.ErrNotWinner)

	_, err = entries[1].Refund(auction, now)
	require.ErrorIs(t, err, domain.ErrWinningEscrow)

	released, err := entries[1].Release(auction, now)
	require.NoError(t, err)
	require.Equal(t, eth(3), released)
	require.Equal(t, domain.EscrowReleased, entries[1].State)
	require.True(t, totals(1, entries).Balanced(deposited))

	refunded, err := entries[0].Refund(auction, now)
	require.NoError(t, err)
	require.Equal(t, eth(2), refunded)
	require.Equal(t, domain.EscrowRefunded, entries[0].State)

	tot := totals(1, entries)
	require.True(t, tot.Balanced(deposited))
	require.Zero(t, tot.Held.Sign())
	require.Equal(t, eth(3), tot.Released)
	require.Equal(t, eth(2), tot.Refunded)

	_, err = entries[1].Release(auction, now)
	require.ErrorIs(t, err, domain.ErrAlreadyFinalized)
	_, err = entries[0].Refund(auction, now)
	require.ErrorIs(t, err, domain.ErrAlreadyFinalized)
	_, err = entries[0].Forfeit(auction, "equivocation", domain.ForfeitPolicy{Kind: domain.ForfeitBurn}, now)
	require.ErrorIs(t, err, domain.ErrAlreadyFinalized)
}

func TestEscrowLockedUntilMatchedOrCancelled(t *testing.T) {
	auction, bids, _ := newClosedAuction(t, 1)
	entries := newEntries(t, bids)

	_, err := entries[0].Refund(auction, now)
	require.ErrorIs(t, err, domain.ErrEscrowLocked)
	_, err = entries[0].Forfeit(
		auction, "equivocation", domain.ForfeitPolicy{Kind: domain.ForfeitBurn}, now,
	)
	require.ErrorIs(t, err, domain.ErrEscrowLocked)
	_, err = entries[0].Release(auction, now)
	require.ErrorIs(t, err, domain.ErrNotWinner)
	require.Equal(t, domain.EscrowHeld, entries[0].State)

	require.NoError(t, auction.Cancel("operator request", now))

	for _, entry := range entries {
		_, err := entry.Release(auction, now)
		require.ErrorIs(t, err, domain.ErrNotWinner)

		_, err = entry.Refund(auction, now)
		require.NoError(t, err)
	}
	require.True(t, totals(1, entries).Balanced(auction.TotalDeposits()))
}

func TestEscrowForfeit(t *testing.T) {
	e := newEnclave(t)
	treasury := common.HexToAddress("0x00000000000000000000000000000000000000fe")

	tests := []struct {
		name             string
		policy           domain.ForfeitPolicy
		expectedWithheld *big.Int
		expectedReturned *big.Int
		expectedTo       common.Address
	}{
		{
			name:             "burn",
			policy:           domain.ForfeitPolicy{Kind: domain.ForfeitBurn},
			expectedWithheld: eth(2),
			expectedReturned: big.NewInt(0),
		},
		{
			name: "treasury",
			policy: domain.ForfeitPolicy{
				Kind: domain.ForfeitTreasury, Treasury: treasury,
			},
			expectedWithheld: eth(2),
			expectedReturned: big.NewInt(0),
			expectedTo:       treasury,
		},
		{
			name: "penalty",
			policy: domain.ForfeitPolicy{
				Kind:        domain.ForfeitPenalty,
				Treasury:    treasury,
				PenaltyRate: decimal.RequireFromString("0.25"),
			},
			expectedWithheld: new(big.Int).Div(eth(2), big.NewInt(4)),
			expectedReturned: new(big.Int).Sub(eth(2), new(big.Int).Div(eth(2), big.NewInt(4))),
			expectedTo:       treasury,
		},
	}

	for i := range tests {
		tt := tests[i]

		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			auction, bids, _ := newMatchedAuction(t, e, 1)
			entries := newEntries(t, bids)

			_, err := entries[0].Forfeit(auction, "", tt.policy, now)
			require.ErrorIs(t, err, domain.ErrInvalidForfeitReason)

			_, err = entries[1].Forfeit(auction, "equivocation", tt.policy, now)
			require.ErrorIs(t, err, domain.ErrWinningEscrow)

			disposition, err := entries[0].Forfeit(auction, "equivocation", tt.policy, now)
			require.NoError(t, err)
			require.Equal(t, domain.EscrowForfeited, entries[0].State)
			require.Equal(t, "equivocation", entries[0].ForfeitReason)
			require.Equal(t, tt.policy.Kind, disposition.Kind)
			require.Equal(t, tt.expectedTo, disposition.Recipient)
			require.Zero(t, tt.expectedWithheld.Cmp(disposition.Withheld))
			require.Zero(t, tt.expectedReturned.Cmp(disposition.Returned))
			require.Zero(t, eth(2).Cmp(
				new(big.Int).Add(disposition.Withheld, disposition.Returned),
			))

			tot := totals(1, entries)
			require.True(t, tot.Balanced(auction.TotalDeposits()))
			require.Equal(t, eth(2), tot.Forfeited)
		})
	}
}

func TestForfeitPolicyValidate(t *testing.T) {
	treasury := common.HexToAddress("0x00000000000000000000000000000000000000fe")

	tests := []struct {
		name   string
		policy domain.ForfeitPolicy
		valid  bool
	}{
		{"burn", domain.ForfeitPolicy{Kind: domain.ForfeitBurn}, true},
		{"treasury", domain.ForfeitPolicy{Kind: domain.ForfeitTreasury, Treasury: treasury}, true},
		{"treasury_without_address", domain.ForfeitPolicy{Kind: domain.ForfeitTreasury}, false},
		{"penalty_above_one", domain.ForfeitPolicy{
			Kind: domain.ForfeitPenalty, Treasury: treasury,
			PenaltyRate: decimal.RequireFromString("1.5"),
		}, false},
		{"penalty_negative", domain.ForfeitPolicy{
			Kind: domain.ForfeitPenalty, Treasury: treasury,
			PenaltyRate: decimal.RequireFromString("-0.1"),
		}, false},
		{"unknown", domain.ForfeitPolicy{Kind: "return"}, false},
	}

	for i := range tests {
		tt := tests[i]

		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.policy.Validate()
			if tt.valid {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, domain.ErrInvalidForfeitPolicy)
		})
	}
}

func TestNewEscrowEntry(t *testing.T) {
	bid := newSignedBid(t, 1, newBidder(t), big.NewInt(0))

	entry, err := domain.NewEscrowEntry(bid, now)
	require.ErrorIs(t, err, domain.ErrInvalidBid)
	require.Nil(t, entry)
}
