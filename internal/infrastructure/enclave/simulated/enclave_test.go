package simulated_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
	"github.com/tdex-network/tdex-settlement/internal/infrastructure/enclave/simulated"
)

var (
	now         = time.Unix(1_700_000_000, 0)
	measurement = common.HexToHash("0x6d656173757265")
	bidKey      = []byte("0123456789abcdef0123456789abcdef")
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func TestSealAndOpenBid(t *testing.T) {
	payload, err := simulated.SealBid(bidKey, ether(12), 42)
	require.NoError(t, err)

	price, timestamp, err := simulated.OpenBid(bidKey, payload)
	require.NoError(t, err)
	require.Zero(t, ether(12).Cmp(price))
	require.Equal(t, int64(42), timestamp)

	_, _, err = simulated.OpenBid([]byte("fedcba9876543210fedcba9876543210"), payload)
	require.Error(t, err)

	payload[len(payload)-1] ^= 1
	_, _, err = simulated.OpenBid(bidKey, payload)
	require.Error(t, err)
}

func TestMatchAuction(t *testing.T) {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	enclave, err := simulated.NewEnclave(
		key, measurement, bidKey, func() time.Time { return now },
	)
	require.NoError(t, err)

	verifier, err := domain.NewAttestationVerifier(domain.AttestationVerifierConfig{
		EnclaveKey:      enclave.PublicKey(),
		FreshnessWindow: time.Minute,
		Now:             func() time.Time { return now },
	})
	require.NoError(t, err)

	auction, err := domain.NewAuction(domain.AuctionParams{
		AssetToken:      common.HexToAddress("0xaaa"),
		AssetAmount:     big.NewInt(1),
		ReservePrice:    ether(10),
		BiddingDeadline: now.Add(time.Hour).Unix(),
		SourceChainID:   domain.ArbitrumOneChainID,
		TargetChainID:   domain.SepoliaChainID,
	}, now)
	require.NoError(t, err)
	auction.ID = 1

	prices := []*big.Int{ether(11), ether(12), ether(8)}
	for i, price := range prices {
		bidderKey, err := crypto.GenerateKey()
		require.NoError(t, err)
		escrowKey, err := crypto.GenerateKey()
		require.NoError(t, err)

		payload, err := enclave.SealBid(price, now.Unix()+int64(i))
		require.NoError(t, err)
		bid := domain.BidCommitment{
			AuctionID:        1,
			Bidder:           crypto.PubkeyToAddress(bidderKey.PublicKey),
			EscrowAddress:    crypto.PubkeyToAddress(escrowKey.PublicKey),
			EncryptedPayload: payload,
			DepositAmount:    ether(1),
			Timestamp:        now.Unix(),
		}
		require.NoError(t, domain.SignBid(&bid, bidderKey))
		_, err = auction.AddBid(bid, now)
		require.NoError(t, err)
	}
	_, err = auction.Close(now)
	require.NoError(t, err)

	claim, att, err := enclave.MatchAuction(auction)
	require.NoError(t, err)
	require.Equal(t, auction.Bids[1].EscrowAddress, claim.WinningEscrow)
	require.Zero(t, ether(12).Cmp(claim.WinningPrice))

	expected, err := auction.ExpectedResultHash(*claim)
	require.NoError(t, err)
	verified, err := verifier.Verify(
		*att, domain.MeasurementPolicy{Current: measurement}, expected,
	)
	require.NoError(t, err)

	_, err = auction.RecordMatch(*claim, verified, now)
	require.NoError(t, err)

	t.Run("reserve_not_met", func(t *testing.T) {
		auction := *auction
		auction.Status = domain.AuctionClosed
		auction.ReservePrice = ether(13)
		_, _, err := enclave.MatchAuction(&auction)
		require.ErrorIs(t, err, domain.ErrReserveNotMet)
	})
}
