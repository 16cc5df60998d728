package domain_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
)

func TestBuildSettlementMessage(t *testing.T) {
	e := newEnclave(t)
	auction, bids, verified := newMatchedAuction(t, e, 1)

	msg, err := domain.BuildSettlementMessage(auction, auction.Match, verified)
	require.NoError(t, err)
	require.Equal(t, domain.DeliveryPending, msg.Status)
	require.Equal(t, domain.ArbitrumOneChainID, msg.Payload.SourceChainID)
	require.Equal(t, domain.SepoliaChainID, msg.Payload.TargetChainID)
	require.Equal(t, assetToken, msg.Payload.AssetToken)
	require.Equal(t, bids[1].Bidder, msg.Payload.Recipient)
	require.Zero(t, eth(12).Cmp(msg.Payload.Amount))
	require.Equal(t, verified.Reference(), msg.Payload.AttestationRef)
	require.NoError(t, msg.Payload.VerifyHash())

	again, err := domain.BuildSettlementMessage(auction, auction.Match, verified)
	require.NoError(t, err)
	require.Equal(t, msg, again)

	t.Run("not_backed_by_attestation", func(t *testing.T) {
		other := e.verifyMatch(t, auction, domain.MatchClaim{
			Winner:        bids[0].Bidder,
			WinningEscrow: bids[0].EscrowAddress,
			WinningPrice:  eth(11),
		})
		_, err := domain.BuildSettlementMessage(auction, auction.Match, other)
		require.ErrorIs(t, err, domain.ErrInvalidSettlement)
	})

	t.Run("missing_match", func(t *testing.T) {
		_, err := domain.BuildSettlementMessage(auction, nil, verified)
		require.ErrorIs(t, err, domain.ErrInvalidSettlement)
	})
}

func TestEncodeSettlement(t *testing.T) {
	recipient := randomAddress()
	ref := randomHash()
	amount := eth(12)

	buf, err := domain.EncodeSettlement(
		domain.ArbitrumOneChainID, assetToken, recipient, amount, ref,
	)
	require.NoError(t, err)
	require.Len(t, buf, 5*32)

	// every field is a left padded 32-byte big-endian word.
	require.Equal(
		t, common.LeftPadBytes(big.NewInt(42161).Bytes(), 32), buf[0:32],
	)
	require.Equal(t, common.LeftPadBytes(assetToken.Bytes(), 32), buf[32:64])
	require.Equal(t, common.LeftPadBytes(recipient.Bytes(), 32), buf[64:96])
	require.Equal(t, common.LeftPadBytes(amount.Bytes(), 32), buf[96:128])
	require.Equal(t, ref.Bytes(), buf[128:160])

	hash, err := domain.SettlementHash(
		domain.ArbitrumOneChainID, assetToken, recipient, amount, ref,
	)
	require.NoError(t, err)
	require.Equal(t, crypto.Keccak256Hash(buf), hash)

	_, err = domain.EncodeSettlement(
		domain.ArbitrumOneChainID, assetToken, recipient, big.NewInt(-1), ref,
	)
	require.ErrorIs(t, err, domain.ErrInvalidSettlement)
}

func TestSignedSettlementMessage(t *testing.T) {
	e := newEnclave(t)
	auction, _, verified := newMatchedAuction(t, e, 1)
	msg, err := domain.BuildSettlementMessage(auction, auction.Match, verified)
	require.NoError(t, err)

	relayerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	relayer := domain.NewKeySigner(relayerKey)

	signed, err := domain.SignSettlementMessage(msg, relayer)
	require.NoError(t, err)
	require.Len(t, signed.Signature, crypto.SignatureLength)

	signer, err := domain.VerifySignedMessage(
		*signed, []common.Address{randomAddress(), relayer.Address()},
	)
	require.NoError(t, err)
	require.Equal(t, relayer.Address(), signer)

	t.Run("unauthorized", func(t *testing.T) {
		_, err := domain.VerifySignedMessage(*signed, []common.Address{randomAddress()})
		require.ErrorIs(t, err, domain.ErrUnauthorizedRelayer)
	})

	t.Run("tampered_amount", func(t *testing.T) {
		tampered := *signed
		tampered.Payload.Amount = eth(13)
		_, err := domain.VerifySignedMessage(tampered, []common.Address{relayer.Address()})
		require.ErrorIs(t, err, domain.ErrInvalidSettlement)
	})

	t.Run("tampered_amount_and_hash", func(t *testing.T) {
		tampered := *signed
		tampered.Payload.Amount = eth(13)
		hash, err := tampered.Payload.ComputeHash()
		require.NoError(t, err)
		tampered.Payload.Hash = hash
		_, err = domain.VerifySignedMessage(tampered, []common.Address{relayer.Address()})
		require.ErrorIs(t, err, domain.ErrUnauthorizedRelayer)
	})

	t.Run("invalid_signature", func(t *testing.T) {
		tampered := *signed
		tampered.Signature = randomBytes(10)
		_, err := domain.VerifySignedMessage(tampered, []common.Address{relayer.Address()})
		require.ErrorIs(t, err, domain.ErrInvalidSignature)
	})
}

func TestSettlementMessageDelivery(t *testing.T) {
	e := newEnclave(t)
	auction, _, verified := newMatchedAuction(t, e, 1)
	msg, err := domain.BuildSettlementMessage(auction, auction.Match, verified)
	require.NoError(t, err)
	lease := time.Minute

	require.NoError(t, msg.BeginAttempt(now, lease))
	require.Equal(t, 1, msg.Attempts)
	require.ErrorIs(t, msg.BeginAttempt(now, lease), domain.ErrDeliveryInProgress)

	require.NoError(t, msg.MarkFailed(1, "insufficient liquidity"))
	require.Equal(t, domain.DeliveryFailed, msg.Status)
	require.Equal(t, "insufficient liquidity", msg.LastError)

	// Failed -> Pending -> Delivered
	require.NoError(t, msg.BeginAttempt(now, lease))
	require.Equal(t, domain.DeliveryPending, msg.Status)
	require.Equal(t, 2, msg.Attempts)

	require.True(t, msg.MarkDelivered("0xabc", now))
	require.False(t, msg.MarkDelivered("0xdef", now))
	require.Equal(t, "0xabc", msg.TxHash)
	require.True(t, msg.IsDelivered())

	require.ErrorIs(t, msg.BeginAttempt(now, lease), domain.ErrAlreadyDelivered)
	require.ErrorIs(t, msg.MarkFailed(2, "late"), domain.ErrAlreadyDelivered)

	t.Run("lease_expires", func(t *testing.T) {
		msg, err := domain.BuildSettlementMessage(auction, auction.Match, verified)
		require.NoError(t, err)

		require.NoError(t, msg.BeginAttempt(now, lease))
		require.NoError(t, msg.BeginAttempt(now.Add(lease), lease))
		require.Equal(t, 2, msg.Attempts)

		// the first attempt outlived its lease and can't release the second's.
		err = msg.MarkFailed(1, "reverted")
		require.ErrorIs(t, err, domain.ErrStaleDeliveryAttempt)
		require.ErrorIs(t, msg.MarkUnknown(1, "timeout"), domain.ErrStaleDeliveryAttempt)
		require.Equal(t, domain.DeliveryPending, msg.Status)
		require.True(t, msg.IsAttemptInProgress(now.Add(lease), lease))

		require.NoError(t, msg.MarkUnknown(2, "context deadline exceeded"))
		require.Equal(t, domain.DeliveryPending, msg.Status)
		require.False(t, msg.IsAttemptInProgress(now, lease))
	})
}
