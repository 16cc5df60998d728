package domain_test

import (
	"crypto/ecdsa"
	"crypto/rand"
	"math/big"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
)

var (
	ether       = big.NewInt(1_000_000_000_000_000_000)
	now         = time.Unix(1_700_000_000, 0)
	measurement = common.HexToHash("0x6d6561737572656d656e74")
	assetToken  = common.HexToAddress("0xAAAaaaAAAaaaAAAaaaAAAaaaAAAaaaAAAaaaAAAa")
)

func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), ether)
}

type bidder struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func newBidder(t *testing.T) bidder {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return bidder{key, crypto.PubkeyToAddress(key.PublicKey)}
}

func randomAddress() common.Address {
	return common.BytesToAddress(randomBytes(20))
}

func randomHash() common.Hash {
	return common.BytesToHash(randomBytes(32))
}

func randomBytes(len int) []byte {
	b := make([]byte, len)
	//nolint
	rand.Read(b)
	return b
}

func newSignedBid(
	t *testing.T, auctionID uint64, b bidder, deposit *big.Int,
) domain.BidCommitment {
	bid := domain.BidCommitment{
		AuctionID:        auctionID,
		Bidder:           b.address,
		EscrowAddress:    randomAddress(),
		EncryptedPayload: randomBytes(64),
		DepositAmount:    deposit,
		Timestamp:        now.Unix(),
	}
	require.NoError(t, domain.SignBid(&bid, b.key))
	return bid
}

func newOpenAuction(t *testing.T, id uint64) *domain.Auction {
	auction, err := domain.NewAuction(domain.AuctionParams{
		Seller:          randomAddress(),
		AssetToken:      assetToken,
		AssetAmount:     big.NewInt(100),
		ReservePrice:    eth(10),
		BiddingDeadline: now.Add(time.Hour).Unix(),
		SourceChainID:   domain.ArbitrumOneChainID,
		TargetChainID:   domain.SepoliaChainID,
	}, now)
	require.NoError(t, err)
	auction.ID = id
	return auction
}

type enclave struct {
	key      *btcec.PrivateKey
	verifier *domain.AttestationVerifier
	policy   domain.MeasurementPolicy
}

func newEnclave(t *testing.T) enclave {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	verifier, err := domain.NewAttestationVerifier(domain.AttestationVerifierConfig{
		EnclaveKey:      key.PubKey(),
		FreshnessWindow: 10 * time.Minute,
		MaxClockSkew:    30 * time.Second,
		Now:             func() time.Time { return now },
	})
	require.NoError(t, err)
	return enclave{key, verifier, domain.MeasurementPolicy{Current: measurement}}
}

func (e enclave) attest(resultHash common.Hash) domain.Attestation {
	att := domain.Attestation{
		EnclaveMeasurement: measurement,
		ResultHash:         resultHash,
		Timestamp:          now.Add(-time.Minute).Unix(),
	}
	domain.SignAttestation(&att, e.key)
	return att
}

func (e enclave) verifyMatch(
	t *testing.T, auction *domain.Auction, claim domain.MatchClaim,
) *domain.VerifiedAttestation {
	resultHash, err := auction.ExpectedResultHash(claim)
	require.NoError(t, err)
	verified, err := e.verifier.Verify(e.attest(resultHash), e.policy, resultHash)
	require.NoError(t, err)
	return verified
}

// newClosedAuction returns a closed auction with the two bids of the
// reference scenario: 2 ETH and 3 ETH deposits.
func newClosedAuction(
	t *testing.T, id uint64,
) (*domain.Auction, []domain.BidCommitment, []bidder) {
	auction := newOpenAuction(t, id)
	bidders := []bidder{newBidder(t), newBidder(t)}
	bids := make([]domain.BidCommitment, 0, 2)
	for i, deposit := range []*big.Int{eth(2), eth(3)} {
		bid, err := auction.AddBid(newSignedBid(t, id, bidders[i], deposit), now)
		require.NoError(t, err)
		bids = append(bids, *bid)
	}
	_, err := auction.Close(now)
	require.NoError(t, err)
	return auction, bids, bidders
}

// newMatchedAuction returns the reference scenario auction matched with the
// second bid winning at 12 ETH.
func newMatchedAuction(
	t *testing.T, e enclave, id uint64,
) (*domain.Auction, []domain.BidCommitment, *domain.VerifiedAttestation) {
	auction, bids, _ := newClosedAuction(t, id)
	claim := domain.MatchClaim{
		Winner:        bids[1].Bidder,
		WinningEscrow: bids[1].EscrowAddress,
		WinningPrice:  eth(12),
	}
	verified := e.verifyMatch(t, auction, claim)
	_, err := auction.RecordMatch(claim, verified, now)
	require.NoError(t, err)
	return auction, bids, verified
}
