// Package testutil wires the application services on top of an in-memory
// db and a simulated enclave, for the tests of the application packages.
package testutil

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-settlement/internal/core/application/auction"
	"github.com/tdex-network/tdex-settlement/internal/core/application/compliance"
	"github.com/tdex-network/tdex-settlement/internal/core/application/escrow"
	"github.com/tdex-network/tdex-settlement/internal/core/application/pubsub"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
	"github.com/tdex-network/tdex-settlement/internal/core/ports"
	"github.com/tdex-network/tdex-settlement/internal/infrastructure/enclave/simulated"
	"github.com/tdex-network/tdex-settlement/internal/infrastructure/storage/db/inmemory"
)

var (
	Measurement = common.HexToHash("0x6d656173757265")
	AssetToken  = common.HexToAddress("0xaaa")
	Treasury    = common.HexToAddress("0xfe")

	bidKey = []byte("0123456789abcdef0123456789abcdef")
)

// Ether returns n * 10^18.
func Ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

// Clock is a settable time source.
type Clock struct {
	lock *sync.Mutex
	now  time.Time
}

func NewClock() *Clock {
	return &Clock{&sync.Mutex{}, time.Unix(1_700_000_000, 0)}
}

func (c *Clock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = c.now.Add(d)
}

type Options struct {
	AutoFinalizeEscrows bool
	ForfeitPolicy       *domain.ForfeitPolicy
}

// Harness holds every application service sharing the same db.
type Harness struct {
	Clock         *Clock
	RepoManager   ports.RepoManager
	Enclave       *simulated.Enclave
	Verifier      *domain.AttestationVerifier
	Policy        domain.MeasurementPolicy
	PubSub        *pubsub.Service
	ComplianceSvc *compliance.Service
	EscrowSvc     *escrow.Service
	AuctionSvc    *auction.Service
}

func NewHarness(t *testing.T, opts Options) *Harness {
	clock := NewClock()
	repoManager := inmemory.NewRepoManager()

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	enclave, err := simulated.NewEnclave(key, Measurement, bidKey, clock.Now)
	require.NoError(t, err)

	verifier, err := domain.NewAttestationVerifier(domain.AttestationVerifierConfig{
		EnclaveKey:      enclave.PublicKey(),
		FreshnessWindow: 10 * time.Minute,
		MaxClockSkew:    time.Minute,
		Now:             clock.Now,
	})
	require.NoError(t, err)
	policy := domain.MeasurementPolicy{Current: Measurement}

	forfeitPolicy := domain.ForfeitPolicy{Kind: domain.ForfeitBurn}
	if opts.ForfeitPolicy != nil {
		forfeitPolicy = *opts.ForfeitPolicy
	}

	pubsubSvc := pubsub.NewService(nil)
	complianceSvc, err := compliance.NewService(
		repoManager, verifier, policy, 24*time.Hour, clock.Now,
	)
	require.NoError(t, err)
	escrowSvc, err := escrow.NewService(
		repoManager, pubsubSvc, forfeitPolicy, clock.Now,
	)
	require.NoError(t, err)
	auctionSvc, err := auction.NewService(
		repoManager, escrowSvc, complianceSvc, pubsubSvc, auction.Config{
			Verifier:            verifier,
			Policy:              policy,
			AutoFinalizeEscrows: opts.AutoFinalizeEscrows,
			Now:                 clock.Now,
		},
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		pubsubSvc.Close()
		repoManager.Close()
	})

	return &Harness{
		Clock:         clock,
		RepoManager:   repoManager,
		Enclave:       enclave,
		Verifier:      verifier,
		Policy:        policy,
		PubSub:        pubsubSvc,
		ComplianceSvc: complianceSvc,
		EscrowSvc:     escrowSvc,
		AuctionSvc:    auctionSvc,
	}
}

// AuctionParams returns the params of an auction from Arbitrum One to
// Sepolia with the given reserve, closing in one hour.
func (h *Harness) AuctionParams(reserve *big.Int) domain.AuctionParams {
	return domain.AuctionParams{
		Seller:          common.HexToAddress("0x5e11e7"),
		AssetToken:      AssetToken,
		AssetAmount:     big.NewInt(100),
		ReservePrice:    reserve,
		BiddingDeadline: h.Clock.Now().Add(time.Hour).Unix(),
		SourceChainID:   domain.ArbitrumOneChainID,
		TargetChainID:   domain.SepoliaChainID,
	}
}

func (h *Harness) OpenAuction(
	t *testing.T, params domain.AuctionParams,
) *domain.Auction {
	auction, err := h.AuctionSvc.OpenAuction(context.Background(), params)
	require.NoError(t, err)
	return auction
}

// NewBid returns a bid for the given price sealed for the enclave and
// signed by a new bidder, whose key is also returned.
func (h *Harness) NewBid(
	t *testing.T, auctionID uint64, price, deposit *big.Int,
) (domain.BidCommitment, *ecdsa.PrivateKey) {
	bidderKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	return h.NewBidFrom(t, bidderKey, auctionID, price, deposit), bidderKey
}

func (h *Harness) NewBidFrom(
	t *testing.T, bidderKey *ecdsa.PrivateKey,
	auctionID uint64, price, deposit *big.Int,
) domain.BidCommitment {
	escrowKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	now := h.Clock.Now().Unix()
	payload, err := h.Enclave.SealBid(price, now)
	require.NoError(t, err)

	bid := domain.BidCommitment{
		AuctionID:        auctionID,
		Bidder:           crypto.PubkeyToAddress(bidderKey.PublicKey),
		EscrowAddress:    crypto.PubkeyToAddress(escrowKey.PublicKey),
		EncryptedPayload: payload,
		DepositAmount:    deposit,
		Timestamp:        now,
	}
	require.NoError(t, domain.SignBid(&bid, bidderKey))
	return bid
}

// SubmitBids submits a bid for every (price, deposit) pair and returns the
// accepted ones.
func (h *Harness) SubmitBids(
	t *testing.T, auctionID uint64, prices, deposits []*big.Int,
) []domain.BidCommitment {
	require.Len(t, deposits, len(prices))

	bids := make([]domain.BidCommitment, 0, len(prices))
	for i := range prices {
		bid, _ := h.NewBid(t, auctionID, prices[i], deposits[i])
		accepted, err := h.AuctionSvc.SubmitBid(context.Background(), bid)
		require.NoError(t, err)
		bids = append(bids, *accepted)
	}
	return bids
}

// CloseAndMatch closes the auction and matches it with the result of the
// simulated enclave.
func (h *Harness) CloseAndMatch(
	t *testing.T, auctionID uint64,
) (*domain.MatchResult, *domain.SettlementMessage) {
	ctx := context.Background()
	require.NoError(t, h.AuctionSvc.CloseAuction(ctx, auctionID))

	auction, err := h.AuctionSvc.GetAuction(ctx, auctionID)
	require.NoError(t, err)
	claim, att, err := h.Enclave.MatchAuction(auction)
	require.NoError(t, err)

	match, msg, err := h.AuctionSvc.MatchAuction(ctx, auctionID, *claim, *att)
	require.NoError(t, err)
	return match, msg
}

// Clear records a compliant outcome for the given participant.
func (h *Harness) Clear(t *testing.T, participant common.Address) {
	outcome := domain.ComplianceOutcome{
		Participant:  participant,
		Compliant:    true,
		RulesVersion: "1.0",
		CheckedAt:    h.Clock.Now().Unix(),
	}
	att, err := h.Enclave.AttestCompliance(outcome)
	require.NoError(t, err)
	_, err = h.ComplianceSvc.RecordCompliance(context.Background(), outcome, *att)
	require.NoError(t, err)
}
