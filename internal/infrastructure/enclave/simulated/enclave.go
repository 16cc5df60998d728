// Package simulated implements an in-process stand-in for the TEE task
// runner. It opens sealed bids, selects the winner and signs real
// attestations with its own key, so that it goes through the same
// verification as a production enclave.
package simulated

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
)

const nonceSize = 12

type bidContent struct {
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"`
}

// Enclave opens bids sealed with its bid key and attests its results with
// its attestation key.
type Enclave struct {
	key         *btcec.PrivateKey
	measurement common.Hash
	bidKey      []byte
	now         func() time.Time
}

// NewEnclave returns a simulated enclave. bidKey must be a valid AES key
// (16, 24 or 32 bytes).
func NewEnclave(
	key *btcec.PrivateKey, measurement common.Hash, bidKey []byte,
	now func() time.Time,
) (*Enclave, error) {
	if key == nil {
		return nil, fmt.Errorf("missing attestation key")
	}
	if measurement == (common.Hash{}) {
		return nil, fmt.Errorf("missing measurement")
	}
	if _, err := aes.NewCipher(bidKey); err != nil {
		return nil, fmt.Errorf("invalid bid key: %w", err)
	}
	if now == nil {
		now = time.Now
	}
	return &Enclave{key, measurement, bidKey, now}, nil
}

// PublicKey returns the attestation public key to pin in verifiers.
func (e *Enclave) PublicKey() *btcec.PublicKey {
	return e.key.PubKey()
}

// Measurement returns the enclave measurement.
func (e *Enclave) Measurement() common.Hash {
	return e.measurement
}

// SealBid encrypts the bid price for the enclave.
func (e *Enclave) SealBid(price *big.Int, timestamp int64) ([]byte, error) {
	return SealBid(e.bidKey, price, timestamp)
}

// MatchAuction opens every recorded bid, picks the winner and returns the
// match claim together with the attestation of its result hash.
func (e *Enclave) MatchAuction(
	auction *domain.Auction,
) (*domain.MatchClaim, *domain.Attestation, error) {
	revealed := make([]domain.RevealedBid, 0, len(auction.Bids))
	for _, bid := range auction.Bids {
		price, timestamp, err := OpenBid(e.bidKey, bid.EncryptedPayload)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open bid %s: %w", bid.ID, err)
		}
		revealed = append(revealed, domain.RevealedBid{
			Bidder:        bid.Bidder,
			EscrowAddress: bid.EscrowAddress,
			Price:         price,
			Timestamp:     timestamp,
		})
	}

	winner, ok := domain.SelectWinner(revealed, auction.ReservePrice)
	if !ok {
		return nil, nil, domain.ErrReserveNotMet
	}
	claim := winner.Claim()

	resultHash, err := auction.ExpectedResultHash(claim)
	if err != nil {
		return nil, nil, err
	}
	return &claim, e.Attest(resultHash), nil
}

// AttestCompliance returns the attestation of a compliance outcome.
func (e *Enclave) AttestCompliance(
	outcome domain.ComplianceOutcome,
) (*domain.Attestation, error) {
	resultHash, err := outcome.ResultHash()
	if err != nil {
		return nil, err
	}
	return e.Attest(resultHash), nil
}

// Attest signs an attestation of the given result hash.
func (e *Enclave) Attest(resultHash common.Hash) *domain.Attestation {
	att := &domain.Attestation{
		EnclaveMeasurement: e.measurement,
		ResultHash:         resultHash,
		Timestamp:          e.now().Unix(),
	}
	domain.SignAttestation(att, e.key)
	return att
}

// SealBid returns nonce || AES-GCM(bidKey, {"price", "timestamp"}).
func SealBid(bidKey []byte, price *big.Int, timestamp int64) ([]byte, error) {
	if price == nil || price.Sign() <= 0 {
		return nil, fmt.Errorf("price must be positive")
	}
	aead, err := newAEAD(bidKey)
	if err != nil {
		return nil, err
	}

	plaintext, err := json.Marshal(bidContent{price.String(), timestamp})
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// OpenBid decrypts a payload sealed with SealBid.
func OpenBid(bidKey, payload []byte) (*big.Int, int64, error) {
	if len(payload) <= nonceSize {
		return nil, 0, fmt.Errorf("payload too short")
	}
	aead, err := newAEAD(bidKey)
	if err != nil {
		return nil, 0, err
	}

	plaintext, err := aead.Open(nil, payload[:nonceSize], payload[nonceSize:], nil)
	if err != nil {
		return nil, 0, err
	}

	content := bidContent{}
	if err := json.Unmarshal(plaintext, &content); err != nil {
		return nil, 0, err
	}
	price, ok := new(big.Int).SetString(content.Price, 10)
	if !ok {
		return nil, 0, fmt.Errorf("invalid price %q", content.Price)
	}
	return price, content.Timestamp, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, nonceSize)
}
