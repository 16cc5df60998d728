package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SettlementPayload is the immutable content of a settlement message. Hash
// is computed over the wire fields only: source chain, asset token,
// recipient, amount and attestation reference.
type SettlementPayload struct {
	Hash           common.Hash
	AuctionID      uint64
	SourceChainID  uint64
	TargetChainID  uint64
	AssetToken     common.Address
	Recipient      common.Address
	Amount         *big.Int
	AttestationRef common.Hash
}

// Encode returns the canonical wire encoding of the payload.
func (p SettlementPayload) Encode() ([]byte, error) {
	return EncodeSettlement(
		p.SourceChainID, p.AssetToken, p.Recipient, p.Amount, p.AttestationRef,
	)
}

// ComputeHash recomputes the content address of the payload.
func (p SettlementPayload) ComputeHash() (common.Hash, error) {
	return SettlementHash(
		p.SourceChainID, p.AssetToken, p.Recipient, p.Amount, p.AttestationRef,
	)
}

// VerifyHash checks the payload hash matches its content.
func (p SettlementPayload) VerifyHash() error {
	hash, err := p.ComputeHash()
	if err != nil {
		return err
	}
	if hash != p.Hash {
		return fmt.Errorf(
			"%w: hash %s does not match content %s", ErrInvalidSettlement, p.Hash, hash,
		)
	}
	return nil
}

// SettlementMessage is the payload plus its delivery state. The payload is
// never changed once created: re-delivery attempts reuse the same hash.
type SettlementMessage struct {
	Payload          SettlementPayload
	Status           DeliveryStatus
	Attempts         int
	AttemptStartedAt int64
	LastError        string
	TxHash           string
	CreatedAt        int64
	DeliveredAt      int64
}

// BuildSettlementMessage derives the settlement message of a matched auction.
// It is a pure function of its inputs.
func BuildSettlementMessage(
	auction *Auction, match *MatchResult, verified *VerifiedAttestation,
) (*SettlementMessage, error) {
	if auction == nil || match == nil || verified == nil {
		return nil, fmt.Errorf(
			"%w: auction, match and verified attestation are required",
			ErrInvalidSettlement,
		)
	}
	if match.AuctionID != auction.ID {
		return nil, fmt.Errorf(
			"%w: match is for auction %d, not %d",
			ErrInvalidSettlement, match.AuctionID, auction.ID,
		)
	}
	if match.AttestationRef != verified.Reference() ||
		match.ResultHash != verified.ResultHash() {
		return nil, fmt.Errorf(
			"%w: match is not backed by the given attestation", ErrInvalidSettlement,
		)
	}

	payload := SettlementPayload{
		AuctionID:      auction.ID,
		SourceChainID:  auction.SourceChainID,
		TargetChainID:  auction.TargetChainID,
		AssetToken:     auction.AssetToken,
		Recipient:      match.Winner,
		Amount:         new(big.Int).Set(match.WinningPrice),
		AttestationRef: match.AttestationRef,
	}
	hash, err := payload.ComputeHash()
	if err != nil {
		return nil, err
	}
	payload.Hash = hash

	return &SettlementMessage{
		Payload:   payload,
		Status:    DeliveryPending,
		CreatedAt: match.MatchedAt,
	}, nil
}

// Hash returns the message idempotency key.
func (m *SettlementMessage) Hash() common.Hash {
	return m.Payload.Hash
}

// IsDelivered returns whether the message reached its terminal status.
func (m *SettlementMessage) IsDelivered() bool {
	return m.Status == DeliveryDelivered
}

// IsAttemptInProgress returns whether a delivery attempt holds the lease.
func (m *SettlementMessage) IsAttemptInProgress(
	now time.Time, lease time.Duration,
) bool {
	if m.AttemptStartedAt <= 0 {
		return false
	}
	return now.Before(time.Unix(m.AttemptStartedAt, 0).Add(lease))
}

// BeginAttempt claims the delivery lease. A Failed message goes back to
// Pending.
func (m *SettlementMessage) BeginAttempt(now time.Time, lease time.Duration) error {
	if m.IsDelivered() {
		return ErrAlreadyDelivered
	}
	if m.IsAttemptInProgress(now, lease) {
		return ErrDeliveryInProgress
	}
	m.Status = DeliveryPending
	m.Attempts++
	m.AttemptStartedAt = now.Unix()
	return nil
}

// MarkDelivered brings the message to Delivered. Marking a Delivered message
// is a no-op and returns false.
func (m *SettlementMessage) MarkDelivered(txHash string, now time.Time) bool {
	if m.IsDelivered() {
		return false
	}
	m.Status = DeliveryDelivered
	m.TxHash = txHash
	m.LastError = ""
	m.AttemptStartedAt = 0
	m.DeliveredAt = now.Unix()
	return true
}

// MarkFailed records a target chain execution failure of the given attempt.
// The message can be retried.
func (m *SettlementMessage) MarkFailed(attempt int, reason string) error {
	if err := m.checkAttempt(attempt); err != nil {
		return err
	}
	m.Status = DeliveryFailed
	m.LastError = reason
	m.AttemptStartedAt = 0
	return nil
}

// MarkUnknown releases the lease of the given attempt whose outcome is
// unknown, for example on timeout. The message stays Pending so that the next attempt
// queries the target chain before executing again.
func (m *SettlementMessage) MarkUnknown(attempt int, reason string) error {
	if err := m.checkAttempt(attempt); err != nil {
		return err
	}
	m.Status = DeliveryPending
	m.LastError = reason
	m.AttemptStartedAt = 0
	return nil
}

// checkAttempt fences the outcome of an attempt: only the attempt holding
// the lease can release it.
func (m *SettlementMessage) checkAttempt(attempt int) error {
	if m.IsDelivered() {
		return ErrAlreadyDelivered
	}
	if attempt != m.Attempts {
		return fmt.Errorf(
			"%w: attempt %d, current %d", ErrStaleDeliveryAttempt, attempt, m.Attempts,
		)
	}
	return nil
}

// SignedSettlementMessage is a settlement payload signed by a relayer.
type SignedSettlementMessage struct {
	Payload   SettlementPayload
	Signature []byte
}

// SignSettlementMessage signs the message hash with the given signer.
func SignSettlementMessage(
	msg *SettlementMessage, signer Signer,
) (*SignedSettlementMessage, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: missing message", ErrInvalidSettlement)
	}
	if err := msg.Payload.VerifyHash(); err != nil {
		return nil, err
	}
	sig, err := signer.SignHash(msg.Hash())
	if err != nil {
		return nil, err
	}
	return &SignedSettlementMessage{msg.Payload, sig}, nil
}

// VerifySignedMessage checks the payload hash and that the signature
// resolves to one of the authorized relayers, returned on success.
func VerifySignedMessage(
	signed SignedSettlementMessage, authorized []common.Address,
) (common.Address, error) {
	if err := signed.Payload.VerifyHash(); err != nil {
		return common.Address{}, err
	}
	signer, err := recoverAddress(signed.Payload.Hash, signed.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	}
	for _, addr := range authorized {
		if addr == signer {
			return signer, nil
		}
	}
	return common.Address{}, fmt.Errorf("%w: %s", ErrUnauthorizedRelayer, signer)
}

// DeliveryReceipt is returned by a successful delivery.
type DeliveryReceipt struct {
	ID            string
	MessageHash   common.Hash
	SourceChainID uint64
	TargetChainID uint64
	TxHash        string
	Attempts      int
	DeliveredAt   int64
}
