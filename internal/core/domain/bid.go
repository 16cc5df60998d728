package domain

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// BidCommitment is a sealed bid bound to a one-time escrow deposit. It is
// immutable once accepted by an auction.
type BidCommitment struct {
	ID               common.Hash
	AuctionID        uint64
	Bidder           common.Address
	EscrowAddress    common.Address
	EncryptedPayload []byte
	DepositAmount    *big.Int
	Timestamp        int64
	Signature        []byte
}

// Validate checks the bid fields, without verifying the signature.
func (b BidCommitment) Validate() error {
	if b.Bidder == (common.Address{}) {
		return fmt.Errorf("%w: missing bidder", ErrInvalidBid)
	}
	if b.EscrowAddress == (common.Address{}) {
		return fmt.Errorf("%w: missing escrow address", ErrInvalidBid)
	}
	if b.EscrowAddress == b.Bidder {
		return fmt.Errorf("%w: escrow address must differ from bidder", ErrInvalidBid)
	}
	if len(b.EncryptedPayload) <= 0 {
		return fmt.Errorf("%w: missing encrypted payload", ErrInvalidBid)
	}
	if b.DepositAmount == nil || b.DepositAmount.Sign() <= 0 {
		return fmt.Errorf("%w: deposit amount must be positive", ErrInvalidBid)
	}
	if !IsUint256(b.DepositAmount) {
		return fmt.Errorf("%w: deposit amount must be a uint256", ErrInvalidBid)
	}
	if b.Timestamp <= 0 {
		return fmt.Errorf("%w: timestamp must be positive", ErrInvalidBid)
	}
	if len(b.Signature) != crypto.SignatureLength {
		return fmt.Errorf(
			"%w: signature must be %d bytes", ErrInvalidBid, crypto.SignatureLength,
		)
	}
	return nil
}

// Digest returns keccak256 of the canonical encoding of the signed fields.
// It is also the bid identifier.
func (b BidCommitment) Digest() (common.Hash, error) {
	buf, err := encodeBid(
		b.AuctionID, b.Bidder, b.EncryptedPayload, b.EscrowAddress,
		b.DepositAmount, b.Timestamp,
	)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(buf), nil
}

// SigningHash is the EIP-191 personal message hash of the bid digest, that
// is what a wallet signs when asked to sign the 32-byte digest.
func (b BidCommitment) SigningHash() (common.Hash, error) {
	digest, err := b.Digest()
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(accounts.TextHash(digest.Bytes())), nil
}

// VerifySignature recovers the signer of the bid and checks it matches the
// claimed bidder.
func (b BidCommitment) VerifySignature() error {
	hash, err := b.SigningHash()
	if err != nil {
		return err
	}
	signer, err := recoverAddress(hash, b.Signature)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	}
	if signer != b.Bidder {
		return fmt.Errorf("%w: bid not signed by bidder", ErrInvalidSignature)
	}
	return nil
}

// SignBid fills the bid signature with one produced by the given key.
func SignBid(b *BidCommitment, key *ecdsa.PrivateKey) error {
	hash, err := b.SigningHash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash.Bytes(), key)
	if err != nil {
		return err
	}
	b.Signature = sig
	return nil
}

// DeriveEscrowAddress returns a one-time escrow address bound to a bidder,
// an auction and a random salt, in the style of CREATE2 addresses.
func DeriveEscrowAddress(
	bidder common.Address, auctionID uint64, salt [32]byte,
) common.Address {
	id := common.BigToHash(new(big.Int).SetUint64(auctionID))
	hash := crypto.Keccak256([]byte{0xff}, bidder.Bytes(), id.Bytes(), salt[:])
	return common.BytesToAddress(hash[12:])
}

func recoverAddress(hash common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length")
	}
	s := make([]byte, len(sig))
	copy(s, sig)
	// wallets produce v in {27, 28}
	if s[crypto.RecoveryIDOffset] >= 27 {
		s[crypto.RecoveryIDOffset] -= 27
	}
	pubkey, err := crypto.SigToPub(hash.Bytes(), s)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pubkey), nil
}
