package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AuctionParams are the arguments to open a new auction.
type AuctionParams struct {
	Seller            common.Address
	AssetToken        common.Address
	AssetAmount       *big.Int
	ReservePrice      *big.Int
	BiddingDeadline   int64
	SourceChainID     uint64
	TargetChainID     uint64
	RequireCompliance bool
}

// MatchClaim is the winner declared by the off-chain matcher.
type MatchClaim struct {
	Winner        common.Address
	WinningEscrow common.Address
	WinningPrice  *big.Int
}

// MatchResult records the attested winner of an auction. It is created
// once and never changed.
type MatchResult struct {
	AuctionID      uint64
	Winner         common.Address
	WinningEscrow  common.Address
	WinningPrice   *big.Int
	BidSetRoot     common.Hash
	ResultHash     common.Hash
	AttestationRef common.Hash
	MatchedAt      int64
}

// Auction is the sealed-bid auction entity. Auctions are never deleted.
type Auction struct {
	ID                uint64
	Seller            common.Address
	AssetToken        common.Address
	AssetAmount       *big.Int
	ReservePrice      *big.Int
	BiddingDeadline   int64
	SourceChainID     uint64
	TargetChainID     uint64
	RequireCompliance bool
	Status            AuctionStatus
	Bids              []BidCommitment
	Match             *MatchResult
	CancelReason      string
	CreatedAt         int64
	ClosedAt          int64
	SettledAt         int64
	CancelledAt       int64
}

// NewAuction returns an Open auction. The ID is assigned by the repository.
func NewAuction(p AuctionParams, now time.Time) (*Auction, error) {
	if p.AssetToken == (common.Address{}) {
		return nil, fmt.Errorf("%w: missing asset token", ErrInvalidAuction)
	}
	if p.AssetAmount == nil || p.AssetAmount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: asset amount must be positive", ErrInvalidAuction)
	}
	if p.ReservePrice == nil || p.ReservePrice.Sign() <= 0 {
		return nil, fmt.Errorf("%w: reserve price must be positive", ErrInvalidAuction)
	}
	if !IsUint256(p.AssetAmount) || !IsUint256(p.ReservePrice) {
		return nil, fmt.Errorf("%w: amounts must be uint256", ErrInvalidAuction)
	}
	if !time.Unix(p.BiddingDeadline, 0).After(now) {
		return nil, fmt.Errorf("%w: bidding deadline must be in the future", ErrInvalidAuction)
	}
	if p.SourceChainID == 0 || p.TargetChainID == 0 {
		return nil, fmt.Errorf("%w: missing chain id", ErrInvalidAuction)
	}

	return &Auction{
		Seller:            p.Seller,
		AssetToken:        p.AssetToken,
		AssetAmount:       new(big.Int).Set(p.AssetAmount),
		ReservePrice:      new(big.Int).Set(p.ReservePrice),
		BiddingDeadline:   p.BiddingDeadline,
		SourceChainID:     p.SourceChainID,
		TargetChainID:     p.TargetChainID,
		RequireCompliance: p.RequireCompliance,
		Status:            AuctionOpen,
		Bids:              make([]BidCommitment, 0),
		CreatedAt:         now.Unix(),
	}, nil
}

// AddBid records the given bid commitment after validating it and verifying
// its signature. It fails if the auction is not open or the deadline has
// passed, and if the escrow address is already used by another bid.
func (a *Auction) AddBid(bid BidCommitment, now time.Time) (*BidCommitment, error) {
	if a.Status.IsTerminal() {
		return nil, ErrAuctionFinalized
	}
	if a.Status != AuctionOpen || a.IsExpired(now) {
		return nil, ErrAuctionClosed
	}
	if bid.AuctionID != a.ID {
		return nil, fmt.Errorf(
			"%w: bid for auction %d submitted to auction %d",
			ErrInvalidBid, bid.AuctionID, a.ID,
		)
	}
	if err := bid.Validate(); err != nil {
		return nil, err
	}
	if a.HasEscrow(bid.EscrowAddress) {
		return nil, ErrDuplicateEscrow
	}
	if err := bid.VerifySignature(); err != nil {
		return nil, err
	}

	id, err := bid.Digest()
	if err != nil {
		return nil, err
	}
	accepted := bid
	accepted.ID = id
	accepted.DepositAmount = new(big.Int).Set(bid.DepositAmount)
	accepted.EncryptedPayload = append([]byte(nil), bid.EncryptedPayload...)
	accepted.Signature = append([]byte(nil), bid.Signature...)

	a.Bids = append(a.Bids, accepted)
	return &accepted, nil
}

// Close brings an Open auction to Closed. Closing a Closed auction is a
// no-op and returns false.
func (a *Auction) Close(now time.Time) (bool, error) {
	if a.Status == AuctionClosed {
		return false, nil
	}
	if a.Status.IsTerminal() {
		return false, ErrAuctionFinalized
	}
	if a.Status != AuctionOpen {
		return false, ErrAuctionClosed
	}
	a.Status = AuctionClosed
	a.ClosedAt = now.Unix()
	return true, nil
}

// ValidateMatchClaim checks the declared winner against the recorded bids
// and the reserve price without changing the auction.
func (a *Auction) ValidateMatchClaim(claim MatchClaim) error {
	if a.Status.IsTerminal() {
		return ErrAuctionFinalized
	}
	if a.Status == AuctionMatched {
		return ErrAuctionAlreadyMatched
	}
	if a.Status != AuctionClosed {
		return ErrAuctionNotClosed
	}
	if claim.WinningPrice == nil {
		return fmt.Errorf("%w: missing winning price", ErrReserveNotMet)
	}
	if !IsUint256(claim.WinningPrice) {
		return fmt.Errorf("%w: winning price must be a uint256", ErrInvalidMatchClaim)
	}
	if _, ok := a.findBid(claim.Winner, claim.WinningEscrow); !ok {
		return ErrNoSuchBid
	}
	if claim.WinningPrice.Cmp(a.ReservePrice) < 0 {
		return fmt.Errorf(
			"%w: %s < %s", ErrReserveNotMet, claim.WinningPrice, a.ReservePrice,
		)
	}
	return nil
}

// ExpectedResultHash recomputes, from the bids actually recorded, the result
// hash an enclave must attest to for the given claim.
func (a *Auction) ExpectedResultHash(claim MatchClaim) (common.Hash, error) {
	return MatchResultHash(
		a.ID, claim.Winner, claim.WinningEscrow, claim.WinningPrice,
		a.BidSetRoot(),
	)
}

// RecordMatch brings a Closed auction to Matched and records the match result.
// The verified attestation must bind exactly the result hash recomputed
// over this auction's bids.
func (a *Auction) RecordMatch(
	claim MatchClaim, verified *VerifiedAttestation, now time.Time,
) (*MatchResult, error) {
	if verified == nil {
		return nil, fmt.Errorf("%w: missing verified attestation", ErrResultMismatch)
	}
	if err := a.ValidateMatchClaim(claim); err != nil {
		return nil, err
	}

	resultHash, err := a.ExpectedResultHash(claim)
	if err != nil {
		return nil, err
	}
	if verified.ResultHash() != resultHash {
		return nil, fmt.Errorf(
			"%w: attested %s, recomputed %s",
			ErrResultMismatch, verified.ResultHash(), resultHash,
		)
	}

	a.Match = &MatchResult{
		AuctionID:      a.ID,
		Winner:         claim.Winner,
		WinningEscrow:  claim.WinningEscrow,
		WinningPrice:   new(big.Int).Set(claim.WinningPrice),
		BidSetRoot:     a.BidSetRoot(),
		ResultHash:     resultHash,
		AttestationRef: verified.Reference(),
		MatchedAt:      now.Unix(),
	}
	a.Status = AuctionMatched
	return a.Match, nil
}

// Settle brings a Matched auction to Settled. Settling a Settled auction is
// a no-op and returns false.
func (a *Auction) Settle(now time.Time) (bool, error) {
	if a.Status == AuctionSettled {
		return false, nil
	}
	if a.Status == AuctionCancelled {
		return false, ErrAuctionFinalized
	}
	if a.Status != AuctionMatched {
		return false, ErrAuctionNotMatched
	}
	a.Status = AuctionSettled
	a.SettledAt = now.Unix()
	return true, nil
}

// Cancel brings an Open or Closed auction to Cancelled.
func (a *Auction) Cancel(reason string, now time.Time) error {
	if a.Status.IsTerminal() {
		return ErrAuctionFinalized
	}
	if a.Status == AuctionMatched {
		return ErrAuctionNotCancellable
	}
	a.Status = AuctionCancelled
	a.CancelReason = reason
	a.CancelledAt = now.Unix()
	return nil
}

// IsExpired returns whether the bidding deadline has passed.
func (a *Auction) IsExpired(now time.Time) bool {
	return !now.Before(time.Unix(a.BiddingDeadline, 0))
}

// IsOpen returns whether the auction is accepting bids.
func (a *Auction) IsOpen(now time.Time) bool {
	return a.Status == AuctionOpen && !a.IsExpired(now)
}

// IsEscrowUnlocked returns whether escrow entries of this auction can leave
// the Held state.
func (a *Auction) IsEscrowUnlocked() bool {
	return a.Status == AuctionMatched ||
		a.Status == AuctionSettled ||
		a.Status == AuctionCancelled
}

// HasEscrow returns whether a bid already uses the given escrow address.
func (a *Auction) HasEscrow(escrow common.Address) bool {
	for _, b := range a.Bids {
		if b.EscrowAddress == escrow {
			return true
		}
	}
	return false
}

// BidIDs returns the identifiers of the recorded bids.
func (a *Auction) BidIDs() []common.Hash {
	ids := make([]common.Hash, 0, len(a.Bids))
	for _, b := range a.Bids {
		ids = append(ids, b.ID)
	}
	return ids
}

// BidSetRoot returns the root committing to the recorded bid set.
func (a *Auction) BidSetRoot() common.Hash {
	return BidSetRoot(a.BidIDs())
}

// TotalDeposits returns the sum of the deposits of the recorded bids.
func (a *Auction) TotalDeposits() *big.Int {
	tot := new(big.Int)
	for _, b := range a.Bids {
		tot.Add(tot, b.DepositAmount)
	}
	return tot
}

func (a *Auction) findBid(
	bidder, escrow common.Address,
) (*BidCommitment, bool) {
	for i := range a.Bids {
		if a.Bids[i].EscrowAddress == escrow && a.Bids[i].Bidder == bidder {
			return &a.Bids[i], true
		}
	}
	return nil, false
}
