package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const (
	// ForfeitBurn destroys the whole forfeited deposit.
	ForfeitBurn = "burn"
	// ForfeitTreasury moves the whole forfeited deposit to the treasury.
	ForfeitTreasury = "treasury"
	// ForfeitPenalty withholds a share of the deposit for the treasury and
	// returns the rest to the bidder.
	ForfeitPenalty = "penalty"
)

// ForfeitPolicy defines how the funds of a forfeited escrow are disposed of.
type ForfeitPolicy struct {
	Kind        string
	Treasury    common.Address
	PenaltyRate decimal.Decimal
}

// NewForfeitPolicy returns a validated forfeit policy.
func NewForfeitPolicy(
	kind string, treasury common.Address, penaltyRate decimal.Decimal,
) (ForfeitPolicy, error) {
	p := ForfeitPolicy{kind, treasury, penaltyRate}
	if err := p.Validate(); err != nil {
		return ForfeitPolicy{}, err
	}
	return p, nil
}

// Validate checks the policy is consistent with its kind.
func (p ForfeitPolicy) Validate() error {
	switch p.Kind {
	case ForfeitBurn:
		return nil
	case ForfeitTreasury:
		if p.Treasury == (common.Address{}) {
			return fmt.Errorf("%w: missing treasury address", ErrInvalidForfeitPolicy)
		}
		return nil
	case ForfeitPenalty:
		if p.Treasury == (common.Address{}) {
			return fmt.Errorf("%w: missing treasury address", ErrInvalidForfeitPolicy)
		}
		if p.PenaltyRate.IsNegative() || p.PenaltyRate.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf(
				"%w: penalty rate must be in range [0, 1]", ErrInvalidForfeitPolicy,
			)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidForfeitPolicy, p.Kind)
	}
}

// Dispose splits the given forfeited amount according to the policy.
func (p ForfeitPolicy) Dispose(amount *big.Int) ForfeitDisposition {
	d := ForfeitDisposition{
		Kind:      p.Kind,
		Recipient: p.Treasury,
		Withheld:  new(big.Int).Set(amount),
		Returned:  new(big.Int),
	}
	switch p.Kind {
	case ForfeitBurn:
		d.Recipient = common.Address{}
	case ForfeitPenalty:
		withheld := decimal.NewFromBigInt(amount, 0).Mul(p.PenaltyRate).Floor()
		d.Withheld = withheld.BigInt()
		d.Returned = new(big.Int).Sub(amount, d.Withheld)
	}
	return d
}

// ForfeitDisposition records where the funds of a forfeited escrow go.
// Recipient is the zero address when the funds are burned.
type ForfeitDisposition struct {
	Kind      string
	Recipient common.Address
	Withheld  *big.Int
	Returned  *big.Int
}

// EscrowEntry is a deposit locked to a one-time escrow address for a bid.
type EscrowEntry struct {
	Address       common.Address
	AuctionID     uint64
	Bidder        common.Address
	Amount        *big.Int
	State         EscrowState
	CreatedAt     int64
	FinalizedAt   int64
	ForfeitReason string
	Disposition   *ForfeitDisposition
}

// NewEscrowEntry returns a Held entry for the given accepted bid.
func NewEscrowEntry(bid BidCommitment, now time.Time) (*EscrowEntry, error) {
	if bid.EscrowAddress == (common.Address{}) {
		return nil, fmt.Errorf("%w: missing escrow address", ErrInvalidBid)
	}
	if bid.DepositAmount == nil || bid.DepositAmount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: deposit amount must be positive", ErrInvalidBid)
	}
	return &EscrowEntry{
		Address:   bid.EscrowAddress,
		AuctionID: bid.AuctionID,
		Bidder:    bid.Bidder,
		Amount:    new(big.Int).Set(bid.DepositAmount),
		State:     EscrowHeld,
		CreatedAt: now.Unix(),
	}, nil
}

// Release moves the winner's entry from Held to Released and returns the
// amount counted toward settlement. The auction must carry a match result
// naming this entry as the winning escrow.
func (e *EscrowEntry) Release(auction *Auction, now time.Time) (*big.Int, error) {
	if e.State.IsFinal() {
		return nil, ErrAlreadyFinalized
	}
	if !e.isWinningEntryOf(auction) {
		return nil, ErrNotWinner
	}

	e.State = EscrowReleased
	e.FinalizedAt = now.Unix()
	return new(big.Int).Set(e.Amount), nil
}

// Refund moves a non-winning entry from Held to Refunded and returns the
// amount given back to the bidder.
func (e *EscrowEntry) Refund(auction *Auction, now time.Time) (*big.Int, error) {
	if e.State.IsFinal() {
		return nil, ErrAlreadyFinalized
	}
	if err := e.checkUnlocked(auction); err != nil {
		return nil, err
	}
	if e.isWinningEntryOf(auction) {
		return nil, ErrWinningEscrow
	}

	e.State = EscrowRefunded
	e.FinalizedAt = now.Unix()
	return new(big.Int).Set(e.Amount), nil
}

// Forfeit moves a non-winning entry from Held to Forfeited. The deposit is
// disposed of according to the given policy and is never fully returned to
// the bidder unless the policy is a zero-rate penalty.
func (e *EscrowEntry) Forfeit(
	auction *Auction, reason string, policy ForfeitPolicy, now time.Time,
) (*ForfeitDisposition, error) {
	if e.State.IsFinal() {
		return nil, ErrAlreadyFinalized
	}
	if reason == "" {
		return nil, ErrInvalidForfeitReason
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if err := e.checkUnlocked(auction); err != nil {
		return nil, err
	}
	if e.isWinningEntryOf(auction) {
		return nil, ErrWinningEscrow
	}

	disposition := policy.Dispose(e.Amount)
	e.State = EscrowForfeited
	e.ForfeitReason = reason
	e.Disposition = &disposition
	e.FinalizedAt = now.Unix()
	return &disposition, nil
}

func (e *EscrowEntry) checkUnlocked(auction *Auction) error {
	if auction == nil || auction.ID != e.AuctionID {
		return fmt.Errorf("%w: escrow does not belong to auction", ErrEscrowLocked)
	}
	if !auction.IsEscrowUnlocked() {
		return ErrEscrowLocked
	}
	return nil
}

func (e *EscrowEntry) isWinningEntryOf(auction *Auction) bool {
	return auction != nil &&
		auction.ID == e.AuctionID &&
		auction.Match != nil &&
		auction.Match.WinningEscrow == e.Address &&
		auction.Match.Winner == e.Bidder
}

// EscrowTotals are the per-state sums of the escrow entries of an auction.
type EscrowTotals struct {
	AuctionID uint64
	Held      *big.Int
	Released  *big.Int
	Refunded  *big.Int
	Forfeited *big.Int
	Deposited *big.Int
	Entries   int
}

// ComputeEscrowTotals sums the given entries per state.
func ComputeEscrowTotals(auctionID uint64, entries []EscrowEntry) EscrowTotals {
	t := EscrowTotals{
		AuctionID: auctionID,
		Held:      new(big.Int),
		Released:  new(big.Int),
		Refunded:  new(big.Int),
		Forfeited: new(big.Int),
		Deposited: new(big.Int),
	}
	for _, e := range entries {
		if e.AuctionID != auctionID {
			continue
		}
		t.Entries++
		t.Deposited.Add(t.Deposited, e.Amount)
		switch e.State {
		case EscrowHeld:
			t.Held.Add(t.Held, e.Amount)
		case EscrowReleased:
			t.Released.Add(t.Released, e.Amount)
		case EscrowRefunded:
			t.Refunded.Add(t.Refunded, e.Amount)
		case EscrowForfeited:
			t.Forfeited.Add(t.Forfeited, e.Amount)
		}
	}
	return t
}

// Sum returns Held + Released + Refunded + Forfeited.
func (t EscrowTotals) Sum() *big.Int {
	sum := new(big.Int).Add(t.Held, t.Released)
	sum.Add(sum, t.Refunded)
	return sum.Add(sum, t.Forfeited)
}

// Balanced returns whether the per-state sums add up to the given amount
// ever deposited for the auction.
func (t EscrowTotals) Balanced(totalDeposited *big.Int) bool {
	return t.Sum().Cmp(totalDeposited) == 0 &&
		t.Deposited.Cmp(totalDeposited) == 0
}
