package inmemory

import (
	"math/big"

	"github.com/tdex-network/tdex-settlement/internal/core/domain"
)

// Entities are stored and returned by deep copy so that callers never share
// memory with the store.

func cloneInt(i *big.Int) *big.Int {
	if i == nil {
		return nil
	}
	return new(big.Int).Set(i)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func cloneAuction(a domain.Auction) domain.Auction {
	c := a
	c.AssetAmount = cloneInt(a.AssetAmount)
	c.ReservePrice = cloneInt(a.ReservePrice)
	c.Bids = make([]domain.BidCommitment, 0, len(a.Bids))
	for _, b := range a.Bids {
		bid := b
		bid.EncryptedPayload = cloneBytes(b.EncryptedPayload)
		bid.DepositAmount = cloneInt(b.DepositAmount)
		bid.Signature = cloneBytes(b.Signature)
		c.Bids = append(c.Bids, bid)
	}
	if a.Match != nil {
		m := *a.Match
		m.WinningPrice = cloneInt(a.Match.WinningPrice)
		c.Match = &m
	}
	return c
}

func cloneEscrow(e domain.EscrowEntry) domain.EscrowEntry {
	c := e
	c.Amount = cloneInt(e.Amount)
	if e.Disposition != nil {
		d := *e.Disposition
		d.Withheld = cloneInt(e.Disposition.Withheld)
		d.Returned = cloneInt(e.Disposition.Returned)
		c.Disposition = &d
	}
	return c
}

func cloneSettlement(m domain.SettlementMessage) domain.SettlementMessage {
	c := m
	c.Payload.Amount = cloneInt(m.Payload.Amount)
	return c
}
