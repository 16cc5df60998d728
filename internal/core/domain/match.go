package domain

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// RevealedBid is a bid whose sealed payload has been opened by the matcher.
type RevealedBid struct {
	Bidder        common.Address
	EscrowAddress common.Address
	Price         *big.Int
	Timestamp     int64
}

// Claim returns the match claim naming this bid as the winner.
func (b RevealedBid) Claim() MatchClaim {
	return MatchClaim{
		Winner:        b.Bidder,
		WinningEscrow: b.EscrowAddress,
		WinningPrice:  new(big.Int).Set(b.Price),
	}
}

// RankBids returns the given bids sorted from best to worst: highest price
// first, then earliest timestamp, then lowest escrow address. The input is
// not modified.
func RankBids(bids []RevealedBid) []RevealedBid {
	ranked := make([]RevealedBid, len(bids))
	copy(ranked, bids)

	sort.SliceStable(ranked, func(i, j int) bool {
		if c := ranked[i].Price.Cmp(ranked[j].Price); c != 0 {
			return c > 0
		}
		if ranked[i].Timestamp != ranked[j].Timestamp {
			return ranked[i].Timestamp < ranked[j].Timestamp
		}
		return ranked[i].EscrowAddress.Cmp(ranked[j].EscrowAddress) < 0
	})
	return ranked
}

// SelectWinner returns the best ranked bid meeting the reserve price, if
// any.
func SelectWinner(bids []RevealedBid, reservePrice *big.Int) (RevealedBid, bool) {
	for _, b := range RankBids(bids) {
		if b.Price != nil && b.Price.Cmp(reservePrice) >= 0 {
			return b, true
		}
	}
	return RevealedBid{}, false
}
