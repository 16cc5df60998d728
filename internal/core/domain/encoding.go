package domain

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// All hashes below are keccak256 over the Solidity abi.encode of a fixed
// list of static/dynamic fields, so that any chain can recompute them.
var (
	uint256Type = mustNewType("uint256")
	addressType = mustNewType("address")
	bytes32Type = mustNewType("bytes32")
	bytesType   = mustNewType("bytes")
	boolType    = mustNewType("bool")
	stringType  = mustNewType("string")

	// (sourceChainId, assetToken, recipient, amount, attestationReference)
	settlementArguments = abi.Arguments{
		{Name: "sourceChainId", Type: uint256Type},
		{Name: "assetToken", Type: addressType},
		{Name: "recipient", Type: addressType},
		{Name: "amount", Type: uint256Type},
		{Name: "attestationReference", Type: bytes32Type},
	}

	// (auctionId, bidderAddress, encryptedPayload, escrowAddress,
	// depositAmount, timestamp)
	bidArguments = abi.Arguments{
		{Name: "auctionId", Type: uint256Type},
		{Name: "bidderAddress", Type: addressType},
		{Name: "encryptedPayload", Type: bytesType},
		{Name: "escrowAddress", Type: addressType},
		{Name: "depositAmount", Type: uint256Type},
		{Name: "timestamp", Type: uint256Type},
	}

	// (auctionId, winner, winningEscrow, winningPrice, bidSetRoot)
	matchArguments = abi.Arguments{
		{Name: "auctionId", Type: uint256Type},
		{Name: "winner", Type: addressType},
		{Name: "winningEscrow", Type: addressType},
		{Name: "winningPrice", Type: uint256Type},
		{Name: "bidSetRoot", Type: bytes32Type},
	}

	// (participant, compliant, rulesVersion, checkedAt)
	complianceArguments = abi.Arguments{
		{Name: "participant", Type: addressType},
		{Name: "compliant", Type: boolType},
		{Name: "rulesVersion", Type: stringType},
		{Name: "checkedAt", Type: uint256Type},
	}
)

// IsUint256 returns whether n fits a Solidity uint256. The abi encoder
// silently reduces larger values modulo 2^256.
func IsUint256(n *big.Int) bool {
	return n != nil && n.Sign() >= 0 && n.BitLen() <= 256
}

func mustNewType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("abi type %s: %s", t, err))
	}
	return typ
}

// EncodeSettlement returns the canonical encoding of a settlement message.
func EncodeSettlement(
	sourceChainID uint64, assetToken, recipient common.Address,
	amount *big.Int, attestationRef common.Hash,
) ([]byte, error) {
	if !IsUint256(amount) {
		return nil, fmt.Errorf("%w: amount must be a uint256", ErrInvalidSettlement)
	}
	return settlementArguments.Pack(
		new(big.Int).SetUint64(sourceChainID), assetToken, recipient,
		amount, [32]byte(attestationRef),
	)
}

// SettlementHash returns the content address of a settlement message, which
// is also its delivery idempotency key.
func SettlementHash(
	sourceChainID uint64, assetToken, recipient common.Address,
	amount *big.Int, attestationRef common.Hash,
) (common.Hash, error) {
	buf, err := EncodeSettlement(
		sourceChainID, assetToken, recipient, amount, attestationRef,
	)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(buf), nil
}

func encodeBid(
	auctionID uint64, bidder common.Address, payload []byte,
	escrow common.Address, deposit *big.Int, timestamp int64,
) ([]byte, error) {
	if !IsUint256(deposit) {
		return nil, fmt.Errorf("%w: deposit must be a uint256", ErrInvalidBid)
	}
	if timestamp < 0 {
		return nil, fmt.Errorf("%w: timestamp must be non negative", ErrInvalidBid)
	}
	return bidArguments.Pack(
		new(big.Int).SetUint64(auctionID), bidder, payload, escrow, deposit,
		big.NewInt(timestamp),
	)
}

// MatchResultHash returns the hash an enclave must attest to when declaring
// the winner of an auction. The bid set root binds the result to the exact
// set of bids recorded for the auction.
func MatchResultHash(
	auctionID uint64, winner, winningEscrow common.Address,
	winningPrice *big.Int, bidSetRoot common.Hash,
) (common.Hash, error) {
	if !IsUint256(winningPrice) {
		return common.Hash{}, fmt.Errorf(
			"%w: winning price must be a uint256", ErrInvalidMatchClaim,
		)
	}
	buf, err := matchArguments.Pack(
		new(big.Int).SetUint64(auctionID), winner, winningEscrow, winningPrice,
		[32]byte(bidSetRoot),
	)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(buf), nil
}

// BidSetRoot returns keccak256 of the concatenation of the given bid ids,
// sorted in ascending byte order.
func BidSetRoot(bidIDs []common.Hash) common.Hash {
	ids := make([]common.Hash, len(bidIDs))
	copy(ids, bidIDs)
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].Cmp(ids[j]) < 0
	})

	buf := make([]byte, 0, len(ids)*common.HashLength)
	for _, id := range ids {
		buf = append(buf, id.Bytes()...)
	}
	return crypto.Keccak256Hash(buf)
}

// ComplianceResultHash returns the hash an enclave must attest to when
// declaring the compliance outcome of a participant.
func ComplianceResultHash(
	participant common.Address, compliant bool, rulesVersion string,
	checkedAt int64,
) (common.Hash, error) {
	if checkedAt < 0 {
		return common.Hash{}, fmt.Errorf("check time must be non negative")
	}
	buf, err := complianceArguments.Pack(
		participant, compliant, rulesVersion, big.NewInt(checkedAt),
	)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(buf), nil
}
