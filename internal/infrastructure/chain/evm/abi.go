package evm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
)

const (
	receiveSettlementMethod = "receiveSettlement"
	settlementsMethod       = "settlements"
	settlementReceivedEvent = "SettlementReceived"

	// settlementExecuted is the status of an executed settlement in the
	// settlements mapping of the contract.
	settlementExecuted = uint8(1)
)

const settlementABIJSON = `[
  {
    "type": "function",
    "name": "receiveSettlement",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "sourceChainId", "type": "uint256"},
      {"name": "assetToken", "type": "address"},
      {"name": "recipient", "type": "address"},
      {"name": "amount", "type": "uint256"},
      {"name": "teeAttestation", "type": "bytes32"},
      {"name": "messageHash", "type": "bytes32"},
      {"name": "signature", "type": "bytes"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "settlements",
    "stateMutability": "view",
    "inputs": [{"name": "messageHash", "type": "bytes32"}],
    "outputs": [
      {"name": "status", "type": "uint8"},
      {"name": "recipient", "type": "address"},
      {"name": "amount", "type": "uint256"},
      {"name": "assetToken", "type": "address"}
    ]
  },
  {
    "type": "event",
    "name": "SettlementReceived",
    "anonymous": false,
    "inputs": [
      {"name": "messageHash", "type": "bytes32", "indexed": true},
      {"name": "sourceChainId", "type": "uint256", "indexed": false},
      {"name": "recipient", "type": "address", "indexed": true},
      {"name": "amount", "type": "uint256", "indexed": false}
    ]
  }
]`

var settlementABI = mustParseABI(settlementABIJSON)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// packReceiveSettlement returns the calldata of the settlement entry point
// for the given signed message.
func packReceiveSettlement(msg domain.SignedSettlementMessage) ([]byte, error) {
	p := msg.Payload
	if p.Amount == nil {
		return nil, fmt.Errorf("missing amount")
	}
	return settlementABI.Pack(
		receiveSettlementMethod,
		new(big.Int).SetUint64(p.SourceChainID),
		p.AssetToken,
		p.Recipient,
		p.Amount,
		[32]byte(p.AttestationRef),
		[32]byte(p.Hash),
		msg.Signature,
	)
}

// targetSettlement is the entry of the settlements mapping of the contract.
type targetSettlement struct {
	Status     uint8
	Recipient  common.Address
	Amount     *big.Int
	AssetToken common.Address
}

func unpackSettlement(out []interface{}) (*targetSettlement, error) {
	if len(out) != 4 {
		return nil, fmt.Errorf("unexpected settlements output length %d", len(out))
	}
	status, ok := out[0].(uint8)
	if !ok {
		return nil, fmt.Errorf("unexpected settlement status type %T", out[0])
	}
	recipient, _ := out[1].(common.Address)
	amount, _ := out[2].(*big.Int)
	assetToken, _ := out[3].(common.Address)
	return &targetSettlement{status, recipient, amount, assetToken}, nil
}
