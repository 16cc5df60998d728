package ports

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
)

// TargetSettlement is the state of a settlement on the target chain.
type TargetSettlement struct {
	Executed bool
	TxHash   string
}

// SettlementExecutor invokes the settlement entry point of a target chain.
type SettlementExecutor interface {
	// ExecuteSettlement submits the signed message to the settlement
	// contract of the given chain and waits for its outcome. It returns the
	// hash of the executing transaction.
	ExecuteSettlement(
		ctx context.Context, chain domain.Chain,
		msg domain.SignedSettlementMessage,
	) (string, error)
	// GetSettlement returns whether the message with the given hash was
	// already executed on the given chain.
	GetSettlement(
		ctx context.Context, chain domain.Chain, hash common.Hash,
	) (*TargetSettlement, error)
}
