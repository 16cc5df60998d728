package relay_test

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/mock"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
	"github.com/tdex-network/tdex-settlement/internal/core/ports"
)

type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) ExecuteSettlement(
	ctx context.Context, chain domain.Chain, msg domain.SignedSettlementMessage,
) (string, error) {
	args := m.Called(ctx, chain, msg)

	var res string
	if a := args.Get(0); a != nil {
		res = a.(string)
	}
	return res, args.Error(1)
}

func (m *mockExecutor) GetSettlement(
	ctx context.Context, chain domain.Chain, hash common.Hash,
) (*ports.TargetSettlement, error) {
	args := m.Called(ctx, chain, hash)

	var res *ports.TargetSettlement
	if a := args.Get(0); a != nil {
		res = a.(*ports.TargetSettlement)
	}
	return res, args.Error(1)
}
