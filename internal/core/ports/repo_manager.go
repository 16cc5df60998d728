package ports

import (
	"context"

	"github.com/tdex-network/tdex-settlement/internal/core/domain"
)

// RepoManager gives access to the repositories of every entity and lets
// run multiple operations on them in a single atomic transaction.
type RepoManager interface {
	AuctionRepository() domain.AuctionRepository
	EscrowRepository() domain.EscrowRepository
	SettlementRepository() domain.SettlementRepository
	ComplianceRepository() domain.ComplianceRepository

	// RunTransaction executes the handler in a db transaction. The handler's
	// changes are committed only if it returns no error. Repositories must
	// be called with the context passed to the handler. A handler invoked
	// with a context that already carries a transaction joins it, and the
	// functions registered with AfterCommit run once the outermost one
	// commits.
	RunTransaction(
		ctx context.Context,
		readOnly bool,
		handler func(ctx context.Context) (interface{}, error),
	) (interface{}, error)

	Close()
}
