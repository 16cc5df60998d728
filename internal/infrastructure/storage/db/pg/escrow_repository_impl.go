package postgresdb

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
)

type escrowRepositoryImpl struct {
	db *repoManager
}

func NewEscrowRepositoryImpl(db *repoManager) domain.EscrowRepository {
	return &escrowRepositoryImpl{db}
}

func (r *escrowRepositoryImpl) AddEscrow(
	ctx context.Context, entry *domain.EscrowEntry,
) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	if _, err := r.db.querier(ctx).Exec(
		ctx,
		"INSERT INTO escrow (address, auction_id, created_at, data) VALUES ($1, $2, $3, $4)",
		entry.Address.Hex(), entry.AuctionID, entry.CreatedAt, data,
	); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateEscrow
		}
		return err
	}
	return nil
}

func (r *escrowRepositoryImpl) GetEscrow(
	ctx context.Context, address common.Address,
) (*domain.EscrowEntry, error) {
	return r.getEscrow(ctx, r.db.querier(ctx), address, false)
}

func (r *escrowRepositoryImpl) GetEscrowsByAuction(
	ctx context.Context, auctionID uint64,
) ([]domain.EscrowEntry, error) {
	rows, err := r.db.querier(ctx).Query(
		ctx,
		"SELECT data FROM escrow WHERE auction_id = $1 ORDER BY created_at, address",
		auctionID,
	)
	if err != nil {
		return nil, err
	}
	return collectData[domain.EscrowEntry](rows)
}

func (r *escrowRepositoryImpl) UpdateEscrow(
	ctx context.Context,
	address common.Address,
	updateFn func(e *domain.EscrowEntry) (*domain.EscrowEntry, error),
) error {
	return r.db.execTx(
		ctx, pgx.ReadWrite, func(ctx context.Context, q querier) error {
			entry, err := r.getEscrow(ctx, q, address, true)
			if err != nil {
				return err
			}

			updatedEntry, err := updateFn(entry)
			if err != nil {
				return err
			}

			data, err := json.Marshal(updatedEntry)
			if err != nil {
				return err
			}

			_, err = q.Exec(
				ctx, "UPDATE escrow SET data = $1 WHERE address = $2",
				data, address.Hex(),
			)
			return err
		},
	)
}

func (r *escrowRepositoryImpl) getEscrow(
	ctx context.Context, q querier, address common.Address, forUpdate bool,
) (*domain.EscrowEntry, error) {
	query := "SELECT data FROM escrow WHERE address = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}

	entry, err := scanData[domain.EscrowEntry](q.QueryRow(ctx, query, address.Hex()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEscrowNotFound
		}
		return nil, err
	}
	return entry, nil
}
