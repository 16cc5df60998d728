package postgresdb

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
)

type settlementRepositoryImpl struct {
	db *repoManager
}

func NewSettlementRepositoryImpl(db *repoManager) domain.SettlementRepository {
	return &settlementRepositoryImpl{db}
}

func (r *settlementRepositoryImpl) AddSettlement(
	ctx context.Context, msg *domain.SettlementMessage,
) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	if _, err := r.db.querier(ctx).Exec(
		ctx,
		"INSERT INTO settlement (hash, auction_id, status, data) VALUES ($1, $2, $3, $4)",
		msg.Hash().Hex(), msg.Payload.AuctionID, msg.Status.String(), data,
	); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrSettlementExists
		}
		return err
	}
	return nil
}

func (r *settlementRepositoryImpl) GetSettlement(
	ctx context.Context, hash common.Hash,
) (*domain.SettlementMessage, error) {
	return r.getSettlement(
		ctx, r.db.querier(ctx),
		"SELECT data FROM settlement WHERE hash = $1", hash.Hex(),
	)
}

func (r *settlementRepositoryImpl) GetSettlementByAuction(
	ctx context.Context, auctionID uint64,
) (*domain.SettlementMessage, error) {
	return r.getSettlement(
		ctx, r.db.querier(ctx),
		"SELECT data FROM settlement WHERE auction_id = $1", auctionID,
	)
}

func (r *settlementRepositoryImpl) GetSettlementsByStatus(
	ctx context.Context, status domain.DeliveryStatus,
) ([]domain.SettlementMessage, error) {
	rows, err := r.db.querier(ctx).Query(
		ctx, "SELECT data FROM settlement WHERE status = $1 ORDER BY auction_id",
		status.String(),
	)
	if err != nil {
		return nil, err
	}
	return collectData[domain.SettlementMessage](rows)
}

func (r *settlementRepositoryImpl) UpdateSettlement(
	ctx context.Context,
	hash common.Hash,
	updateFn func(m *domain.SettlementMessage) (*domain.SettlementMessage, error),
) error {
	return r.db.execTx(
		ctx, pgx.ReadWrite, func(ctx context.Context, q querier) error {
			msg, err := r.getSettlement(
				ctx, q, "SELECT data FROM settlement WHERE hash = $1 FOR UPDATE",
				hash.Hex(),
			)
			if err != nil {
				return err
			}

			updatedMsg, err := updateFn(msg)
			if err != nil {
				return err
			}

			data, err := json.Marshal(updatedMsg)
			if err != nil {
				return err
			}

			_, err = q.Exec(
				ctx, "UPDATE settlement SET status = $1, data = $2 WHERE hash = $3",
				updatedMsg.Status.String(), data, hash.Hex(),
			)
			return err
		},
	)
}

func (r *settlementRepositoryImpl) getSettlement(
	ctx context.Context, q querier, query string, arg any,
) (*domain.SettlementMessage, error) {
	msg, err := scanData[domain.SettlementMessage](q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSettlementNotFound
		}
		return nil, err
	}
	return msg, nil
}
