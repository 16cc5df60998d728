package postgresdb

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
)

type auctionRepositoryImpl struct {
	db *repoManager
}

func NewAuctionRepositoryImpl(db *repoManager) domain.AuctionRepository {
	return &auctionRepositoryImpl{db}
}

func (r *auctionRepositoryImpl) AddAuction(
	ctx context.Context, auction *domain.Auction,
) (uint64, error) {
	var id uint64
	if err := r.db.execTx(
		ctx, pgx.ReadWrite, func(ctx context.Context, q querier) error {
			if err := q.QueryRow(
				ctx, "SELECT nextval('auction_id_seq')",
			).Scan(&id); err != nil {
				return err
			}

			a := *auction
			a.ID = id
			data, err := json.Marshal(a)
			if err != nil {
				return err
			}

			_, err = q.Exec(
				ctx, "INSERT INTO auction (id, status, data) VALUES ($1, $2, $3)",
				id, a.Status.String(), data,
			)
			return err
		},
	); err != nil {
		return 0, err
	}

	auction.ID = id
	return id, nil
}

func (r *auctionRepositoryImpl) GetAuction(
	ctx context.Context, id uint64,
) (*domain.Auction, error) {
	return r.getAuction(ctx, r.db.querier(ctx), id, false)
}

func (r *auctionRepositoryImpl) GetAllAuctions(
	ctx context.Context,
) ([]domain.Auction, error) {
	rows, err := r.db.querier(ctx).Query(
		ctx, "SELECT data FROM auction ORDER BY id",
	)
	if err != nil {
		return nil, err
	}
	return collectData[domain.Auction](rows)
}

func (r *auctionRepositoryImpl) GetAuctionsByStatus(
	ctx context.Context, status domain.AuctionStatus,
) ([]domain.Auction, error) {
	rows, err := r.db.querier(ctx).Query(
		ctx, "SELECT data FROM auction WHERE status = $1 ORDER BY id",
		status.String(),
	)
	if err != nil {
		return nil, err
	}
	return collectData[domain.Auction](rows)
}

func (r *auctionRepositoryImpl) UpdateAuction(
	ctx context.Context,
	id uint64, updateFn func(a *domain.Auction) (*domain.Auction, error),
) error {
	return r.db.execTx(
		ctx, pgx.ReadWrite, func(ctx context.Context, q querier) error {
			auction, err := r.getAuction(ctx, q, id, true)
			if err != nil {
				return err
			}

			updatedAuction, err := updateFn(auction)
			if err != nil {
				return err
			}

			data, err := json.Marshal(updatedAuction)
			if err != nil {
				return err
			}

			_, err = q.Exec(
				ctx, "UPDATE auction SET status = $1, data = $2 WHERE id = $3",
				updatedAuction.Status.String(), data, id,
			)
			return err
		},
	)
}

func (r *auctionRepositoryImpl) getAuction(
	ctx context.Context, q querier, id uint64, forUpdate bool,
) (*domain.Auction, error) {
	query := "SELECT data FROM auction WHERE id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}

	auction, err := scanData[domain.Auction](q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAuctionNotFound
		}
		return nil, err
	}
	return auction, nil
}
