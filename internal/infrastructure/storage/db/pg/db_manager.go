package postgresdb

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
	"github.com/tdex-network/tdex-settlement/internal/core/ports"
)

const (
	uniqueViolation = "23505"
)

//go:embed migration/schema.sql
var schema string

type txKey struct{}

// querier is implemented by both the connection pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type DbConfig struct {
	DataSourceURL string
	MaxConns      int
}

type repoManager struct {
	pgxPool *pgxpool.Pool

	auctionRepository    domain.AuctionRepository
	escrowRepository     domain.EscrowRepository
	settlementRepository domain.SettlementRepository
	complianceRepository domain.ComplianceRepository
}

func NewService(dbConfig DbConfig) (ports.RepoManager, error) {
	pgxPool, err := connect(dbConfig)
	if err != nil {
		return nil, err
	}

	if _, err := pgxPool.Exec(context.Background(), schema); err != nil {
		pgxPool.Close()
		return nil, fmt.Errorf("failed to apply db schema: %w", err)
	}

	rm := &repoManager{pgxPool: pgxPool}
	rm.auctionRepository = NewAuctionRepositoryImpl(rm)
	rm.escrowRepository = NewEscrowRepositoryImpl(rm)
	rm.settlementRepository = NewSettlementRepositoryImpl(rm)
	rm.complianceRepository = NewComplianceRepositoryImpl(rm)

	return rm, nil
}

func (r *repoManager) AuctionRepository() domain.AuctionRepository {
	return r.auctionRepository
}

func (r *repoManager) EscrowRepository() domain.EscrowRepository {
	return r.escrowRepository
}

func (r *repoManager) SettlementRepository() domain.SettlementRepository {
	return r.settlementRepository
}

func (r *repoManager) ComplianceRepository() domain.ComplianceRepository {
	return r.complianceRepository
}

func (r *repoManager) RunTransaction(
	ctx context.Context,
	readOnly bool,
	handler func(ctx context.Context) (interface{}, error),
) (interface{}, error) {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return handler(ctx)
	}

	var res interface{}
	accessMode := pgx.ReadWrite
	if readOnly {
		accessMode = pgx.ReadOnly
	}

	ctx, runHooks := ports.WithCommitHooks(ctx)
	err := r.execTx(ctx, accessMode, func(ctx context.Context, _ querier) error {
		var err error
		res, err = handler(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	runHooks()
	return res, nil
}

func (r *repoManager) Close() {
	r.pgxPool.Close()
}

// execTx runs txBody in the transaction carried by ctx, if any, or in a
// new one committed only if txBody succeeds.
func (r *repoManager) execTx(
	ctx context.Context,
	accessMode pgx.TxAccessMode,
	txBody func(context.Context, querier) error,
) error {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return txBody(ctx, tx)
	}

	tx, err := r.pgxPool.BeginTx(ctx, pgx.TxOptions{AccessMode: accessMode})
	if err != nil {
		return err
	}

	// Rollback is safe to call even if the tx is already closed, so if
	// the tx commits successfully, this is a no-op.
	defer func() {
		err := tx.Rollback(ctx)
		switch {
		// If the tx was already closed (it was successfully executed)
		// we do not need to log that error.
		case errors.Is(err, pgx.ErrTxClosed):
			return

		// If this is an unexpected error, log it.
		case err != nil:
			log.Errorf("unable to rollback db tx: %v", err)
		}
	}()

	if err := txBody(context.WithValue(ctx, txKey{}, tx), tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// querier returns the transaction carried by ctx or the pool.
func (r *repoManager) querier(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return r.pgxPool
}

func connect(dbConfig DbConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dbConfig.DataSourceURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if dbConfig.MaxConns > 0 {
		poolConfig.MaxConns = int32(dbConfig.MaxConns)
	}
	return pgxpool.NewWithConfig(context.Background(), poolConfig)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func scanData[T any](row pgx.Row) (*T, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		return nil, err
	}
	v := new(T)
	if err := json.Unmarshal(data, v); err != nil {
		return nil, err
	}
	return v, nil
}

func collectData[T any](rows pgx.Rows) ([]T, error) {
	defer rows.Close()

	list := make([]T, 0)
	for rows.Next() {
		v, err := scanData[T](rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}
