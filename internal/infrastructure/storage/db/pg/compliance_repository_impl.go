package postgresdb

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
)

type complianceRepositoryImpl struct {
	db *repoManager
}

func NewComplianceRepositoryImpl(db *repoManager) domain.ComplianceRepository {
	return &complianceRepositoryImpl{db}
}

func (r *complianceRepositoryImpl) UpsertComplianceRecord(
	ctx context.Context, record *domain.ComplianceRecord,
) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	tag, err := r.db.querier(ctx).Exec(
		ctx,
		`INSERT INTO compliance (participant, data) VALUES ($1, $2)
		ON CONFLICT (participant) DO UPDATE SET data = EXCLUDED.data
		WHERE (compliance.data->>'CheckedAt')::BIGINT <
			(EXCLUDED.data->>'CheckedAt')::BIGINT`,
		record.Participant.Hex(), data,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStaleComplianceOutcome
	}
	return nil
}

func (r *complianceRepositoryImpl) GetComplianceRecord(
	ctx context.Context, participant common.Address,
) (*domain.ComplianceRecord, error) {
	record, err := scanData[domain.ComplianceRecord](r.db.querier(ctx).QueryRow(
		ctx, "SELECT data FROM compliance WHERE participant = $1",
		participant.Hex(),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrComplianceRecordNotFound
		}
		return nil, err
	}
	return record, nil
}
