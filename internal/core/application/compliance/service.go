package compliance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
	"github.com/tdex-network/tdex-settlement/internal/core/ports"
)

// Service records attested compliance outcomes and answers whether a
// participant is cleared to bid.
type Service struct {
	repoManager ports.RepoManager
	verifier    *domain.AttestationVerifier
	policy      domain.MeasurementPolicy
	validity    time.Duration
	now         func() time.Time
}

func NewService(
	repoManager ports.RepoManager, verifier *domain.AttestationVerifier,
	policy domain.MeasurementPolicy, validity time.Duration,
	now func() time.Time,
) (*Service, error) {
	if repoManager == nil {
		return nil, fmt.Errorf("missing repo manager")
	}
	if verifier == nil {
		return nil, fmt.Errorf("missing attestation verifier")
	}
	if validity <= 0 {
		return nil, fmt.Errorf("compliance validity must be positive")
	}
	if now == nil {
		now = time.Now
	}
	return &Service{repoManager, verifier, policy, validity, now}, nil
}

// RecordCompliance verifies the attestation of the given outcome and stores
// it as the participant's latest compliance record. An outcome checked no
// later than the current record is rejected, so that replaying an older
// attestation can't restore a revoked clearance.
func (s *Service) RecordCompliance(
	ctx context.Context, outcome domain.ComplianceOutcome,
	att domain.Attestation,
) (*domain.ComplianceRecord, error) {
	resultHash, err := outcome.ResultHash()
	if err != nil {
		return nil, err
	}

	verified, err := s.verifier.Verify(att, s.policy, resultHash)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"participant": outcome.Participant.Hex(),
			"measurement": att.EnclaveMeasurement.Hex(),
			"result_hash": att.ResultHash.Hex(),
		}).Warn("rejected compliance attestation")
		return nil, err
	}

	record, err := domain.NewComplianceRecord(outcome, verified, s.validity)
	if err != nil {
		return nil, err
	}

	if _, err := s.repoManager.RunTransaction(
		ctx, false, func(ctx context.Context) (interface{}, error) {
			return nil, s.repoManager.ComplianceRepository().
				UpsertComplianceRecord(ctx, record)
		},
	); err != nil {
		if errors.Is(err, domain.ErrStaleComplianceOutcome) {
			log.WithFields(log.Fields{
				"participant": outcome.Participant.Hex(),
				"checked_at":  outcome.CheckedAt,
			}).Warn("rejected stale compliance outcome")
		}
		return nil, err
	}

	log.WithFields(log.Fields{
		"participant":   record.Participant.Hex(),
		"compliant":     record.Compliant,
		"rules_version": record.RulesVersion,
	}).Info("recorded compliance outcome")
	return record, nil
}

// GetComplianceRecord returns the latest record of a participant.
func (s *Service) GetComplianceRecord(
	ctx context.Context, participant common.Address,
) (*domain.ComplianceRecord, error) {
	return s.repoManager.ComplianceRepository().
		GetComplianceRecord(ctx, participant)
}

// IsCleared returns whether the participant holds a valid clearance. The
// context may carry a running transaction.
func (s *Service) IsCleared(
	ctx context.Context, participant common.Address,
) (bool, error) {
	record, err := s.repoManager.ComplianceRepository().
		GetComplianceRecord(ctx, participant)
	if err != nil {
		if errors.Is(err, domain.ErrComplianceRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return record.IsCleared(s.now()), nil
}
