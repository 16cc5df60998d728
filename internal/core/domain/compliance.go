package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ComplianceOutcome is the result of a confidential KYC/AML check, as
// declared by the compliance task running in the enclave.
type ComplianceOutcome struct {
	Participant  common.Address
	Compliant    bool
	RulesVersion string
	CheckedAt    int64
}

// ResultHash returns the hash the enclave attests to for this outcome.
func (o ComplianceOutcome) ResultHash() (common.Hash, error) {
	return ComplianceResultHash(
		o.Participant, o.Compliant, o.RulesVersion, o.CheckedAt,
	)
}

// ComplianceRecord is the verified compliance outcome of a participant.
// Only the latest record of a participant is kept.
type ComplianceRecord struct {
	Participant    common.Address
	Compliant      bool
	RulesVersion   string
	ResultHash     common.Hash
	AttestationRef common.Hash
	CheckedAt      int64
	ExpiresAt      int64
}

// NewComplianceRecord returns the record of an outcome backed by a verified
// attestation, valid for the given duration since the check.
func NewComplianceRecord(
	outcome ComplianceOutcome, verified *VerifiedAttestation,
	validity time.Duration,
) (*ComplianceRecord, error) {
	if verified == nil {
		return nil, fmt.Errorf("%w: missing verified attestation", ErrResultMismatch)
	}
	if outcome.Participant == (common.Address{}) {
		return nil, fmt.Errorf("missing participant")
	}
	resultHash, err := outcome.ResultHash()
	if err != nil {
		return nil, err
	}
	if resultHash != verified.ResultHash() {
		return nil, fmt.Errorf(
			"%w: attested %s, recomputed %s",
			ErrResultMismatch, verified.ResultHash(), resultHash,
		)
	}

	return &ComplianceRecord{
		Participant:    outcome.Participant,
		Compliant:      outcome.Compliant,
		RulesVersion:   outcome.RulesVersion,
		ResultHash:     resultHash,
		AttestationRef: verified.Reference(),
		CheckedAt:      outcome.CheckedAt,
		ExpiresAt:      time.Unix(outcome.CheckedAt, 0).Add(validity).Unix(),
	}, nil
}

// Supersedes returns whether the record may replace the given one, which
// must have been checked strictly earlier.
func (r *ComplianceRecord) Supersedes(current *ComplianceRecord) bool {
	return current == nil || r.CheckedAt > current.CheckedAt
}

// IsCleared returns whether the record grants a valid clearance at now.
func (r *ComplianceRecord) IsCleared(now time.Time) bool {
	return r != nil && r.Compliant && now.Before(time.Unix(r.ExpiresAt, 0))
}
