package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
)

func TestNewComplianceRecord(t *testing.T) {
	e := newEnclave(t)
	outcome := domain.ComplianceOutcome{
		Participant:  randomAddress(),
		Compliant:    true,
		RulesVersion: "1.0",
		CheckedAt:    now.Unix(),
	}
	resultHash, err := outcome.ResultHash()
	require.NoError(t, err)
	verified, err := e.verifier.Verify(e.attest(resultHash), e.policy, resultHash)
	require.NoError(t, err)

	record, err := domain.NewComplianceRecord(outcome, verified, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, verified.Reference(), record.AttestationRef)
	require.True(t, record.IsCleared(now))
	require.False(t, record.IsCleared(now.Add(24*time.Hour)))

	t.Run("outcome_flipped", func(t *testing.T) {
		flipped := outcome
		flipped.Compliant = false
		_, err := domain.NewComplianceRecord(flipped, verified, time.Hour)
		require.ErrorIs(t, err, domain.ErrResultMismatch)
	})

	t.Run("not_compliant", func(t *testing.T) {
		denied := outcome
		denied.Compliant = false
		resultHash, err := denied.ResultHash()
		require.NoError(t, err)
		verified, err := e.verifier.Verify(e.attest(resultHash), e.policy, resultHash)
		require.NoError(t, err)

		record, err := domain.NewComplianceRecord(denied, verified, time.Hour)
		require.NoError(t, err)
		require.False(t, record.IsCleared(now))
	})
}

func TestComplianceRecordSupersedes(t *testing.T) {
	t.Parallel()

	current := &domain.ComplianceRecord{CheckedAt: now.Unix()}

	tests := []struct {
		name      string
		checkedAt int64
		expected  bool
	}{
		{"older", now.Unix() - 1, false},
		{"same_time", now.Unix(), false},
		{"newer", now.Unix() + 1, true},
	}

	for _, tt := range tests {
		record := &domain.ComplianceRecord{CheckedAt: tt.checkedAt}
		require.Equal(t, tt.expected, record.Supersedes(current), tt.name)
		require.True(t, record.Supersedes(nil), tt.name)
	}
}
