package domain

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/ethereum/go-ethereum/common"
)

// Attestation is the signed statement produced by the TEE task runner,
// binding an enclave measurement to a result hash.
type Attestation struct {
	EnclaveMeasurement common.Hash
	ResultHash         common.Hash
	Signature          []byte
	Timestamp          int64
}

// Digest returns SHA256(measurement || resultHash || uint64_be(timestamp)),
// the message signed by the enclave attestation key. It is also used as the
// attestation reference recorded in match results and settlement messages.
func (a Attestation) Digest() common.Hash {
	buf := make([]byte, 0, 2*common.HashLength+8)
	buf = append(buf, a.EnclaveMeasurement.Bytes()...)
	buf = append(buf, a.ResultHash.Bytes()...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(a.Timestamp))
	return common.BytesToHash(chainhash.HashB(buf))
}

// VerifiedAttestation can only be obtained from AttestationVerifier.Verify.
// Components gating state transitions accept this type, never a bare
// Attestation.
type VerifiedAttestation struct {
	measurement common.Hash
	resultHash  common.Hash
	reference   common.Hash
	timestamp   int64
}

// Measurement returns the verified enclave measurement.
func (v *VerifiedAttestation) Measurement() common.Hash { return v.measurement }

// ResultHash returns the verified result hash.
func (v *VerifiedAttestation) ResultHash() common.Hash { return v.resultHash }

// Reference returns the attestation digest kept for audit.
func (v *VerifiedAttestation) Reference() common.Hash { return v.reference }

// Timestamp returns the attestation timestamp in unix seconds.
func (v *VerifiedAttestation) Timestamp() int64 { return v.timestamp }

// MeasurementPolicy pins the enclave measurements accepted by a deployment.
// Previous is accepted only until PreviousValidUntil, so that a rotation is
// an explicit configuration change with a bounded overlap.
type MeasurementPolicy struct {
	Current            common.Hash
	Previous           common.Hash
	PreviousValidUntil time.Time
}

func (p MeasurementPolicy) accepts(measurement common.Hash, now time.Time) bool {
	if measurement == (common.Hash{}) {
		return false
	}
	if measurement == p.Current {
		return true
	}
	return p.Previous != (common.Hash{}) &&
		measurement == p.Previous &&
		now.Before(p.PreviousValidUntil)
}

// AttestationVerifierConfig holds the verifier parameters.
type AttestationVerifierConfig struct {
	// EnclaveKey is the enclave's attestation public key.
	EnclaveKey *btcec.PublicKey
	// FreshnessWindow is the max age of an attestation.
	FreshnessWindow time.Duration
	// MaxClockSkew is the max distance in the future of an attestation
	// timestamp.
	MaxClockSkew time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// AttestationVerifier checks TEE attestations. It holds no mutable state and
// is safe for concurrent use.
type AttestationVerifier struct {
	enclaveKey      *btcec.PublicKey
	freshnessWindow time.Duration
	maxClockSkew    time.Duration
	now             func() time.Time
}

// NewAttestationVerifier returns a verifier for the given config.
func NewAttestationVerifier(
	cfg AttestationVerifierConfig,
) (*AttestationVerifier, error) {
	if cfg.EnclaveKey == nil {
		return nil, fmt.Errorf("missing enclave attestation key")
	}
	if cfg.FreshnessWindow <= 0 {
		return nil, fmt.Errorf("freshness window must be positive")
	}
	if cfg.MaxClockSkew < 0 {
		return nil, fmt.Errorf("max clock skew must not be negative")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &AttestationVerifier{
		cfg.EnclaveKey, cfg.FreshnessWindow, cfg.MaxClockSkew, now,
	}, nil
}

// Verify checks the given attestation against the expected measurement
// policy and the independently recomputed result hash.
// The result hash is checked before the signature so that a tampered
// result is always reported as ErrResultMismatch.
func (v *AttestationVerifier) Verify(
	att Attestation, expected MeasurementPolicy, expectedResultHash common.Hash,
) (*VerifiedAttestation, error) {
	now := v.now()

	if !expected.accepts(att.EnclaveMeasurement, now) {
		return nil, fmt.Errorf(
			"%w: got %s", ErrMeasurementMismatch, att.EnclaveMeasurement,
		)
	}

	if att.ResultHash != expectedResultHash {
		return nil, fmt.Errorf(
			"%w: attested %s, expected %s",
			ErrResultMismatch, att.ResultHash, expectedResultHash,
		)
	}

	sig, err := btcecdsa.ParseDERSignature(att.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	}
	digest := att.Digest()
	if !sig.Verify(digest.Bytes(), v.enclaveKey) {
		return nil, fmt.Errorf(
			"%w: not signed by enclave attestation key", ErrInvalidSignature,
		)
	}

	issuedAt := time.Unix(att.Timestamp, 0)
	if now.Sub(issuedAt) > v.freshnessWindow {
		return nil, fmt.Errorf(
			"%w: issued at %s, freshness window %s",
			ErrAttestationExpired, issuedAt.UTC(), v.freshnessWindow,
		)
	}
	if issuedAt.Sub(now) > v.maxClockSkew {
		return nil, fmt.Errorf(
			"%w: issued in the future at %s", ErrAttestationExpired, issuedAt.UTC(),
		)
	}

	return &VerifiedAttestation{
		measurement: att.EnclaveMeasurement,
		resultHash:  att.ResultHash,
		reference:   digest,
		timestamp:   att.Timestamp,
	}, nil
}

// SignAttestation signs the attestation digest with the given enclave key.
// The daemon never produces attestations, this is meant for enclave
// simulators and tests.
func SignAttestation(att *Attestation, key *btcec.PrivateKey) {
	digest := att.Digest()
	att.Signature = btcecdsa.Sign(key, digest.Bytes()).Serialize()
}
