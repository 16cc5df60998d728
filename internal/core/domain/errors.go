package domain

import "errors"

// Validation errors are caller-correctable and never retried by the daemon.
var (
	// ErrInvalidBid is returned for bids with missing or non-positive fields.
	ErrInvalidBid = errors.New("invalid bid")
	// ErrDuplicateEscrow is returned when an escrow address is already in use.
	ErrDuplicateEscrow = errors.New("escrow address already in use")
	// ErrReserveNotMet is returned when the winning price is below the reserve.
	ErrReserveNotMet = errors.New("winning price does not meet reserve price")
	// ErrNoSuchBid is returned when the declared winner is not a recorded bid.
	ErrNoSuchBid = errors.New("declared winner is not among recorded bids")
	// ErrInvalidAuction is returned when opening an auction with bad params.
	ErrInvalidAuction = errors.New("invalid auction parameters")
	// ErrInvalidForfeitReason ...
	ErrInvalidForfeitReason = errors.New("forfeit reason must not be empty")
	// ErrInvalidForfeitPolicy ...
	ErrInvalidForfeitPolicy = errors.New("invalid forfeit policy")
	// ErrInvalidSettlement is returned when a settlement message can't be
	// built from the given auction, match and attestation.
	ErrInvalidSettlement = errors.New("invalid settlement message")
	// ErrInvalidMatchClaim is returned for match claims whose winning price
	// can't be encoded on chain.
	ErrInvalidMatchClaim = errors.New("invalid match claim")
	// ErrInvalidChainRegistry ...
	ErrInvalidChainRegistry = errors.New("invalid chain registry")
)

// Authorization and attestation errors are always fatal to the attempted
// transition.
var (
	// ErrMeasurementMismatch is returned when the enclave measurement is not
	// the pinned one.
	ErrMeasurementMismatch = errors.New("enclave measurement mismatch")
	// ErrResultMismatch is returned when the attested result hash differs from
	// the independently recomputed one.
	ErrResultMismatch = errors.New("attested result hash mismatch")
	// ErrInvalidSignature is returned when a signature does not verify against
	// the expected key.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrAttestationExpired is returned when the attestation timestamp is
	// outside the freshness window.
	ErrAttestationExpired = errors.New("attestation expired")
	// ErrNotWinner is returned when releasing an escrow that did not win.
	ErrNotWinner = errors.New("escrow does not belong to the winning bid")
	// ErrNotCompliant is returned when a bidder lacks a valid compliance
	// clearance for an auction that requires one.
	ErrNotCompliant = errors.New("bidder is not compliance cleared")
	// ErrUnauthorizedRelayer is returned when a settlement message is signed
	// by a key that is not an authorized relayer.
	ErrUnauthorizedRelayer = errors.New("settlement signer is not an authorized relayer")
)

// State errors are idempotency guards: callers should read them as "already
// done" and re-query status instead of retrying.
var (
	// ErrAuctionFinalized is returned for transitions from Settled/Cancelled.
	ErrAuctionFinalized = errors.New("auction is finalized")
	// ErrAuctionClosed is returned for bids on a non-open or expired auction.
	ErrAuctionClosed = errors.New("auction is closed for bidding")
	// ErrAuctionNotClosed is returned when matching an auction still open.
	ErrAuctionNotClosed = errors.New("auction must be closed to be matched")
	// ErrAuctionAlreadyMatched is returned when matching twice.
	ErrAuctionAlreadyMatched = errors.New("auction is already matched")
	// ErrAuctionNotMatched is returned when settling a non-matched auction.
	ErrAuctionNotMatched = errors.New("auction must be matched to be settled")
	// ErrAuctionNotCancellable is returned when cancelling a matched auction.
	ErrAuctionNotCancellable = errors.New("matched auction can not be cancelled")
	// ErrAlreadyFinalized is returned when an escrow entry leaves Held twice.
	ErrAlreadyFinalized = errors.New("escrow entry is already finalized")
	// ErrEscrowLocked is returned when refunding or forfeiting before the
	// auction is matched or cancelled.
	ErrEscrowLocked = errors.New("escrow is locked until auction is matched or cancelled")
	// ErrWinningEscrow is returned when refunding the winning escrow.
	ErrWinningEscrow = errors.New("winning escrow can not be refunded")
	// ErrAlreadyDelivered is returned when a settlement message with the same
	// hash has already been delivered.
	ErrAlreadyDelivered = errors.New("settlement message already delivered")
	// ErrDeliveryInProgress is returned while another delivery attempt for
	// the same message hash holds the attempt lease.
	ErrDeliveryInProgress = errors.New("settlement delivery already in progress")
	// ErrStaleComplianceOutcome is returned when recording a compliance
	// outcome checked no later than the participant's current record.
	ErrStaleComplianceOutcome = errors.New("compliance outcome older than current record")
	// ErrStaleDeliveryAttempt is returned when an attempt whose lease expired
	// tries to record its outcome after a newer attempt claimed the message.
	ErrStaleDeliveryAttempt = errors.New("settlement delivery attempt superseded")
	// ErrSettlementExists is returned when storing a second settlement
	// message with the same hash or for the same auction.
	ErrSettlementExists = errors.New("settlement message already exists")
)

// Routing and lookup errors.
var (
	// ErrUnknownChainPair is returned when no route is configured for a
	// (source, target) chain pair.
	ErrUnknownChainPair = errors.New("unknown chain pair")
	// ErrAuctionNotFound ...
	ErrAuctionNotFound = errors.New("auction not found")
	// ErrEscrowNotFound ...
	ErrEscrowNotFound = errors.New("escrow not found")
	// ErrSettlementNotFound ...
	ErrSettlementNotFound = errors.New("settlement message not found")
	// ErrComplianceRecordNotFound ...
	ErrComplianceRecordNotFound = errors.New("compliance record not found")
)

// IsValidationError returns whether err is a caller-correctable error.
func IsValidationError(err error) bool {
	return isAny(err,
		ErrInvalidBid, ErrDuplicateEscrow, ErrReserveNotMet, ErrNoSuchBid,
		ErrInvalidAuction, ErrInvalidForfeitReason, ErrInvalidForfeitPolicy,
		ErrInvalidSettlement, ErrInvalidChainRegistry, ErrInvalidMatchClaim,
	)
}

// IsAttestationError returns whether err is an authorization/attestation
// failure.
func IsAttestationError(err error) bool {
	return isAny(err,
		ErrMeasurementMismatch, ErrResultMismatch, ErrInvalidSignature,
		ErrAttestationExpired, ErrNotWinner, ErrNotCompliant,
		ErrUnauthorizedRelayer,
	)
}

// IsStateError returns whether err is an idempotency guard.
func IsStateError(err error) bool {
	return isAny(err,
		ErrAuctionFinalized, ErrAuctionClosed, ErrAuctionNotClosed,
		ErrAuctionAlreadyMatched, ErrAuctionNotMatched, ErrAuctionNotCancellable,
		ErrAlreadyFinalized, ErrEscrowLocked, ErrWinningEscrow,
		ErrAlreadyDelivered, ErrDeliveryInProgress, ErrSettlementExists,
		ErrStaleDeliveryAttempt, ErrStaleComplianceOutcome,
	)
}

// IsNotFoundError returns whether err is a lookup failure.
func IsNotFoundError(err error) bool {
	return isAny(err,
		ErrAuctionNotFound, ErrEscrowNotFound, ErrSettlementNotFound,
		ErrComplianceRecordNotFound,
	)
}

func isAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
