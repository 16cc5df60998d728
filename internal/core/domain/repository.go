package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// AuctionRepository is the abstraction for any kind of database intended to
// persist Auctions.
type AuctionRepository interface {
	// AddAuction stores a new auction and assigns it the next identifier,
	// which is also returned.
	AddAuction(ctx context.Context, auction *Auction) (uint64, error)
	// GetAuction returns the auction with the given id.
	GetAuction(ctx context.Context, id uint64) (*Auction, error)
	// GetAllAuctions returns all auctions sorted by id.
	GetAllAuctions(ctx context.Context) ([]Auction, error)
	// GetAuctionsByStatus returns the auctions with the given status.
	GetAuctionsByStatus(
		ctx context.Context, status AuctionStatus,
	) ([]Auction, error)
	// UpdateAuction updates the state of an auction. The closure function
	// let's to commit multiple changes to a certain auction in a
	// transactional way.
	UpdateAuction(
		ctx context.Context,
		id uint64, updateFn func(a *Auction) (*Auction, error),
	) error
}

// EscrowRepository is the abstraction for any kind of database intended to
// persist EscrowEntries. Entries are keyed by escrow address.
type EscrowRepository interface {
	// AddEscrow stores a new entry, failing with ErrDuplicateEscrow if the
	// address is already in use.
	AddEscrow(ctx context.Context, entry *EscrowEntry) error
	// GetEscrow returns the entry with the given address.
	GetEscrow(ctx context.Context, address common.Address) (*EscrowEntry, error)
	// GetEscrowsByAuction returns the entries of the given auction.
	GetEscrowsByAuction(
		ctx context.Context, auctionID uint64,
	) ([]EscrowEntry, error)
	// UpdateEscrow updates the state of an entry in a transactional way.
	UpdateEscrow(
		ctx context.Context,
		address common.Address,
		updateFn func(e *EscrowEntry) (*EscrowEntry, error),
	) error
}

// SettlementRepository is the abstraction for any kind of database intended
// to persist SettlementMessages. Messages are keyed by their hash.
type SettlementRepository interface {
	// AddSettlement stores a new message.
	AddSettlement(ctx context.Context, msg *SettlementMessage) error
	// GetSettlement returns the message with the given hash.
	GetSettlement(
		ctx context.Context, hash common.Hash,
	) (*SettlementMessage, error)
	// GetSettlementByAuction returns the message of the given auction.
	GetSettlementByAuction(
		ctx context.Context, auctionID uint64,
	) (*SettlementMessage, error)
	// GetSettlementsByStatus returns the messages with the given status.
	GetSettlementsByStatus(
		ctx context.Context, status DeliveryStatus,
	) ([]SettlementMessage, error)
	// UpdateSettlement updates the delivery state of a message in a
	// transactional way. The payload must not be changed.
	UpdateSettlement(
		ctx context.Context,
		hash common.Hash,
		updateFn func(m *SettlementMessage) (*SettlementMessage, error),
	) error
}

// ComplianceRepository is the abstraction for any kind of database intended
// to persist ComplianceRecords.
type ComplianceRepository interface {
	// UpsertComplianceRecord stores the record, replacing any previous one
	// of the same participant. It returns ErrStaleComplianceOutcome if the
	// stored record is not superseded by the given one.
	UpsertComplianceRecord(ctx context.Context, record *ComplianceRecord) error
	// GetComplianceRecord returns the latest record of a participant.
	GetComplianceRecord(
		ctx context.Context, participant common.Address,
	) (*ComplianceRecord, error)
}
