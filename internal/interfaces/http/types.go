package httpinterface

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/tdex-network/tdex-settlement/internal/core/application/escrow"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
)

// Amounts are base-10 strings of the smallest unit of the asset.

func parseAmount(field, s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: invalid %s %q", errInvalidRequest, field, s)
	}
	return n, nil
}

func formatAmount(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}

func formatTime(ts int64) string {
	if ts <= 0 {
		return ""
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

type openAuctionRequest struct {
	Seller            common.Address `json:"seller"`
	AssetToken        common.Address `json:"asset_token"`
	AssetAmount       string         `json:"asset_amount"`
	ReservePrice      string         `json:"reserve_price"`
	BiddingDeadline   int64          `json:"bidding_deadline"`
	SourceChainID     uint64         `json:"source_chain_id"`
	TargetChainID     uint64         `json:"target_chain_id"`
	RequireCompliance bool           `json:"require_compliance"`
}

func (r openAuctionRequest) toParams() (domain.AuctionParams, error) {
	assetAmount, err := parseAmount("asset_amount", r.AssetAmount)
	if err != nil {
		return domain.AuctionParams{}, err
	}
	reserve, err := parseAmount("reserve_price", r.ReservePrice)
	if err != nil {
		return domain.AuctionParams{}, err
	}
	return domain.AuctionParams{
		Seller:            r.Seller,
		AssetToken:        r.AssetToken,
		AssetAmount:       assetAmount,
		ReservePrice:      reserve,
		BiddingDeadline:   r.BiddingDeadline,
		SourceChainID:     r.SourceChainID,
		TargetChainID:     r.TargetChainID,
		RequireCompliance: r.RequireCompliance,
	}, nil
}

type bidRequest struct {
	Bidder           common.Address `json:"bidder"`
	EscrowAddress    common.Address `json:"escrow_address"`
	EncryptedPayload hexutil.Bytes  `json:"encrypted_payload"`
	DepositAmount    string         `json:"deposit_amount"`
	Timestamp        int64          `json:"timestamp"`
	Signature        hexutil.Bytes  `json:"signature"`
}

func (r bidRequest) toBid(auctionID uint64) (domain.BidCommitment, error) {
	deposit, err := parseAmount("deposit_amount", r.DepositAmount)
	if err != nil {
		return domain.BidCommitment{}, err
	}
	return domain.BidCommitment{
		AuctionID:        auctionID,
		Bidder:           r.Bidder,
		EscrowAddress:    r.EscrowAddress,
		EncryptedPayload: r.EncryptedPayload,
		DepositAmount:    deposit,
		Timestamp:        r.Timestamp,
		Signature:        r.Signature,
	}, nil
}

type bidInfo struct {
	ID            common.Hash    `json:"id"`
	Bidder        common.Address `json:"bidder"`
	EscrowAddress common.Address `json:"escrow_address"`
	DepositAmount string         `json:"deposit_amount"`
	Timestamp     int64          `json:"timestamp"`
}

func newBidInfo(b domain.BidCommitment) bidInfo {
	return bidInfo{
		ID:            b.ID,
		Bidder:        b.Bidder,
		EscrowAddress: b.EscrowAddress,
		DepositAmount: formatAmount(b.DepositAmount),
		Timestamp:     b.Timestamp,
	}
}

type attestationJSON struct {
	EnclaveMeasurement common.Hash   `json:"enclave_measurement"`
	ResultHash         common.Hash   `json:"result_hash"`
	Timestamp          int64         `json:"timestamp"`
	Signature          hexutil.Bytes `json:"signature"`
}

func (a attestationJSON) toDomain() domain.Attestation {
	return domain.Attestation{
		EnclaveMeasurement: a.EnclaveMeasurement,
		ResultHash:         a.ResultHash,
		Timestamp:          a.Timestamp,
		Signature:          a.Signature,
	}
}

type matchRequest struct {
	Winner        common.Address  `json:"winner"`
	WinningEscrow common.Address  `json:"winning_escrow"`
	WinningPrice  string          `json:"winning_price"`
	Attestation   attestationJSON `json:"attestation"`
}

func (r matchRequest) toClaim() (domain.MatchClaim, error) {
	price, err := parseAmount("winning_price", r.WinningPrice)
	if err != nil {
		return domain.MatchClaim{}, err
	}
	return domain.MatchClaim{
		Winner:        r.Winner,
		WinningEscrow: r.WinningEscrow,
		WinningPrice:  price,
	}, nil
}

type matchInfo struct {
	Winner         common.Address `json:"winner"`
	WinningEscrow  common.Address `json:"winning_escrow"`
	WinningPrice   string         `json:"winning_price"`
	BidSetRoot     common.Hash    `json:"bid_set_root"`
	ResultHash     common.Hash    `json:"result_hash"`
	AttestationRef common.Hash    `json:"attestation_ref"`
	MatchedAt      string         `json:"matched_at"`
}

type auctionInfo struct {
	ID                uint64         `json:"id"`
	Status            string         `json:"status"`
	Seller            common.Address `json:"seller"`
	AssetToken        common.Address `json:"asset_token"`
	AssetAmount       string         `json:"asset_amount"`
	ReservePrice      string         `json:"reserve_price"`
	BiddingDeadline   int64          `json:"bidding_deadline"`
	SourceChainID     uint64         `json:"source_chain_id"`
	TargetChainID     uint64         `json:"target_chain_id"`
	RequireCompliance bool           `json:"require_compliance"`
	Bids              []bidInfo      `json:"bids"`
	Match             *matchInfo     `json:"match,omitempty"`
	CancelReason      string         `json:"cancel_reason,omitempty"`
	CreatedAt         string         `json:"created_at"`
}

func newAuctionInfo(a domain.Auction) auctionInfo {
	bids := make([]bidInfo, 0, len(a.Bids))
	for _, b := range a.Bids {
		bids = append(bids, newBidInfo(b))
	}
	info := auctionInfo{
		ID:                a.ID,
		Status:            a.Status.String(),
		Seller:            a.Seller,
		AssetToken:        a.AssetToken,
		AssetAmount:       formatAmount(a.AssetAmount),
		ReservePrice:      formatAmount(a.ReservePrice),
		BiddingDeadline:   a.BiddingDeadline,
		SourceChainID:     a.SourceChainID,
		TargetChainID:     a.TargetChainID,
		RequireCompliance: a.RequireCompliance,
		Bids:              bids,
		CancelReason:      a.CancelReason,
		CreatedAt:         formatTime(a.CreatedAt),
	}
	if m := a.Match; m != nil {
		info.Match = &matchInfo{
			Winner:         m.Winner,
			WinningEscrow:  m.WinningEscrow,
			WinningPrice:   formatAmount(m.WinningPrice),
			BidSetRoot:     m.BidSetRoot,
			ResultHash:     m.ResultHash,
			AttestationRef: m.AttestationRef,
			MatchedAt:      formatTime(m.MatchedAt),
		}
	}
	return info
}

type escrowInfo struct {
	Address       common.Address   `json:"address"`
	AuctionID     uint64           `json:"auction_id"`
	Bidder        common.Address   `json:"bidder"`
	Amount        string           `json:"amount"`
	State         string           `json:"state"`
	ForfeitReason string           `json:"forfeit_reason,omitempty"`
	Disposition   *dispositionInfo `json:"disposition,omitempty"`
}

type dispositionInfo struct {
	Kind      string         `json:"kind"`
	Recipient common.Address `json:"recipient"`
	Withheld  string         `json:"withheld"`
	Returned  string         `json:"returned"`
}

func newDispositionInfo(d *domain.ForfeitDisposition) *dispositionInfo {
	if d == nil {
		return nil
	}
	return &dispositionInfo{
		Kind:      d.Kind,
		Recipient: d.Recipient,
		Withheld:  formatAmount(d.Withheld),
		Returned:  formatAmount(d.Returned),
	}
}

func newEscrowInfo(e domain.EscrowEntry) escrowInfo {
	return escrowInfo{
		Address:       e.Address,
		AuctionID:     e.AuctionID,
		Bidder:        e.Bidder,
		Amount:        formatAmount(e.Amount),
		State:         e.State.String(),
		ForfeitReason: e.ForfeitReason,
		Disposition:   newDispositionInfo(e.Disposition),
	}
}

type ledgerInfo struct {
	AuctionID uint64       `json:"auction_id"`
	Held      string       `json:"held"`
	Released  string       `json:"released"`
	Refunded  string       `json:"refunded"`
	Forfeited string       `json:"forfeited"`
	Deposited string       `json:"deposited"`
	Balanced  bool         `json:"balanced"`
	Entries   []escrowInfo `json:"entries,omitempty"`
}

func newLedgerInfo(l escrow.Ledger, entries []domain.EscrowEntry) ledgerInfo {
	list := make([]escrowInfo, 0, len(entries))
	for _, e := range entries {
		list = append(list, newEscrowInfo(e))
	}
	return ledgerInfo{
		AuctionID: l.AuctionID,
		Held:      formatAmount(l.Held),
		Released:  formatAmount(l.Released),
		Refunded:  formatAmount(l.Refunded),
		Forfeited: formatAmount(l.Forfeited),
		Deposited: formatAmount(l.TotalDeposited),
		Balanced:  l.Balanced,
		Entries:   list,
	}
}

type settlementPayloadJSON struct {
	Hash           common.Hash    `json:"hash"`
	AuctionID      uint64         `json:"auction_id"`
	SourceChainID  uint64         `json:"source_chain_id"`
	TargetChainID  uint64         `json:"target_chain_id"`
	AssetToken     common.Address `json:"asset_token"`
	Recipient      common.Address `json:"recipient"`
	Amount         string         `json:"amount"`
	AttestationRef common.Hash    `json:"attestation_ref"`
}

func newSettlementPayloadJSON(p domain.SettlementPayload) settlementPayloadJSON {
	return settlementPayloadJSON{
		Hash:           p.Hash,
		AuctionID:      p.AuctionID,
		SourceChainID:  p.SourceChainID,
		TargetChainID:  p.TargetChainID,
		AssetToken:     p.AssetToken,
		Recipient:      p.Recipient,
		Amount:         formatAmount(p.Amount),
		AttestationRef: p.AttestationRef,
	}
}

func (p settlementPayloadJSON) toDomain() (domain.SettlementPayload, error) {
	amount, err := parseAmount("amount", p.Amount)
	if err != nil {
		return domain.SettlementPayload{}, err
	}
	return domain.SettlementPayload{
		Hash:           p.Hash,
		AuctionID:      p.AuctionID,
		SourceChainID:  p.SourceChainID,
		TargetChainID:  p.TargetChainID,
		AssetToken:     p.AssetToken,
		Recipient:      p.Recipient,
		Amount:         amount,
		AttestationRef: p.AttestationRef,
	}, nil
}

type deliverRequest struct {
	Payload   settlementPayloadJSON `json:"payload"`
	Signature hexutil.Bytes         `json:"signature"`
}

type settlementInfo struct {
	Payload     settlementPayloadJSON `json:"payload"`
	Status      string                `json:"status"`
	Attempts    int                   `json:"attempts"`
	LastError   string                `json:"last_error,omitempty"`
	TxHash      string                `json:"tx_hash,omitempty"`
	CreatedAt   string                `json:"created_at"`
	DeliveredAt string                `json:"delivered_at,omitempty"`
}

func newSettlementInfo(m domain.SettlementMessage) settlementInfo {
	return settlementInfo{
		Payload:     newSettlementPayloadJSON(m.Payload),
		Status:      m.Status.String(),
		Attempts:    m.Attempts,
		LastError:   m.LastError,
		TxHash:      m.TxHash,
		CreatedAt:   formatTime(m.CreatedAt),
		DeliveredAt: formatTime(m.DeliveredAt),
	}
}

type receiptInfo struct {
	ID            string      `json:"id"`
	MessageHash   common.Hash `json:"message_hash"`
	SourceChainID uint64      `json:"source_chain_id"`
	TargetChainID uint64      `json:"target_chain_id"`
	TxHash        string      `json:"tx_hash"`
	Attempts      int         `json:"attempts"`
	DeliveredAt   string      `json:"delivered_at"`
}

func newReceiptInfo(r domain.DeliveryReceipt) receiptInfo {
	return receiptInfo{
		ID:            r.ID,
		MessageHash:   r.MessageHash,
		SourceChainID: r.SourceChainID,
		TargetChainID: r.TargetChainID,
		TxHash:        r.TxHash,
		Attempts:      r.Attempts,
		DeliveredAt:   formatTime(r.DeliveredAt),
	}
}

type complianceRequest struct {
	Participant  common.Address  `json:"participant"`
	Compliant    bool            `json:"compliant"`
	RulesVersion string          `json:"rules_version"`
	CheckedAt    int64           `json:"checked_at"`
	Attestation  attestationJSON `json:"attestation"`
}

func (r complianceRequest) toOutcome() domain.ComplianceOutcome {
	return domain.ComplianceOutcome{
		Participant:  r.Participant,
		Compliant:    r.Compliant,
		RulesVersion: r.RulesVersion,
		CheckedAt:    r.CheckedAt,
	}
}

type complianceInfo struct {
	Participant    common.Address `json:"participant"`
	Compliant      bool           `json:"compliant"`
	RulesVersion   string         `json:"rules_version"`
	AttestationRef common.Hash    `json:"attestation_ref"`
	CheckedAt      string         `json:"checked_at"`
	ExpiresAt      string         `json:"expires_at"`
}

func newComplianceInfo(r domain.ComplianceRecord) complianceInfo {
	return complianceInfo{
		Participant:    r.Participant,
		Compliant:      r.Compliant,
		RulesVersion:   r.RulesVersion,
		AttestationRef: r.AttestationRef,
		CheckedAt:      formatTime(r.CheckedAt),
		ExpiresAt:      formatTime(r.ExpiresAt),
	}
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type webhookRequest struct {
	Event    string `json:"event"`
	Endpoint string `json:"endpoint"`
	Secret   string `json:"secret"`
}

type webhookInfo struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	Endpoint  string `json:"endpoint"`
	IsSecured bool   `json:"is_secured"`
}
