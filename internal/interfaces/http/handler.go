package httpinterface

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-settlement/internal/core/application/auction"
	"github.com/tdex-network/tdex-settlement/internal/core/application/compliance"
	"github.com/tdex-network/tdex-settlement/internal/core/application/escrow"
	"github.com/tdex-network/tdex-settlement/internal/core/application/pubsub"
	"github.com/tdex-network/tdex-settlement/internal/core/application/relay"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
)

const maxBodySize = 1 << 20

type handler struct {
	auctionSvc    *auction.Service
	escrowSvc     *escrow.Service
	complianceSvc *compliance.Service
	relaySvc      *relay.Service
	pubsubSvc     *pubsub.Service
}

// NewHandler returns the router of the settlement daemon. Routes that
// drive auctions, escrows or webhooks require an operator token, while
// bids, compliance outcomes and signed settlement messages carry their own
// signatures.
func NewHandler(opts ServiceOpts) (http.Handler, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	h := &handler{
		auctionSvc:    opts.AuctionSvc,
		escrowSvc:     opts.EscrowSvc,
		complianceSvc: opts.ComplianceSvc,
		relaySvc:      opts.RelaySvc,
		pubsubSvc:     opts.PubSubSvc,
	}
	operator := func(fn http.HandlerFunc) http.HandlerFunc {
		return withOperatorAuth(opts.OperatorSecret, fn)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/auctions", h.listAuctions)
	mux.HandleFunc("POST /v1/auctions", operator(h.openAuction))
	mux.HandleFunc("GET /v1/auctions/{id}", h.getAuction)
	mux.HandleFunc("GET /v1/auctions/{id}/status", h.getAuctionStatus)
	mux.HandleFunc("POST /v1/auctions/{id}/bids", h.submitBid)
	mux.HandleFunc("POST /v1/auctions/{id}/close", operator(h.closeAuction))
	mux.HandleFunc("POST /v1/auctions/{id}/match", operator(h.matchAuction))
	mux.HandleFunc("POST /v1/auctions/{id}/cancel", operator(h.cancelAuction))
	mux.HandleFunc("POST /v1/auctions/{id}/deliver", operator(h.deliverAuction))
	mux.HandleFunc("GET /v1/auctions/{id}/escrows", h.getLedger)
	mux.HandleFunc("POST /v1/auctions/{id}/escrows/finalize", operator(h.finalizeEscrows))

	mux.HandleFunc("GET /v1/escrows/{address}", h.getEscrow)
	mux.HandleFunc("POST /v1/escrows/{address}/release", operator(h.releaseEscrow))
	mux.HandleFunc("POST /v1/escrows/{address}/refund", operator(h.refundEscrow))
	mux.HandleFunc("POST /v1/escrows/{address}/forfeit", operator(h.forfeitEscrow))

	mux.HandleFunc("POST /v1/compliance", h.recordCompliance)
	mux.HandleFunc("GET /v1/compliance/{participant}", h.getCompliance)

	mux.HandleFunc("GET /v1/settlements", operator(h.listSettlements))
	mux.HandleFunc("GET /v1/settlements/{hash}", h.getSettlement)
	mux.HandleFunc("POST /v1/settlements", h.deliverSettlement)

	mux.HandleFunc("GET /v1/webhooks", operator(h.listWebhooks))
	mux.HandleFunc("POST /v1/webhooks", operator(h.addWebhook))
	mux.HandleFunc("DELETE /v1/webhooks/{id}", operator(h.removeWebhook))

	mux.HandleFunc("GET /v1/events", h.streamEvents)

	if opts.MetricsGatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(
			opts.MetricsGatherer, promhttp.HandlerOpts{},
		))
	}

	return withRequestLog(mux), nil
}

func withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.WithFields(log.Fields{
			"method":  r.Method,
			"path":    r.URL.Path,
			"elapsed": time.Since(start).String(),
		}).Debug("http request")
	})
}

func decode(r *http.Request, dst interface{}) error {
	body := io.LimitReader(r.Body, maxBodySize)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %s", errInvalidRequest, err)
	}
	return nil
}

func auctionID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid auction id %q", errInvalidRequest, r.PathValue("id"))
	}
	return id, nil
}

func address(r *http.Request, name string) (common.Address, error) {
	s := r.PathValue(name)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: invalid %s %q", errInvalidRequest, name, s)
	}
	return common.HexToAddress(s), nil
}

func (h *handler) listAuctions(w http.ResponseWriter, r *http.Request) {
	var status *domain.AuctionStatus
	if label := r.URL.Query().Get("status"); label != "" {
		s, err := domain.ParseAuctionStatus(label)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: %s", errInvalidRequest, err))
			return
		}
		status = &s
	}

	auctions, err := h.auctionSvc.ListAuctions(r.Context(), status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	list := make([]auctionInfo, 0, len(auctions))
	for _, a := range auctions {
		list = append(list, newAuctionInfo(a))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"auctions": list})
}

func (h *handler) openAuction(w http.ResponseWriter, r *http.Request) {
	var req openAuctionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	params, err := req.toParams()
	if err != nil {
		writeError(w, r, err)
		return
	}

	a, err := h.auctionSvc.OpenAuction(r.Context(), params)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newAuctionInfo(*a))
}

func (h *handler) getAuction(w http.ResponseWriter, r *http.Request) {
	id, err := auctionID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	a, err := h.auctionSvc.GetAuction(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAuctionInfo(*a))
}

func (h *handler) getAuctionStatus(w http.ResponseWriter, r *http.Request) {
	id, err := auctionID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status, err := h.auctionSvc.GetAuctionStatus(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id": id, "status": status.String(),
	})
}

func (h *handler) submitBid(w http.ResponseWriter, r *http.Request) {
	id, err := auctionID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req bidRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	bid, err := req.toBid(id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	accepted, err := h.auctionSvc.SubmitBid(r.Context(), bid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newBidInfo(*accepted))
}

func (h *handler) closeAuction(w http.ResponseWriter, r *http.Request) {
	h.auctionTransition(w, r, h.auctionSvc.CloseAuction)
}

func (h *handler) cancelAuction(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h.auctionTransition(w, r, func(ctx context.Context, id uint64) error {
		return h.auctionSvc.CancelAuction(ctx, id, req.Reason)
	})
}

func (h *handler) auctionTransition(
	w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, id uint64) error,
) {
	id, err := auctionID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := fn(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	h.getAuction(w, r)
}

func (h *handler) matchAuction(w http.ResponseWriter, r *http.Request) {
	id, err := auctionID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req matchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	claim, err := req.toClaim()
	if err != nil {
		writeError(w, r, err)
		return
	}

	_, msg, err := h.auctionSvc.MatchAuction(
		r.Context(), id, claim, req.Attestation.toDomain(),
	)
	if err != nil {
		writeError(w, r, err)
		return
	}
	a, err := h.auctionSvc.GetAuction(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"auction":    newAuctionInfo(*a),
		"settlement": newSettlementInfo(*msg),
	})
}

func (h *handler) deliverAuction(w http.ResponseWriter, r *http.Request) {
	id, err := auctionID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	receipt, err := h.relaySvc.DeliverAuction(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newReceiptInfo(*receipt))
}

func (h *handler) getLedger(w http.ResponseWriter, r *http.Request) {
	id, err := auctionID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeLedger(w, r, id, http.StatusOK)
}

func (h *handler) finalizeEscrows(w http.ResponseWriter, r *http.Request) {
	id, err := auctionID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.escrowSvc.FinalizeEscrows(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	h.writeLedger(w, r, id, http.StatusOK)
}

func (h *handler) writeLedger(
	w http.ResponseWriter, r *http.Request, id uint64, status int,
) {
	ledger, err := h.escrowSvc.Totals(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	entries, err := h.escrowSvc.ListEscrows(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, newLedgerInfo(*ledger, entries))
}

func (h *handler) getEscrow(w http.ResponseWriter, r *http.Request) {
	addr, err := address(r, "address")
	if err != nil {
		writeError(w, r, err)
		return
	}
	entry, err := h.escrowSvc.GetEscrow(r.Context(), addr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newEscrowInfo(*entry))
}

func (h *handler) releaseEscrow(w http.ResponseWriter, r *http.Request) {
	h.escrowTransition(w, r, h.escrowSvc.Release)
}

func (h *handler) refundEscrow(w http.ResponseWriter, r *http.Request) {
	h.escrowTransition(w, r, h.escrowSvc.Refund)
}

func (h *handler) escrowTransition(
	w http.ResponseWriter, r *http.Request,
	fn func(context.Context, common.Address) (*big.Int, error),
) {
	addr, err := address(r, "address")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := fn(r.Context(), addr); err != nil {
		writeError(w, r, err)
		return
	}
	h.getEscrow(w, r)
}

func (h *handler) forfeitEscrow(w http.ResponseWriter, r *http.Request) {
	addr, err := address(r, "address")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req reasonRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.escrowSvc.Forfeit(r.Context(), addr, req.Reason); err != nil {
		writeError(w, r, err)
		return
	}
	h.getEscrow(w, r)
}

func (h *handler) recordCompliance(w http.ResponseWriter, r *http.Request) {
	var req complianceRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	record, err := h.complianceSvc.RecordCompliance(
		r.Context(), req.toOutcome(), req.Attestation.toDomain(),
	)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newComplianceInfo(*record))
}

func (h *handler) getCompliance(w http.ResponseWriter, r *http.Request) {
	participant, err := address(r, "participant")
	if err != nil {
		writeError(w, r, err)
		return
	}
	record, err := h.complianceSvc.GetComplianceRecord(r.Context(), participant)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newComplianceInfo(*record))
}

func (h *handler) listSettlements(w http.ResponseWriter, r *http.Request) {
	label := r.URL.Query().Get("status")
	if label == "" {
		label = domain.DeliveryPending.String()
	}
	status, err := domain.ParseDeliveryStatus(label)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %s", errInvalidRequest, err))
		return
	}

	msgs, err := h.relaySvc.ListSettlements(r.Context(), status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	list := make([]settlementInfo, 0, len(msgs))
	for _, m := range msgs {
		list = append(list, newSettlementInfo(m))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"settlements": list})
}

func (h *handler) getSettlement(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("hash")
	if len(common.FromHex(raw)) != common.HashLength {
		writeError(w, r, fmt.Errorf("%w: invalid message hash %q", errInvalidRequest, raw))
		return
	}
	msg, err := h.relaySvc.Status(r.Context(), common.HexToHash(raw))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSettlementInfo(*msg))
}

func (h *handler) deliverSettlement(w http.ResponseWriter, r *http.Request) {
	var req deliverRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	payload, err := req.Payload.toDomain()
	if err != nil {
		writeError(w, r, err)
		return
	}

	receipt, err := h.relaySvc.Deliver(r.Context(), domain.SignedSettlementMessage{
		Payload:   payload,
		Signature: req.Signature,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newReceiptInfo(*receipt))
}

func (h *handler) listWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := h.pubsubSvc.ListWebhooks(r.Context(), r.URL.Query().Get("event"))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %s", errInvalidRequest, err))
		return
	}
	list := make([]webhookInfo, 0, len(hooks))
	for _, hook := range hooks {
		list = append(list, webhookInfo{
			ID:        hook.ID,
			Event:     hook.Event,
			Endpoint:  hook.Endpoint,
			IsSecured: hook.Secured,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"webhooks": list})
}

func (h *handler) addWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := h.pubsubSvc.AddWebhook(r.Context(), req.Event, req.Endpoint, req.Secret)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %s", errInvalidRequest, err))
		return
	}
	writeJSON(w, http.StatusCreated, webhookInfo{
		ID:        id,
		Event:     req.Event,
		Endpoint:  req.Endpoint,
		IsSecured: req.Secret != "",
	})
}

func (h *handler) removeWebhook(w http.ResponseWriter, r *http.Request) {
	if err := h.pubsubSvc.RemoveWebhook(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, fmt.Errorf("%w: %s", errInvalidRequest, err))
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
