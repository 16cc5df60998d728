package httpinterface_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-settlement/internal/core/application/auction"
	"github.com/tdex-network/tdex-settlement/internal/core/application/escrow"
	"github.com/tdex-network/tdex-settlement/internal/core/application/pubsub"
	"github.com/tdex-network/tdex-settlement/internal/core/application/relay"
	"github.com/tdex-network/tdex-settlement/internal/core/application/testutil"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
	"github.com/tdex-network/tdex-settlement/internal/infrastructure/chain/simulated"
	httpinterface "github.com/tdex-network/tdex-settlement/internal/interfaces/http"
)

var secret = []byte("0123456789abcdef0123456789abcdef")

type fixture struct {
	*testutil.Harness
	server *httptest.Server
	chains *simulated.Chains
	token  string
}

func newFixture(t *testing.T) *fixture {
	h := testutil.NewHarness(t, testutil.Options{AutoFinalizeEscrows: true})

	chainRegistry, err := domain.NewChainRegistry(
		domain.DefaultChains(),
		[]domain.ChainPair{
			{Source: domain.ArbitrumOneChainID, Target: domain.SepoliaChainID},
		},
	)
	require.NoError(t, err)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	relayer := domain.NewKeySigner(key)

	chains := simulated.NewChains([]common.Address{relayer.Address()})
	chains.Fund(domain.SepoliaChainID, testutil.AssetToken, testutil.Ether(100))

	relaySvc, err := relay.NewService(
		h.RepoManager, h.AuctionSvc, chains, h.PubSub, relay.Config{
			Registry:           chainRegistry,
			AuthorizedRelayers: []common.Address{relayer.Address()},
			Signer:             relayer,
			Now:                h.Clock.Now,
		},
	)
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	registry.MustRegister(auction.Collectors()...)
	registry.MustRegister(escrow.Collectors()...)
	registry.MustRegister(relay.Collectors()...)

	handler, err := httpinterface.NewHandler(httpinterface.ServiceOpts{
		OperatorSecret:  secret,
		MetricsGatherer: registry,
		AuctionSvc:      h.AuctionSvc,
		EscrowSvc:       h.EscrowSvc,
		ComplianceSvc:   h.ComplianceSvc,
		RelaySvc:        relaySvc,
		PubSubSvc:       h.PubSub,
	})
	require.NoError(t, err)

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	token, err := httpinterface.NewOperatorToken(secret, 0)
	require.NoError(t, err)

	return &fixture{h, server, chains, token}
}

func (f *fixture) do(
	t *testing.T, method, path string, body interface{}, token string,
) (int, []byte) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, buf
}

func (f *fixture) openAuction(t *testing.T) uint64 {
	params := f.AuctionParams(testutil.Ether(10))
	status, body := f.do(t, http.MethodPost, "/v1/auctions", map[string]interface{}{
		"seller":           params.Seller,
		"asset_token":      params.AssetToken,
		"asset_amount":     params.AssetAmount.String(),
		"reserve_price":    params.ReservePrice.String(),
		"bidding_deadline": params.BiddingDeadline,
		"source_chain_id":  params.SourceChainID,
		"target_chain_id":  params.TargetChainID,
	}, f.token)
	require.Equal(t, http.StatusCreated, status, string(body))

	var res struct {
		ID     uint64 `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(body, &res))
	require.Equal(t, "OPEN", res.Status)
	return res.ID
}

func bidBody(bid domain.BidCommitment) map[string]interface{} {
	return map[string]interface{}{
		"bidder":            bid.Bidder,
		"escrow_address":    bid.EscrowAddress,
		"encrypted_payload": hexutil.Bytes(bid.EncryptedPayload),
		"deposit_amount":    bid.DepositAmount.String(),
		"timestamp":         bid.Timestamp,
		"signature":         hexutil.Bytes(bid.Signature),
	}
}

func (f *fixture) submitBid(
	t *testing.T, auctionID uint64, price, deposit *big.Int,
) domain.BidCommitment {
	bid, _ := f.NewBid(t, auctionID, price, deposit)
	status, body := f.do(
		t, http.MethodPost, fmt.Sprintf("/v1/auctions/%d/bids", auctionID),
		bidBody(bid), "",
	)
	require.Equal(t, http.StatusCreated, status, string(body))
	return bid
}

func (f *fixture) matchBody(t *testing.T, auctionID uint64) map[string]interface{} {
	a, err := f.AuctionSvc.GetAuction(context.Background(), auctionID)
	require.NoError(t, err)
	claim, att, err := f.Enclave.MatchAuction(a)
	require.NoError(t, err)

	return map[string]interface{}{
		"winner":         claim.Winner,
		"winning_escrow": claim.WinningEscrow,
		"winning_price":  claim.WinningPrice.String(),
		"attestation": map[string]interface{}{
			"enclave_measurement": att.EnclaveMeasurement,
			"result_hash":         att.ResultHash,
			"timestamp":           att.Timestamp,
			"signature":           hexutil.Bytes(att.Signature),
		},
	}
}

func TestOperatorAuth(t *testing.T) {
	f := newFixture(t)

	otherToken, err := httpinterface.NewOperatorToken(
		[]byte("fedcba9876543210fedcba9876543210"), 0,
	)
	require.NoError(t, err)
	expiredToken, err := httpinterface.NewOperatorToken(
		secret, time.Now().Add(-time.Minute).Unix(),
	)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"missing_token", ""},
		{"wrong_secret", otherToken},
		{"expired", expiredToken},
		{"malformed", "not-a-jwt"},
	}

	for i := range tests {
		tt := tests[i]

		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			status, body := f.do(t, http.MethodPost, "/v1/auctions/1/close", nil, tt.token)
			require.Equal(t, http.StatusUnauthorized, status, string(body))
		})
	}

	// Read routes stay public.
	status, _ := f.do(t, http.MethodGet, "/v1/auctions", nil, "")
	require.Equal(t, http.StatusOK, status)
}

func TestSettlementOverHTTP(t *testing.T) {
	f := newFixture(t)

	auctionID := f.openAuction(t)
	f.submitBid(t, auctionID, testutil.Ether(11), testutil.Ether(2))
	winner := f.submitBid(t, auctionID, testutil.Ether(12), testutil.Ether(3))

	path := fmt.Sprintf("/v1/auctions/%d", auctionID)
	status, body := f.do(t, http.MethodPost, path+"/close", nil, f.token)
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = f.do(t, http.MethodPost, path+"/match", f.matchBody(t, auctionID), f.token)
	require.Equal(t, http.StatusOK, status, string(body))

	var matched struct {
		Auction struct {
			Status string `json:"status"`
			Match  struct {
				Winner       common.Address `json:"winner"`
				WinningPrice string         `json:"winning_price"`
			} `json:"match"`
		} `json:"auction"`
		Settlement struct {
			Payload struct {
				Hash common.Hash `json:"hash"`
			} `json:"payload"`
			Status string `json:"status"`
		} `json:"settlement"`
	}
	require.NoError(t, json.Unmarshal(body, &matched))
	require.Equal(t, "MATCHED", matched.Auction.Status)
	require.Equal(t, winner.Bidder, matched.Auction.Match.Winner)
	require.Equal(t, testutil.Ether(12).String(), matched.Auction.Match.WinningPrice)
	require.Equal(t, "PENDING", matched.Settlement.Status)

	status, body = f.do(t, http.MethodPost, path+"/deliver", nil, f.token)
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = f.do(t, http.MethodPost, path+"/deliver", nil, f.token)
	require.Equal(t, http.StatusConflict, status, string(body))

	hash := matched.Settlement.Payload.Hash.Hex()
	status, body = f.do(t, http.MethodGet, "/v1/settlements/"+hash, nil, "")
	require.Equal(t, http.StatusOK, status, string(body))
	require.Contains(t, string(body), `"status":"DELIVERED"`)

	status, body = f.do(t, http.MethodGet, path+"/status", nil, "")
	require.Equal(t, http.StatusOK, status, string(body))
	require.Contains(t, string(body), `"status":"SETTLED"`)

	status, body = f.do(t, http.MethodGet, path+"/escrows", nil, "")
	require.Equal(t, http.StatusOK, status, string(body))
	var ledger struct {
		Held     string `json:"held"`
		Released string `json:"released"`
		Refunded string `json:"refunded"`
		Balanced bool   `json:"balanced"`
	}
	require.NoError(t, json.Unmarshal(body, &ledger))
	require.True(t, ledger.Balanced)
	require.Equal(t, "0", ledger.Held)
	require.Equal(t, testutil.Ether(3).String(), ledger.Released)
	require.Equal(t, testutil.Ether(2).String(), ledger.Refunded)

	require.Zero(t, testutil.Ether(12).Cmp(
		f.chains.BalanceOf(domain.SepoliaChainID, testutil.AssetToken, winner.Bidder),
	))

	status, body = f.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, string(body), "settlement_auction_settled_total")
}

func TestErrorStatus(t *testing.T) {
	f := newFixture(t)
	auctionID := f.openAuction(t)
	bid := f.submitBid(t, auctionID, testutil.Ether(11), testutil.Ether(2))

	tampered := bidBody(bid)
	tampered["deposit_amount"] = testutil.Ether(5).String()
	tampered["escrow_address"] = common.HexToAddress("0xe5c")

	duplicate, bidderKey := f.NewBid(t, auctionID, testutil.Ether(12), testutil.Ether(1))
	duplicate.EscrowAddress = bid.EscrowAddress
	require.NoError(t, domain.SignBid(&duplicate, bidderKey))

	bidsPath := fmt.Sprintf("/v1/auctions/%d/bids", auctionID)

	tests := []struct {
		name           string
		method         string
		path           string
		body           interface{}
		token          string
		expectedStatus int
		expectedClass  string
	}{
		{
			name:           "unknown_auction",
			method:         http.MethodGet,
			path:           "/v1/auctions/99",
			expectedStatus: http.StatusNotFound,
			expectedClass:  "not_found",
		},
		{
			name:           "invalid_auction_id",
			method:         http.MethodGet,
			path:           "/v1/auctions/abc",
			expectedStatus: http.StatusBadRequest,
			expectedClass:  "validation",
		},
		{
			name:           "invalid_amount",
			method:         http.MethodPost,
			path:           bidsPath,
			body:           map[string]interface{}{"deposit_amount": "1.5"},
			expectedStatus: http.StatusBadRequest,
			expectedClass:  "validation",
		},
		{
			name:           "unknown_field",
			method:         http.MethodPost,
			path:           bidsPath,
			body:           map[string]interface{}{"price": "12"},
			expectedStatus: http.StatusBadRequest,
			expectedClass:  "validation",
		},
		{
			name:           "tampered_bid",
			method:         http.MethodPost,
			path:           bidsPath,
			body:           tampered,
			expectedStatus: http.StatusForbidden,
			expectedClass:  "attestation",
		},
		{
			name:           "duplicate_escrow",
			method:         http.MethodPost,
			path:           bidsPath,
			body:           bidBody(duplicate),
			expectedStatus: http.StatusBadRequest,
			expectedClass:  "validation",
		},
		{
			name:           "match_open_auction",
			method:         http.MethodPost,
			path:           fmt.Sprintf("/v1/auctions/%d/match", auctionID),
			body:           f.matchBody(t, auctionID),
			token:          f.token,
			expectedStatus: http.StatusConflict,
			expectedClass:  "state",
		},
		{
			name:           "unknown_escrow",
			method:         http.MethodGet,
			path:           "/v1/escrows/" + common.HexToAddress("0xdead").Hex(),
			expectedStatus: http.StatusNotFound,
			expectedClass:  "not_found",
		},
		{
			name:           "invalid_settlement_hash",
			method:         http.MethodGet,
			path:           "/v1/settlements/0x1234",
			expectedStatus: http.StatusBadRequest,
			expectedClass:  "validation",
		},
		{
			name:           "invalid_status_filter",
			method:         http.MethodGet,
			path:           "/v1/auctions?status=PAUSED",
			expectedStatus: http.StatusBadRequest,
			expectedClass:  "validation",
		},
	}

	for _, tt := range tests {
		status, body := f.do(t, tt.method, tt.path, tt.body, tt.token)
		require.Equal(t, tt.expectedStatus, status, "%s: %s", tt.name, body)

		var res struct {
			Error string `json:"error"`
			Class string `json:"class"`
		}
		require.NoError(t, json.Unmarshal(body, &res), tt.name)
		require.Equal(t, tt.expectedClass, res.Class, tt.name)
		require.NotEmpty(t, res.Error, tt.name)
	}
}

func TestEscrowForfeitOverHTTP(t *testing.T) {
	f := newFixture(t)
	auctionID := f.openAuction(t)
	bid := f.submitBid(t, auctionID, testutil.Ether(11), testutil.Ether(2))

	path := fmt.Sprintf("/v1/escrows/%s", bid.EscrowAddress.Hex())
	reason := map[string]interface{}{"reason": "equivocation"}

	status, body := f.do(t, http.MethodPost, path+"/forfeit", reason, f.token)
	require.Equal(t, http.StatusConflict, status, string(body))

	status, body = f.do(
		t, http.MethodPost, fmt.Sprintf("/v1/auctions/%d/cancel", auctionID),
		map[string]interface{}{"reason": "seller withdrew"}, f.token,
	)
	require.Equal(t, http.StatusOK, status, string(body))
	require.Contains(t, string(body), `"status":"CANCELLED"`)

	status, body = f.do(t, http.MethodGet, path, nil, "")
	require.Equal(t, http.StatusOK, status, string(body))
	require.Contains(t, string(body), `"state":"REFUNDED"`)

	status, body = f.do(t, http.MethodPost, path+"/forfeit", reason, f.token)
	require.Equal(t, http.StatusConflict, status, string(body))
}

func TestEventStream(t *testing.T) {
	f := newFixture(t)
	auctionID := f.openAuction(t)
	f.submitBid(t, auctionID, testutil.Ether(11), testutil.Ether(2))

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") +
		"/v1/events?event=" + pubsub.EventAuctionMatched
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	f.CloseAndMatch(t, auctionID)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var event pubsub.Event
	require.NoError(t, conn.ReadJSON(&event))
	require.Equal(t, pubsub.EventAuctionMatched, event.Topic)

	var payload struct {
		AuctionID uint64 `json:"auction_id"`
	}
	require.NoError(t, json.Unmarshal(event.Payload, &payload))
	require.Equal(t, auctionID, payload.AuctionID)
}
