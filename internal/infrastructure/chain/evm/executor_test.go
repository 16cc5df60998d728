package evm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
)

// newChainServer returns a json-rpc endpoint answering eth_chainId. Requests
// are notified on hits, if it has room, and held until gate is closed when
// gate is not nil.
func newChainServer(
	t *testing.T, chainID uint64, gate <-chan struct{}, hits chan<- struct{},
) domain.Chain {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				ID json.RawMessage `json:"id"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			select {
			case hits <- struct{}{}:
			default:
			}
			if gate != nil {
				select {
				case <-gate:
				case <-r.Context().Done():
					return
				}
			}

			w.Header().Set("Content-Type", "application/json")
			//nolint
			json.NewEncoder(w).Encode(map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"result":  hexutil.EncodeUint64(chainID),
			})
		},
	))
	t.Cleanup(srv.Close)

	return domain.Chain{
		ID:                 chainID,
		Name:               "test",
		Endpoint:           srv.URL,
		SettlementContract: common.HexToAddress("0x5e771e"),
	}
}

func newTestExecutor(t *testing.T) *executor {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	e, err := NewExecutor(key)
	require.NoError(t, err)
	return e.(*executor)
}

func TestGetClientDoesNotBlockOtherChains(t *testing.T) {
	t.Parallel()

	e := newTestExecutor(t)
	gate := make(chan struct{})
	slowHits := make(chan struct{}, 1)
	slow := newChainServer(t, domain.SepoliaChainID, gate, slowHits)
	fast := newChainServer(
		t, domain.ArbitrumOneChainID, nil, make(chan struct{}, 1),
	)

	type result struct {
		c   *chainClient
		err error
	}
	slowRes := make(chan result, 1)
	go func() {
		c, err := e.getClient(context.Background(), slow)
		slowRes <- result{c, err}
	}()
	<-slowHits

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := e.getClient(ctx, fast)
	require.NoError(t, err)
	require.Equal(t, fast.SettlementContract, c.address)

	select {
	case <-slowRes:
		t.Fatal("slow endpoint answered before being released")
	default:
	}

	close(gate)
	res := <-slowRes
	require.NoError(t, res.err)
	require.Equal(t, slow.SettlementContract, res.c.address)

	cached, err := e.getClient(ctx, slow)
	require.NoError(t, err)
	require.Same(t, res.c, cached)
}

func TestGetClientConcurrentDialsShareClient(t *testing.T) {
	t.Parallel()

	e := newTestExecutor(t)
	gate := make(chan struct{})
	hits := make(chan struct{}, 2)
	chain := newChainServer(t, domain.SepoliaChainID, gate, hits)

	results := make(chan *chainClient, 2)
	for i := 0; i < 2; i++ {
		go func() {
			c, err := e.getClient(context.Background(), chain)
			if err != nil {
				results <- nil
				return
			}
			results <- c
		}()
	}
	<-hits
	<-hits
	close(gate)

	first, second := <-results, <-results
	require.NotNil(t, first)
	require.Same(t, first, second)

	e.lock.Lock()
	defer e.lock.Unlock()
	require.Len(t, e.clients, 1)
}

func TestFailingGetClient(t *testing.T) {
	t.Parallel()

	e := newTestExecutor(t)
	wrongChain := newChainServer(
		t, domain.ArbitrumOneChainID, nil, make(chan struct{}, 1),
	)
	wrongChain.ID = domain.SepoliaChainID

	tests := []struct {
		name  string
		chain domain.Chain
	}{
		{"missing_contract", domain.Chain{ID: 1, Endpoint: "http://localhost"}},
		{"missing_endpoint", domain.Chain{ID: 1, SettlementContract: common.HexToAddress("0x01")}},
		{"wrong_chain_id", wrongChain},
	}

	for _, tt := range tests {
		c, err := e.getClient(context.Background(), tt.chain)
		require.Error(t, err, tt.name)
		require.Nil(t, c, tt.name)
	}

	e.lock.Lock()
	defer e.lock.Unlock()
	require.Empty(t, e.clients)
}
