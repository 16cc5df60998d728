// Package evm invokes the settlement contract of EVM target chains.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
	"github.com/tdex-network/tdex-settlement/internal/core/ports"
	"github.com/tdex-network/tdex-settlement/pkg/circuitbreaker"
)

// ErrExecutionReverted is returned when the settlement transaction is
// mined but reverted, for example for insufficient liquidity.
var ErrExecutionReverted = errors.New("settlement transaction reverted")

type chainClient struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	address  common.Address
	cb       *gobreaker.CircuitBreaker
}

type executor struct {
	key *ecdsa.PrivateKey

	lock    *sync.Mutex
	clients map[uint64]*chainClient
}

// NewExecutor returns a SettlementExecutor sending transactions signed by
// the given key. Connections to the target chains are opened lazily.
func NewExecutor(key *ecdsa.PrivateKey) (ports.SettlementExecutor, error) {
	if key == nil {
		return nil, fmt.Errorf("missing transaction signing key")
	}
	return &executor{
		key:     key,
		lock:    &sync.Mutex{},
		clients: make(map[uint64]*chainClient),
	}, nil
}

func (e *executor) ExecuteSettlement(
	ctx context.Context, chain domain.Chain, msg domain.SignedSettlementMessage,
) (string, error) {
	c, err := e.getClient(ctx, chain)
	if err != nil {
		return "", err
	}

	data, err := packReceiveSettlement(msg)
	if err != nil {
		return "", err
	}

	opts, err := bind.NewKeyedTransactorWithChainID(
		e.key, new(big.Int).SetUint64(chain.ID),
	)
	if err != nil {
		return "", err
	}
	opts.Context = ctx

	res, err := c.cb.Execute(func() (interface{}, error) {
		tx, err := c.contract.RawTransact(opts, data)
		if err != nil {
			return nil, err
		}

		log.WithFields(log.Fields{
			"chain":        chain.Name,
			"tx_hash":      tx.Hash().Hex(),
			"message_hash": msg.Payload.Hash.Hex(),
		}).Debug("settlement transaction sent, waiting to be mined")

		receipt, err := bind.WaitMined(ctx, c.client, tx)
		if err != nil {
			return nil, err
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			return nil, fmt.Errorf("%w: tx %s", ErrExecutionReverted, tx.Hash())
		}
		return tx.Hash().Hex(), nil
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

func (e *executor) GetSettlement(
	ctx context.Context, chain domain.Chain, hash common.Hash,
) (*ports.TargetSettlement, error) {
	c, err := e.getClient(ctx, chain)
	if err != nil {
		return nil, err
	}

	res, err := c.cb.Execute(func() (interface{}, error) {
		out := make([]interface{}, 0)
		if err := c.contract.Call(
			&bind.CallOpts{Context: ctx}, &out, settlementsMethod, [32]byte(hash),
		); err != nil {
			return nil, err
		}
		settlement, err := unpackSettlement(out)
		if err != nil {
			return nil, err
		}
		if settlement.Status != settlementExecuted {
			return &ports.TargetSettlement{}, nil
		}

		txHash, err := e.findSettlementTx(ctx, c, hash)
		if err != nil {
			return nil, err
		}
		return &ports.TargetSettlement{Executed: true, TxHash: txHash}, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*ports.TargetSettlement), nil
}

// findSettlementTx returns the hash of the transaction that emitted the
// SettlementReceived event for the given message, if any.
func (e *executor) findSettlementTx(
	ctx context.Context, c *chainClient, hash common.Hash,
) (string, error) {
	logs, err := c.client.FilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{c.address},
		Topics: [][]common.Hash{
			{settlementABI.Events[settlementReceivedEvent].ID},
			{hash},
		},
	})
	if err != nil {
		return "", err
	}
	if len(logs) <= 0 {
		return "", nil
	}
	return logs[len(logs)-1].TxHash.Hex(), nil
}

func (e *executor) getClient(
	ctx context.Context, chain domain.Chain,
) (*chainClient, error) {
	e.lock.Lock()
	c, ok := e.clients[chain.ID]
	e.lock.Unlock()
	if ok {
		return c, nil
	}

	c, err := e.dial(ctx, chain)
	if err != nil {
		return nil, err
	}

	e.lock.Lock()
	defer e.lock.Unlock()

	// Another delivery to the same chain may have connected meanwhile.
	if existing, ok := e.clients[chain.ID]; ok {
		c.client.Close()
		return existing, nil
	}
	e.clients[chain.ID] = c

	log.WithFields(log.Fields{
		"chain":    chain.Name,
		"endpoint": chain.Endpoint,
		"contract": chain.SettlementContract.Hex(),
	}).Info("connected to target chain")
	return c, nil
}

// dial connects to the endpoint of the chain and checks it serves the
// expected chain id.
func (e *executor) dial(
	ctx context.Context, chain domain.Chain,
) (*chainClient, error) {
	if chain.SettlementContract == (common.Address{}) {
		return nil, fmt.Errorf(
			"missing settlement contract address for chain %d", chain.ID,
		)
	}
	if len(chain.Endpoint) <= 0 {
		return nil, fmt.Errorf("missing rpc endpoint for chain %d", chain.ID)
	}

	client, err := ethclient.DialContext(ctx, chain.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain %d: %w", chain.ID, err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get chain id of %s: %w", chain.Name, err)
	}
	if chainID.Uint64() != chain.ID {
		client.Close()
		return nil, fmt.Errorf(
			"endpoint of chain %d serves chain %s", chain.ID, chainID,
		)
	}

	c := &chainClient{
		client: client,
		contract: bind.NewBoundContract(
			chain.SettlementContract, settlementABI, client, client, client,
		),
		address: chain.SettlementContract,
		cb: circuitbreaker.NewCircuitBreaker(
			fmt.Sprintf("chain-%d", chain.ID), ErrExecutionReverted,
		),
	}
	return c, nil
}
