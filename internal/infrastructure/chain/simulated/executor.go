// Package simulated implements an in-process target chain running the
// settlement contract logic. It's meant for development deployments and
// tests.
package simulated

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
	"github.com/tdex-network/tdex-settlement/internal/core/ports"
)

var (
	// ErrInsufficientLiquidity is returned when the settlement contract
	// can't cover the amount of a settlement.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	// ErrAlreadySettled is returned when executing the same message twice.
	ErrAlreadySettled = errors.New("settlement already executed")
)

type settlement struct {
	txHash    common.Hash
	recipient common.Address
	amount    *big.Int
}

type chainState struct {
	liquidity   map[common.Address]*big.Int
	balances    map[common.Address]map[common.Address]*big.Int
	settlements map[common.Hash]settlement
	nonce       uint64
}

// Chains simulates the settlement contracts of every target chain.
type Chains struct {
	authorized []common.Address

	lock   *sync.RWMutex
	chains map[uint64]*chainState
}

// NewChains returns simulated target chains accepting messages signed by
// the given relayers.
func NewChains(authorized []common.Address) *Chains {
	return &Chains{
		authorized: authorized,
		lock:       &sync.RWMutex{},
		chains:     make(map[uint64]*chainState),
	}
}

// Fund adds liquidity of the given token to the settlement contract of a
// chain.
func (c *Chains) Fund(chainID uint64, token common.Address, amount *big.Int) {
	c.lock.Lock()
	defer c.lock.Unlock()

	state := c.getChain(chainID)
	if _, ok := state.liquidity[token]; !ok {
		state.liquidity[token] = new(big.Int)
	}
	state.liquidity[token].Add(state.liquidity[token], amount)
}

// Liquidity returns the available liquidity of a token on a chain.
func (c *Chains) Liquidity(chainID uint64, token common.Address) *big.Int {
	c.lock.RLock()
	defer c.lock.RUnlock()

	state, ok := c.chains[chainID]
	if !ok || state.liquidity[token] == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(state.liquidity[token])
}

// BalanceOf returns the amount of a token paid out to an account.
func (c *Chains) BalanceOf(
	chainID uint64, token, account common.Address,
) *big.Int {
	c.lock.RLock()
	defer c.lock.RUnlock()

	state, ok := c.chains[chainID]
	if !ok || state.balances[token] == nil || state.balances[token][account] == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(state.balances[token][account])
}

func (c *Chains) ExecuteSettlement(
	ctx context.Context, chain domain.Chain, msg domain.SignedSettlementMessage,
) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := domain.VerifySignedMessage(msg, c.authorized); err != nil {
		return "", err
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	state := c.getChain(chain.ID)
	p := msg.Payload
	if _, ok := state.settlements[p.Hash]; ok {
		return "", ErrAlreadySettled
	}

	available := state.liquidity[p.AssetToken]
	if available == nil || available.Cmp(p.Amount) < 0 {
		return "", fmt.Errorf(
			"%w: %s available, %s required", ErrInsufficientLiquidity,
			available, p.Amount,
		)
	}
	available.Sub(available, p.Amount)

	if _, ok := state.balances[p.AssetToken]; !ok {
		state.balances[p.AssetToken] = make(map[common.Address]*big.Int)
	}
	balance, ok := state.balances[p.AssetToken][p.Recipient]
	if !ok {
		balance = new(big.Int)
		state.balances[p.AssetToken][p.Recipient] = balance
	}
	balance.Add(balance, p.Amount)

	state.nonce++
	txHash := crypto.Keccak256Hash(
		new(big.Int).SetUint64(chain.ID).Bytes(),
		p.Hash.Bytes(),
		new(big.Int).SetUint64(state.nonce).Bytes(),
	)
	state.settlements[p.Hash] = settlement{
		txHash:    txHash,
		recipient: p.Recipient,
		amount:    new(big.Int).Set(p.Amount),
	}

	log.WithFields(log.Fields{
		"chain":        chain.ID,
		"message_hash": p.Hash.Hex(),
		"recipient":    p.Recipient.Hex(),
		"amount":       p.Amount.String(),
	}).Debug("simulated settlement executed")
	return txHash.Hex(), nil
}

func (c *Chains) GetSettlement(
	ctx context.Context, chain domain.Chain, hash common.Hash,
) (*ports.TargetSettlement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.lock.RLock()
	defer c.lock.RUnlock()

	state, ok := c.chains[chain.ID]
	if !ok {
		return &ports.TargetSettlement{}, nil
	}
	s, ok := state.settlements[hash]
	if !ok {
		return &ports.TargetSettlement{}, nil
	}
	return &ports.TargetSettlement{Executed: true, TxHash: s.txHash.Hex()}, nil
}

func (c *Chains) getChain(id uint64) *chainState {
	state, ok := c.chains[id]
	if !ok {
		state = &chainState{
			liquidity:   make(map[common.Address]*big.Int),
			balances:    make(map[common.Address]map[common.Address]*big.Int),
			settlements: make(map[common.Hash]settlement),
		}
		c.chains[id] = state
	}
	return state
}
