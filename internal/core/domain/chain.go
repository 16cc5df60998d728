package domain

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

const (
	ArbitrumOneChainID = uint64(42161)
	SepoliaChainID     = uint64(11155111)
)

// Chain is a chain registry entry.
type Chain struct {
	ID                 uint64
	Name               string
	Endpoint           string
	SettlementContract common.Address
	Explorer           string
}

// ChainPair is a directed (source, target) route.
type ChainPair struct {
	Source uint64
	Target uint64
}

func (p ChainPair) String() string {
	return fmt.Sprintf("%d->%d", p.Source, p.Target)
}

// DefaultChains returns the chains known out of the box. Endpoints and
// settlement contracts are expected to be overridden by configuration.
func DefaultChains() []Chain {
	return []Chain{
		{
			ID:       ArbitrumOneChainID,
			Name:     "arbitrum",
			Endpoint: "https://arb1.arbitrum.io/rpc",
			Explorer: "https://arbiscan.io",
		},
		{
			ID:       SepoliaChainID,
			Name:     "sepolia",
			Endpoint: "https://rpc.sepolia.org",
			Explorer: "https://sepolia.etherscan.io",
		},
	}
}

// ChainRegistry is the read-only routing data injected into the relay.
type ChainRegistry struct {
	chains map[uint64]Chain
	routes map[ChainPair]struct{}
}

// NewChainRegistry returns a registry for the given chains and routes. Every
// route must connect two distinct registered chains.
func NewChainRegistry(chains []Chain, routes []ChainPair) (*ChainRegistry, error) {
	r := &ChainRegistry{
		chains: make(map[uint64]Chain),
		routes: make(map[ChainPair]struct{}),
	}
	for _, c := range chains {
		if c.ID == 0 {
			return nil, fmt.Errorf("%w: chain id must not be zero", ErrInvalidChainRegistry)
		}
		if _, ok := r.chains[c.ID]; ok {
			return nil, fmt.Errorf("%w: duplicate chain %d", ErrInvalidChainRegistry, c.ID)
		}
		r.chains[c.ID] = c
	}
	for _, p := range routes {
		if p.Source == p.Target {
			return nil, fmt.Errorf("%w: route %s is a loop", ErrInvalidChainRegistry, p)
		}
		if _, ok := r.chains[p.Source]; !ok {
			return nil, fmt.Errorf(
				"%w: route %s has unknown source", ErrInvalidChainRegistry, p,
			)
		}
		if _, ok := r.chains[p.Target]; !ok {
			return nil, fmt.Errorf(
				"%w: route %s has unknown target", ErrInvalidChainRegistry, p,
			)
		}
		r.routes[p] = struct{}{}
	}
	return r, nil
}

// Route returns the target chain of the given pair, or ErrUnknownChainPair.
func (r *ChainRegistry) Route(source, target uint64) (Chain, error) {
	pair := ChainPair{source, target}
	if _, ok := r.routes[pair]; !ok {
		return Chain{}, fmt.Errorf("%w: %s", ErrUnknownChainPair, pair)
	}
	return r.chains[target], nil
}

// Chain returns the registered chain with the given id.
func (r *ChainRegistry) Chain(id uint64) (Chain, bool) {
	c, ok := r.chains[id]
	return c, ok
}

// Chains returns the registered chains sorted by id.
func (r *ChainRegistry) Chains() []Chain {
	chains := make([]Chain, 0, len(r.chains))
	for _, c := range r.chains {
		chains = append(chains, c)
	}
	sort.Slice(chains, func(i, j int) bool { return chains[i].ID < chains[j].ID })
	return chains
}

// Routes returns the configured routes sorted by source and target.
func (r *ChainRegistry) Routes() []ChainPair {
	routes := make([]ChainPair, 0, len(r.routes))
	for p := range r.routes {
		routes = append(routes, p)
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Source != routes[j].Source {
			return routes[i].Source < routes[j].Source
		}
		return routes[i].Target < routes[j].Target
	})
	return routes
}
