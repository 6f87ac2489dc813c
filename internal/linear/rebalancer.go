// Package linear drives linear pool rebalancers and the wrapped-token vaults
// behind them.
package linear

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"poolctl/internal/chain"
	"poolctl/internal/contracts"
)

// Rebalancer wraps a linear pool rebalancer, the asset manager of a linear
// pool's tokens.
type Rebalancer struct {
	address common.Address
	parsed  abi.ABI
}

func NewRebalancer(address common.Address) (*Rebalancer, error) {
	parsed, err := contracts.LinearRebalancerABI()
	if err != nil {
		return nil, fmt.Errorf("parse rebalancer abi: %w", err)
	}
	return &Rebalancer{address: address, parsed: parsed}, nil
}

// RebalancerFor finds the rebalancer of a linear pool through the asset manager
// the vault reports for its main token.
func RebalancerFor(ctx context.Context, vault *contracts.Vault, poolID [32]byte, mainToken common.Address) (*Rebalancer, error) {
	info, err := vault.GetPoolTokenInfo(ctx, poolID, mainToken)
	if err != nil {
		return nil, err
	}
	if info.AssetManager == (common.Address{}) {
		return nil, fmt.Errorf("pool %s has no asset manager for %s", hexutil.Encode(poolID[:]), mainToken.Hex())
	}
	return NewRebalancer(info.AssetManager)
}

func (r *Rebalancer) Address() common.Address {
	return r.address
}

// RebalanceCall brings the pool back inside its targets. Any fee surplus is paid
// to recipient.
func (r *Rebalancer) RebalanceCall(recipient common.Address) (chain.Call, error) {
	return contracts.NewCall(r.address, r.parsed, "rebalance", "rebalance "+r.address.Hex(), recipient)
}

// RebalanceWithExtraMainCall rebalances after the caller lends extraMain of the
// main token to cover rounding.
func (r *Rebalancer) RebalanceWithExtraMainCall(recipient common.Address, extraMain *big.Int) (chain.Call, error) {
	return contracts.NewCall(r.address, r.parsed, "rebalanceWithExtraMain", "rebalanceWithExtraMain "+r.address.Hex(), recipient, extraMain)
}

// ManualRebalancer wraps the Reaper manual rebalancer, which moves liquidity
// between the main and wrapped side of a linear pool on request.
type ManualRebalancer struct {
	address common.Address
	parsed  abi.ABI
}

func NewManualRebalancer(address common.Address) (*ManualRebalancer, error) {
	parsed, err := contracts.ManualRebalancerABI()
	if err != nil {
		return nil, fmt.Errorf("parse manual rebalancer abi: %w", err)
	}
	return &ManualRebalancer{address: address, parsed: parsed}, nil
}

func (m *ManualRebalancer) Address() common.Address {
	return m.address
}

func (m *ManualRebalancer) WrapCall(poolID [32]byte, amount, limit *big.Int) (chain.Call, error) {
	return contracts.NewCall(m.address, m.parsed, "wrap", "wrap "+hexutil.Encode(poolID[:]), poolID, amount, limit)
}

func (m *ManualRebalancer) UnwrapCall(poolID [32]byte, amount, limit *big.Int) (chain.Call, error) {
	return contracts.NewCall(m.address, m.parsed, "unwrap", "unwrap "+hexutil.Encode(poolID[:]), poolID, amount, limit)
}
