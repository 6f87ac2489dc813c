// Package fees manages protocol fee percentages: the global and per-pool values
// held by the fee provider, and the copies pools cache from it.
package fees

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"poolctl/internal/chain"
	"poolctl/internal/contracts"
)

// FeeType identifies a protocol fee in the provider.
type FeeType int64

const (
	Swap FeeType = iota
	FlashLoan
	Yield
	AUM
)

func (f FeeType) String() string {
	switch f {
	case Swap:
		return "swap"
	case FlashLoan:
		return "flash_loan"
	case Yield:
		return "yield"
	case AUM:
		return "aum"
	default:
		return fmt.Sprintf("fee_type(%d)", int64(f))
	}
}

// ParseFeeType accepts a fee type name or its numeric id.
func ParseFeeType(input string) (FeeType, error) {
	for _, f := range []FeeType{Swap, FlashLoan, Yield, AUM} {
		if input == f.String() || input == fmt.Sprint(int64(f)) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown fee type %q", input)
}

func (f FeeType) big() *big.Int {
	return big.NewInt(int64(f))
}

// Provider wraps the (pool specific) protocol fee percentages provider.
type Provider struct {
	caller  chain.Caller
	address common.Address
	parsed  abi.ABI
}

func NewProvider(caller chain.Caller, address common.Address) (*Provider, error) {
	parsed, err := contracts.ProtocolFeeProviderABI()
	if err != nil {
		return nil, fmt.Errorf("parse fee provider abi: %w", err)
	}
	return &Provider{caller: caller, address: address, parsed: parsed}, nil
}

func (p *Provider) Address() common.Address {
	return p.address
}

// FeeTypePercentage returns the global percentage for a fee type.
func (p *Provider) FeeTypePercentage(ctx context.Context, feeType FeeType) (*big.Int, error) {
	values, err := contracts.Call(ctx, p.caller, p.address, p.parsed, "getFeeTypePercentage", feeType.big())
	if err != nil {
		return nil, err
	}
	return contracts.AsBigInt(values[0])
}

func (p *Provider) FeeTypeMaximumPercentage(ctx context.Context, feeType FeeType) (*big.Int, error) {
	values, err := contracts.Call(ctx, p.caller, p.address, p.parsed, "getFeeTypeMaximumPercentage", feeType.big())
	if err != nil {
		return nil, err
	}
	return contracts.AsBigInt(values[0])
}

func (p *Provider) SetFeeTypePercentage(ctx context.Context, sender chain.Sender, feeType FeeType, value *big.Int) (*types.Receipt, error) {
	call, err := contracts.NewCall(p.address, p.parsed, "setFeeTypePercentage",
		fmt.Sprintf("set %s fee", feeType), feeType.big(), value)
	if err != nil {
		return nil, err
	}
	return sender.Send(ctx, call)
}

// SetFeeTypePercentageForPool overrides a fee type for one pool. Pools pick the
// value up on their next cache update.
func (p *Provider) SetFeeTypePercentageForPool(ctx context.Context, sender chain.Sender, pool common.Address, feeType FeeType, value *big.Int) (*types.Receipt, error) {
	call, err := contracts.NewCall(p.address, p.parsed, "setFeeTypePercentageForPool",
		fmt.Sprintf("set %s fee for %s", feeType, pool.Hex()), pool, feeType.big(), value)
	if err != nil {
		return nil, err
	}
	return sender.Send(ctx, call)
}

// RemoveFeeTypePercentageForPool drops a pool override so the pool falls back to
// the global value.
func (p *Provider) RemoveFeeTypePercentageForPool(ctx context.Context, sender chain.Sender, pool common.Address, feeType FeeType) (*types.Receipt, error) {
	call, err := contracts.NewCall(p.address, p.parsed, "removeFeeTypePercentageForPool",
		fmt.Sprintf("remove %s fee for %s", feeType, pool.Hex()), pool, feeType.big())
	if err != nil {
		return nil, err
	}
	return sender.Send(ctx, call)
}
