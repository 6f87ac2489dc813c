package fees

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"poolctl/internal/chain"
	"poolctl/internal/contracts"
)

const feeCacheSlotBits = 64

var feeCacheSlotMask = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), feeCacheSlotBits), big.NewInt(1))

// FeeCache is a pool's cached protocol fees. On chain the three values are packed
// into one word: swap in bits 0-63, yield in 64-127 and AUM in 128-191.
type FeeCache struct {
	Swap  *big.Int
	Yield *big.Int
	AUM   *big.Int
}

// DecodeFeeCache unpacks the word emitted by ProtocolFeePercentageCacheUpdated.
func DecodeFeeCache(word [32]byte) FeeCache {
	packed := new(big.Int).SetBytes(word[:])
	slot := func(i uint) *big.Int {
		return new(big.Int).And(new(big.Int).Rsh(packed, i*feeCacheSlotBits), feeCacheSlotMask)
	}
	return FeeCache{Swap: slot(0), Yield: slot(1), AUM: slot(2)}
}

// Encode packs the cache. Values wider than 64 bits are rejected.
func (c FeeCache) Encode() ([32]byte, error) {
	var word [32]byte
	packed := new(big.Int)
	for i, value := range []*big.Int{c.Swap, c.Yield, c.AUM} {
		if value == nil {
			continue
		}
		if value.Sign() < 0 || value.BitLen() > feeCacheSlotBits {
			return word, fmt.Errorf("fee cache slot %d out of range: %s", i, value)
		}
		packed.Or(packed, new(big.Int).Lsh(value, uint(i)*feeCacheSlotBits))
	}
	packed.FillBytes(word[:])
	return word, nil
}

// Get returns the cached value for a fee type. Flash loan fees are not cached.
func (c FeeCache) Get(feeType FeeType) (*big.Int, error) {
	switch feeType {
	case Swap:
		return c.Swap, nil
	case Yield:
		return c.Yield, nil
	case AUM:
		return c.AUM, nil
	default:
		return nil, fmt.Errorf("%s fee is not cached by pools", feeType)
	}
}

// PoolFees reads and refreshes one pool's protocol fee cache.
type PoolFees struct {
	caller  chain.Caller
	address common.Address
	parsed  abi.ABI
}

func NewPoolFees(caller chain.Caller, pool common.Address) (*PoolFees, error) {
	parsed, err := contracts.BasePoolABI()
	if err != nil {
		return nil, fmt.Errorf("parse pool abi: %w", err)
	}
	return &PoolFees{caller: caller, address: pool, parsed: parsed}, nil
}

func (p *PoolFees) ProtocolFeePercentageCache(ctx context.Context, feeType FeeType) (*big.Int, error) {
	values, err := contracts.Call(ctx, p.caller, p.address, p.parsed, "getProtocolFeePercentageCache", feeType.big())
	if err != nil {
		return nil, err
	}
	return contracts.AsBigInt(values[0])
}

// UpdateProtocolFeePercentageCache makes the pool re-read the provider and returns
// the cache it emitted.
func (p *PoolFees) UpdateProtocolFeePercentageCache(ctx context.Context, sender chain.Sender) (FeeCache, error) {
	call, err := contracts.NewCall(p.address, p.parsed, "updateProtocolFeePercentageCache",
		"update fee cache "+p.address.Hex())
	if err != nil {
		return FeeCache{}, err
	}
	receipt, err := sender.Send(ctx, call)
	if err != nil {
		return FeeCache{}, err
	}
	event, err := contracts.FindEvent(receipt, p.parsed, "ProtocolFeePercentageCacheUpdated")
	if err != nil {
		return FeeCache{}, err
	}
	word, err := contracts.AsBytes32(event.Fields["feeCache"])
	if err != nil {
		return FeeCache{}, err
	}
	return DecodeFeeCache(word), nil
}
