// Package staking reads and drives the Reliquary staking contract.
package staking

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

// Position is a relic's staking position as returned by getPositionForId.
type Position struct {
	Amount       *big.Int
	RewardDebt   *big.Int
	RewardCredit *big.Int
	Entry        *big.Int
	PoolID       *big.Int `abi:"poolId"`
	Level        *big.Int
}

// PoolConfig holds the addPool arguments.
type PoolConfig struct {
	AllocPoint         *big.Int
	PoolToken          common.Address
	Rewarder           common.Address
	RequiredMaturities []*big.Int
	LevelMultipliers   []*big.Int
	Name               string
	NFTDescriptor      common.Address
}

// DefaultMaturityLevels returns the four level curve used by test pools: one day
// per level, multipliers 100 to 400.
func DefaultMaturityLevels() (maturities, multipliers []*big.Int) {
	for i := int64(0); i < 4; i++ {
		maturities = append(maturities, big.NewInt(i*86400))
		multipliers = append(multipliers, big.NewInt((i+1)*100))
	}
	return maturities, multipliers
}

// Reliquary wraps a deployed Reliquary.
type Reliquary struct {
	caller  chain.Caller
	address common.Address
	parsed  abi.ABI
}

func NewReliquary(caller chain.Caller, address common.Address) (*Reliquary, error) {
	parsed, err := contracts.ReliquaryABI()
	if err != nil {
		return nil, fmt.Errorf("parse reliquary abi: %w", err)
	}
	return &Reliquary{caller: caller, address: address, parsed: parsed}, nil
}

func (r *Reliquary) Address() common.Address {
	return r.address
}

func (r *Reliquary) PositionForID(ctx context.Context, relicID *big.Int) (Position, error) {
	values, err := contracts.Call(ctx, r.caller, r.address, r.parsed, "getPositionForId", relicID)
	if err != nil {
		return Position{}, err
	}
	if len(values) != 1 {
		return Position{}, fmt.Errorf("getPositionForId: unexpected output length %d", len(values))
	}
	pos := *abi.ConvertType(values[0], new(Position)).(*Position)
	return pos, nil
}

func (r *Reliquary) PendingReward(ctx context.Context, relicID *big.Int) (*big.Int, error) {
	values, err := contracts.Call(ctx, r.caller, r.address, r.parsed, "pendingReward", relicID)
	if err != nil {
		return nil, err
	}
	return contracts.AsBigInt(values[0])
}

func (r *Reliquary) OwnerOf(ctx context.Context, relicID *big.Int) (common.Address, error) {
	values, err := contracts.Call(ctx, r.caller, r.address, r.parsed, "ownerOf", relicID)
	if err != nil {
		return common.Address{}, err
	}
	return contracts.AsAddress(values[0])
}

func (r *Reliquary) PoolLength(ctx context.Context) (*big.Int, error) {
	values, err := contracts.Call(ctx, r.caller, r.address, r.parsed, "poolLength")
	if err != nil {
		return nil, err
	}
	return contracts.AsBigInt(values[0])
}

// RelicsOf enumerates the relic ids held by owner.
func (r *Reliquary) RelicsOf(ctx context.Context, owner common.Address) ([]*big.Int, error) {
	values, err := contracts.Call(ctx, r.caller, r.address, r.parsed, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	count, err := contracts.AsBigInt(values[0])
	if err != nil {
		return nil, err
	}

	ids := make([]*big.Int, 0, count.Int64())
	for i := int64(0); i < count.Int64(); i++ {
		values, err := contracts.Call(ctx, r.caller, r.address, r.parsed, "tokenOfOwnerByIndex", owner, big.NewInt(i))
		if err != nil {
			return nil, err
		}
		id, err := contracts.AsBigInt(values[0])
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *Reliquary) CreateRelicAndDepositCall(to common.Address, pid, amount *big.Int) (chain.Call, error) {
	return contracts.NewCall(r.address, r.parsed, "createRelicAndDeposit", fmt.Sprintf("createRelicAndDeposit pid %s", pid), to, pid, amount)
}

// CreateRelicAndDeposit submits the deposit and returns the minted relic id.
func (r *Reliquary) CreateRelicAndDeposit(ctx context.Context, sender chain.Sender, to common.Address, pid, amount *big.Int) (*big.Int, error) {
	call, err := r.CreateRelicAndDepositCall(to, pid, amount)
	if err != nil {
		return nil, err
	}
	receipt, err := sender.Send(ctx, call)
	if err != nil {
		return nil, err
	}
	return RelicCreated(receipt)
}

func (r *Reliquary) DepositCall(amount, relicID *big.Int) (chain.Call, error) {
	return contracts.NewCall(r.address, r.parsed, "deposit", fmt.Sprintf("deposit relic %s", relicID), amount, relicID)
}

func (r *Reliquary) WithdrawAndHarvestCall(amount, relicID *big.Int, harvestTo common.Address) (chain.Call, error) {
	return contracts.NewCall(r.address, r.parsed, "withdrawAndHarvest", fmt.Sprintf("withdrawAndHarvest relic %s", relicID), amount, relicID, harvestTo)
}

func (r *Reliquary) ApproveCall(to common.Address, relicID *big.Int) (chain.Call, error) {
	return contracts.NewCall(r.address, r.parsed, "approve", fmt.Sprintf("approve relic %s", relicID), to, relicID)
}

// Approve lets to operate relicID, which the relayer needs before depositing or
// withdrawing on the owner's behalf.
func (r *Reliquary) Approve(ctx context.Context, sender chain.Sender, to common.Address, relicID *big.Int) (*types.Receipt, error) {
	call, err := r.ApproveCall(to, relicID)
	if err != nil {
		return nil, err
	}
	return sender.Send(ctx, call)
}

func (r *Reliquary) AddPoolCall(cfg PoolConfig) (chain.Call, error) {
	if len(cfg.RequiredMaturities) != len(cfg.LevelMultipliers) {
		return chain.Call{}, fmt.Errorf("addPool: %d maturities for %d multipliers", len(cfg.RequiredMaturities), len(cfg.LevelMultipliers))
	}
	alloc := cfg.AllocPoint
	if alloc == nil {
		alloc = new(big.Int)
	}
	return contracts.NewCall(r.address, r.parsed, "addPool", "addPool "+cfg.Name,
		alloc, cfg.PoolToken, cfg.Rewarder, cfg.RequiredMaturities, cfg.LevelMultipliers, cfg.Name, cfg.NFTDescriptor)
}

func (r *Reliquary) AddPool(ctx context.Context, sender chain.Sender, cfg PoolConfig) (*types.Receipt, error) {
	call, err := r.AddPoolCall(cfg)
	if err != nil {
		return nil, err
	}
	return sender.Send(ctx, call)
}

// RelicCreated returns the relic id of the first CreateRelic event in a receipt.
func RelicCreated(receipt *types.Receipt) (*big.Int, error) {
	parsed, err := contracts.ReliquaryABI()
	if err != nil {
		return nil, err
	}
	event, err := contracts.FindEvent(receipt, parsed, "CreateRelic")
	if err != nil {
		return nil, err
	}
	return contracts.AsBigInt(event.Fields["relicId"])
}
