package contracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"poolctl/internal/chain"
)

type SwapKind uint8

const (
	SwapGivenIn SwapKind = iota
	SwapGivenOut
)

// Join kinds understood by weighted and stable pools.
const (
	JoinKindInit          = 0
	JoinKindExactTokensIn = 1
)

// SingleSwap mirrors the Vault's SingleSwap tuple.
type SingleSwap struct {
	PoolId   [32]byte
	Kind     uint8
	AssetIn  common.Address
	AssetOut common.Address
	Amount   *big.Int
	UserData []byte
}

// FundManagement mirrors the Vault's FundManagement tuple.
type FundManagement struct {
	Sender              common.Address
	FromInternalBalance bool
	Recipient           common.Address
	ToInternalBalance   bool
}

// JoinPoolRequest mirrors the Vault's JoinPoolRequest tuple.
type JoinPoolRequest struct {
	Assets              []common.Address
	MaxAmountsIn        []*big.Int
	UserData            []byte
	FromInternalBalance bool
}

type PoolTokens struct {
	Tokens          []common.Address
	Balances        []*big.Int
	LastChangeBlock *big.Int
}

type PoolTokenInfo struct {
	Cash            *big.Int
	Managed         *big.Int
	LastChangeBlock *big.Int
	AssetManager    common.Address
}

// Vault wraps the protocol Vault.
type Vault struct {
	caller  chain.Caller
	address common.Address
	parsed  abi.ABI
}

func NewVault(caller chain.Caller, address common.Address) (*Vault, error) {
	parsed, err := VaultABI()
	if err != nil {
		return nil, fmt.Errorf("parse vault abi: %w", err)
	}
	return &Vault{caller: caller, address: address, parsed: parsed}, nil
}

func (v *Vault) Address() common.Address {
	return v.address
}

func (v *Vault) SwapCall(swap SingleSwap, funds FundManagement, limit, deadline *big.Int) (chain.Call, error) {
	if swap.UserData == nil {
		swap.UserData = []byte{}
	}
	label := fmt.Sprintf("swap %s", hexutil.Encode(swap.PoolId[:]))
	return NewCall(v.address, v.parsed, "swap", label, swap, funds, limit, deadline)
}

func (v *Vault) JoinPoolCall(poolID [32]byte, sender, recipient common.Address, request JoinPoolRequest) (chain.Call, error) {
	label := fmt.Sprintf("joinPool %s", hexutil.Encode(poolID[:]))
	return NewCall(v.address, v.parsed, "joinPool", label, poolID, sender, recipient, request)
}

func (v *Vault) SetRelayerApprovalCall(sender, relayer common.Address, approved bool) (chain.Call, error) {
	return NewCall(v.address, v.parsed, "setRelayerApproval", "setRelayerApproval", sender, relayer, approved)
}

// GetPool returns the registered pool address and its specialization.
func (v *Vault) GetPool(ctx context.Context, poolID [32]byte) (common.Address, uint8, error) {
	values, err := Call(ctx, v.caller, v.address, v.parsed, "getPool", poolID)
	if err != nil {
		return common.Address{}, 0, err
	}
	pool, err := AsAddress(values[0])
	if err != nil {
		return common.Address{}, 0, err
	}
	specialization, err := AsUint8(values[1])
	if err != nil {
		return common.Address{}, 0, err
	}
	return pool, specialization, nil
}

func (v *Vault) GetPoolTokens(ctx context.Context, poolID [32]byte) (PoolTokens, error) {
	values, err := Call(ctx, v.caller, v.address, v.parsed, "getPoolTokens", poolID)
	if err != nil {
		return PoolTokens{}, err
	}
	tokens, err := AsAddresses(values[0])
	if err != nil {
		return PoolTokens{}, err
	}
	balances, err := AsBigInts(values[1])
	if err != nil {
		return PoolTokens{}, err
	}
	last, err := AsBigInt(values[2])
	if err != nil {
		return PoolTokens{}, err
	}
	return PoolTokens{Tokens: tokens, Balances: balances, LastChangeBlock: last}, nil
}

func (v *Vault) GetPoolTokenInfo(ctx context.Context, poolID [32]byte, token common.Address) (PoolTokenInfo, error) {
	values, err := Call(ctx, v.caller, v.address, v.parsed, "getPoolTokenInfo", poolID, token)
	if err != nil {
		return PoolTokenInfo{}, err
	}
	var info PoolTokenInfo
	if info.Cash, err = AsBigInt(values[0]); err != nil {
		return PoolTokenInfo{}, err
	}
	if info.Managed, err = AsBigInt(values[1]); err != nil {
		return PoolTokenInfo{}, err
	}
	if info.LastChangeBlock, err = AsBigInt(values[2]); err != nil {
		return PoolTokenInfo{}, err
	}
	if info.AssetManager, err = AsAddress(values[3]); err != nil {
		return PoolTokenInfo{}, err
	}
	return info, nil
}

func (v *Vault) Authorizer(ctx context.Context) (common.Address, error) {
	values, err := Call(ctx, v.caller, v.address, v.parsed, "getAuthorizer")
	if err != nil {
		return common.Address{}, err
	}
	return AsAddress(values[0])
}

func (v *Vault) ProtocolFeesCollector(ctx context.Context) (common.Address, error) {
	values, err := Call(ctx, v.caller, v.address, v.parsed, "getProtocolFeesCollector")
	if err != nil {
		return common.Address{}, err
	}
	return AsAddress(values[0])
}

// EncodeJoinUserData encodes abi.encode(uint256 kind, uint256[] amounts).
func EncodeJoinUserData(kind int64, amounts []*big.Int) ([]byte, error) {
	uint256Type, err := abi.NewType("uint256", "", nil)
	if err != nil {
		return nil, err
	}
	uint256ArrayType, err := abi.NewType("uint256[]", "", nil)
	if err != nil {
		return nil, err
	}
	args := abi.Arguments{{Type: uint256Type}, {Type: uint256ArrayType}}
	return args.Pack(big.NewInt(kind), amounts)
}

// DecodeJoinUserData is the inverse of EncodeJoinUserData.
func DecodeJoinUserData(data []byte) (int64, []*big.Int, error) {
	uint256Type, err := abi.NewType("uint256", "", nil)
	if err != nil {
		return 0, nil, err
	}
	uint256ArrayType, err := abi.NewType("uint256[]", "", nil)
	if err != nil {
		return 0, nil, err
	}
	values, err := abi.Arguments{{Type: uint256Type}, {Type: uint256ArrayType}}.Unpack(data)
	if err != nil {
		return 0, nil, fmt.Errorf("unpack join user data: %w", err)
	}
	kind, err := AsBigInt(values[0])
	if err != nil {
		return 0, nil, err
	}
	amounts, err := AsBigInts(values[1])
	if err != nil {
		return 0, nil, err
	}
	return kind.Int64(), amounts, nil
}

// PoolAddressFromID returns the pool address encoded in the first 20 bytes of a pool id.
func PoolAddressFromID(poolID [32]byte) common.Address {
	return common.BytesToAddress(poolID[:20])
}
