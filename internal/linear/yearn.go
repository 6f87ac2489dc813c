package linear

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"poolctl/internal/chain"
	"poolctl/internal/contracts"
)

// YearnVault wraps a Yearn vault share token.
type YearnVault struct {
	caller  chain.Caller
	address common.Address
	parsed  abi.ABI
}

func NewYearnVault(caller chain.Caller, address common.Address) (*YearnVault, error) {
	parsed, err := contracts.YearnVaultABI()
	if err != nil {
		return nil, fmt.Errorf("parse yearn vault abi: %w", err)
	}
	return &YearnVault{caller: caller, address: address, parsed: parsed}, nil
}

func (y *YearnVault) Address() common.Address {
	return y.address
}

func (y *YearnVault) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	values, err := contracts.Call(ctx, y.caller, y.address, y.parsed, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	return contracts.AsBigInt(values[0])
}

// Token returns the underlying (main) token.
func (y *YearnVault) Token(ctx context.Context) (common.Address, error) {
	values, err := contracts.Call(ctx, y.caller, y.address, y.parsed, "token")
	if err != nil {
		return common.Address{}, err
	}
	return contracts.AsAddress(values[0])
}

// WithdrawCall redeems up to maxShares for the underlying token.
func (y *YearnVault) WithdrawCall(maxShares *big.Int) (chain.Call, error) {
	return contracts.NewCall(y.address, y.parsed, "withdraw", fmt.Sprintf("withdraw %s shares", maxShares), maxShares)
}
