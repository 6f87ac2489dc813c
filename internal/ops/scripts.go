package ops

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"poolctl/internal/chain"
	"poolctl/internal/contracts"
	"poolctl/internal/linear"
)

// Script names accepted by the CLI and in script files.
const (
	ScriptUnwrapSwap = "unwrap-swap"
	ScriptSwap       = "swap"
	ScriptJoin       = "join"
	ScriptRebalance  = "rebalance"
	ScriptWrap       = "wrap"
	ScriptUnwrap     = "unwrap"
)

// UnwrapSwap redeems the sender's whole Yearn vault position for the main token
// and swaps the main token balance back into the vault token through a linear pool.
type UnwrapSwap struct {
	Vault      *contracts.Vault
	PoolID     [32]byte
	Yearn      *linear.YearnVault
	Main       *contracts.ERC20
	Iterations int
}

func (s UnwrapSwap) Plan() Plan {
	return Plan{
		Name:       ScriptUnwrapSwap,
		Iterations: s.Iterations,
		Steps: []Step{
			{
				Name: "withdraw",
				Build: func(ctx context.Context, from common.Address) (chain.Call, error) {
					shares, err := s.Yearn.BalanceOf(ctx, from)
					if err != nil {
						return chain.Call{}, err
					}
					return s.Yearn.WithdrawCall(shares)
				},
			},
			{
				Name: "swap",
				Build: func(ctx context.Context, from common.Address) (chain.Call, error) {
					balance, err := s.Main.BalanceOf(ctx, from)
					if err != nil {
						return chain.Call{}, err
					}
					return swapCall(s.Vault, s.PoolID, s.Main.Address(), s.Yearn.Address(), balance, new(big.Int), from)
				},
			},
		},
	}
}

// Swap is a single GIVEN_IN swap. A nil Amount swaps the sender's whole balance.
type Swap struct {
	Vault    *contracts.Vault
	PoolID   [32]byte
	TokenIn  *contracts.ERC20
	TokenOut common.Address
	Amount   *big.Int
	MinOut   *big.Int
}

func (s Swap) Plan() Plan {
	return Plan{
		Name:       ScriptSwap,
		Iterations: 1,
		Steps: []Step{{
			Name: "swap",
			Build: func(ctx context.Context, from common.Address) (chain.Call, error) {
				amount := s.Amount
				if amount == nil {
					balance, err := s.TokenIn.BalanceOf(ctx, from)
					if err != nil {
						return chain.Call{}, err
					}
					amount = balance
				}
				minOut := s.MinOut
				if minOut == nil {
					minOut = new(big.Int)
				}
				return swapCall(s.Vault, s.PoolID, s.TokenIn.Address(), s.TokenOut, amount, minOut, from)
			},
		}},
	}
}

// Join approves any missing Vault allowance, then joins with the given amounts
// as both user data and maxAmountsIn.
type Join struct {
	Vault   *contracts.Vault
	PoolID  [32]byte
	Kind    int64
	Tokens  []*contracts.ERC20
	Amounts []*big.Int
}

func (j Join) Plan() Plan {
	steps := make([]Step, 0, len(j.Tokens)+1)
	for i := range j.Tokens {
		steps = append(steps, approveStep(j.Tokens[i], fixedSpender(j.Vault.Address()), j.Amounts[i], j.Amounts[i]))
	}
	steps = append(steps, Step{
		Name: "join",
		Build: func(ctx context.Context, from common.Address) (chain.Call, error) {
			userData, err := contracts.EncodeJoinUserData(j.Kind, j.Amounts)
			if err != nil {
				return chain.Call{}, err
			}
			assets := make([]common.Address, len(j.Tokens))
			for i, token := range j.Tokens {
				assets[i] = token.Address()
			}
			registered, err := j.Vault.GetPoolTokens(ctx, j.PoolID)
			if err != nil {
				return chain.Call{}, err
			}
			if !sameAddresses(assets, registered.Tokens) {
				return chain.Call{}, fmt.Errorf("join tokens %v do not match the pool's tokens %v", assets, registered.Tokens)
			}
			return j.Vault.JoinPoolCall(j.PoolID, from, from, contracts.JoinPoolRequest{
				Assets:       assets,
				MaxAmountsIn: j.Amounts,
				UserData:     userData,
			})
		},
	})
	return Plan{Name: ScriptJoin, Iterations: 1, Steps: steps}
}

// Rebalance calls the rebalancer that manages a linear pool's main token. When
// Rebalancer is nil it is looked up from the pool's asset manager. A positive
// ExtraMain is lent from the sender, so the rebalancer is approved for the main
// token first.
type Rebalance struct {
	Vault      *contracts.Vault
	PoolID     [32]byte
	Main       *contracts.ERC20
	Rebalancer *linear.Rebalancer
	Recipient  *common.Address
	ExtraMain  *big.Int
}

func (r Rebalance) Plan() Plan {
	var steps []Step
	withExtra := r.ExtraMain != nil && r.ExtraMain.Sign() > 0
	if withExtra && r.Main != nil {
		steps = append(steps, approveStep(r.Main, func(ctx context.Context) (common.Address, error) {
			rebalancer, err := r.rebalancer(ctx)
			if err != nil {
				return common.Address{}, err
			}
			return rebalancer.Address(), nil
		}, r.ExtraMain, contracts.MaxUint256))
	}
	steps = append(steps, Step{
		Name: "rebalance",
		Build: func(ctx context.Context, from common.Address) (chain.Call, error) {
			rebalancer, err := r.rebalancer(ctx)
			if err != nil {
				return chain.Call{}, err
			}
			recipient := from
			if r.Recipient != nil {
				recipient = *r.Recipient
			}
			if withExtra {
				return rebalancer.RebalanceWithExtraMainCall(recipient, r.ExtraMain)
			}
			return rebalancer.RebalanceCall(recipient)
		},
	})
	return Plan{Name: ScriptRebalance, Iterations: 1, Steps: steps}
}

func (r Rebalance) rebalancer(ctx context.Context) (*linear.Rebalancer, error) {
	if r.Rebalancer != nil {
		return r.Rebalancer, nil
	}
	if r.Main == nil {
		return nil, fmt.Errorf("rebalance: main token is required to find the rebalancer")
	}
	return linear.RebalancerFor(ctx, r.Vault, r.PoolID, r.Main.Address())
}

// Manual moves liquidity through a manual rebalancer, wrapping or unwrapping.
// The rebalancer settles in the main token, so it is approved for Main before
// the first request.
type Manual struct {
	Rebalancer *linear.ManualRebalancer
	Main       *contracts.ERC20
	PoolID     [32]byte
	Unwrap     bool
	Amount     *big.Int
	Limit      *big.Int
	Iterations int
}

func (m Manual) Plan() Plan {
	name, build := ScriptWrap, m.Rebalancer.WrapCall
	if m.Unwrap {
		name, build = ScriptUnwrap, m.Rebalancer.UnwrapCall
	}
	iterations := m.Iterations
	if iterations == 0 {
		iterations = 1
	}
	var steps []Step
	if m.Main != nil {
		steps = append(steps, approveStep(m.Main, fixedSpender(m.Rebalancer.Address()), m.Amount, contracts.MaxUint256))
	}
	steps = append(steps, Step{
		Name: name,
		Build: func(ctx context.Context, from common.Address) (chain.Call, error) {
			limit := m.Limit
			if limit == nil {
				limit = new(big.Int)
			}
			return build(m.PoolID, m.Amount, limit)
		},
	})
	return Plan{Name: name, Iterations: iterations, Steps: steps}
}

// approveStep grants spender an allowance of grant, or skips when the current
// allowance already covers need.
func approveStep(token *contracts.ERC20, spender func(context.Context) (common.Address, error), need, grant *big.Int) Step {
	return Step{
		Name: "approve " + token.Address().Hex(),
		Build: func(ctx context.Context, from common.Address) (chain.Call, error) {
			to, err := spender(ctx)
			if err != nil {
				return chain.Call{}, err
			}
			allowance, err := token.Allowance(ctx, from, to)
			if err != nil {
				return chain.Call{}, err
			}
			if allowance.Cmp(need) >= 0 {
				return chain.Call{}, ErrSkipStep
			}
			return token.ApproveCall(to, grant)
		},
	}
}

func fixedSpender(addr common.Address) func(context.Context) (common.Address, error) {
	return func(context.Context) (common.Address, error) { return addr, nil }
}

func swapCall(vault *contracts.Vault, poolID [32]byte, in, out common.Address, amount, limit *big.Int, account common.Address) (chain.Call, error) {
	if amount.Sign() == 0 {
		return chain.Call{}, fmt.Errorf("no %s balance to swap", in.Hex())
	}
	return vault.SwapCall(contracts.SingleSwap{
		PoolId:   poolID,
		Kind:     uint8(contracts.SwapGivenIn),
		AssetIn:  in,
		AssetOut: out,
		Amount:   amount,
	}, contracts.FundManagement{
		Sender:    account,
		Recipient: account,
	}, limit, contracts.MaxUint256)
}

func sameAddresses(a, b []common.Address) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
