// Package lineartest mocks the contracts around a linear pool for chaintest.
package lineartest

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"poolctl/internal/chain/chaintest"
	"poolctl/internal/contracts"
)

var one = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// YearnVault is a share token redeemable for its underlying at a fixed price.
type YearnVault struct {
	*chaintest.Token

	underlying    *chaintest.Token
	pricePerShare *big.Int
}

// NewYearnVault registers a vault whose shares trade 1:1 with underlying until
// SetPricePerShare is called. The vault must hold enough underlying to pay out.
func NewYearnVault(b *chaintest.Backend, addr common.Address, symbol string, underlying *chaintest.Token) *YearnVault {
	y := &YearnVault{
		Token:         chaintest.NewUnregisteredToken(addr, symbol, underlying.Decimals),
		underlying:    underlying,
		pricePerShare: new(big.Int).Set(one),
	}
	y.AddABI(contracts.Must(contracts.YearnVaultABI()))

	y.Handle("token", func(msg chaintest.Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
		return []interface{}{underlying.Address}, nil, nil
	})
	y.Handle("withdraw", func(msg chaintest.Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
		shares := args[0].(*big.Int)
		if held := y.BalanceOf(msg.From); held.Cmp(shares) < 0 {
			shares = held
		}
		if shares.Sign() == 0 {
			return nil, nil, chaintest.Revert("nothing to withdraw")
		}
		value := new(big.Int).Div(new(big.Int).Mul(shares, y.pricePerShare), one)
		if y.underlying.BalanceOf(y.Address).Cmp(value) < 0 {
			return nil, nil, chaintest.Revert("insufficient vault liquidity")
		}
		burn, err := y.Move(msg, msg.From, y.Address, shares)
		if err != nil {
			return nil, nil, err
		}
		paid, err := y.underlying.Move(msg, y.Address, msg.From, value)
		if err != nil {
			return nil, nil, err
		}
		return []interface{}{value}, chaintest.Logs(burn, paid), nil
	})

	b.Register(addr, y)
	return y
}

// SetPricePerShare sets the underlying paid per share, as an 18-decimal multiplier.
func (y *YearnVault) SetPricePerShare(price *big.Int) {
	y.pricePerShare = new(big.Int).Set(price)
}

// Rebalancer records rebalance calls against one linear pool.
type Rebalancer struct {
	*chaintest.Dispatcher

	Address    common.Address
	Recipients []common.Address
	ExtraMain  []*big.Int

	main *chaintest.Token
}

// NewRebalancer registers a rebalancer for a linear pool and makes it the
// asset manager of the pool's main token.
func NewRebalancer(b *chaintest.Backend, addr common.Address, vault *chaintest.Vault, poolID [32]byte, main *chaintest.Token) *Rebalancer {
	r := &Rebalancer{
		Dispatcher: chaintest.NewDispatcher(contracts.Must(contracts.LinearRebalancerABI())),
		Address:    addr,
		main:       main,
	}
	vault.SetAssetManager(poolID, main.Address, addr)

	r.Handle("rebalance", func(msg chaintest.Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
		recipient := args[0].(common.Address)
		if !msg.DryRun {
			r.Recipients = append(r.Recipients, recipient)
			r.ExtraMain = append(r.ExtraMain, new(big.Int))
		}
		return []interface{}{new(big.Int)}, nil, nil
	})
	r.Handle("rebalanceWithExtraMain", func(msg chaintest.Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
		recipient, extra := args[0].(common.Address), args[1].(*big.Int)
		if r.main.Allowance(msg.From, r.Address).Cmp(extra) < 0 {
			return nil, nil, chaintest.Revert("ERC20: insufficient allowance")
		}
		// The extra main is borrowed and handed back once the pool is rebalanced.
		if _, err := r.main.Move(msg, msg.From, r.Address, extra); err != nil {
			return nil, nil, err
		}
		if !msg.DryRun {
			if _, err := r.main.Move(msg, r.Address, msg.From, extra); err != nil {
				return nil, nil, err
			}
			r.Recipients = append(r.Recipients, recipient)
			r.ExtraMain = append(r.ExtraMain, new(big.Int).Set(extra))
		}
		return []interface{}{new(big.Int)}, nil, nil
	})

	b.Register(addr, r)
	return r
}

// ManualOp is one wrap or unwrap request seen by a ManualRebalancer.
type ManualOp struct {
	Method string
	PoolID [32]byte
	Amount *big.Int
	Limit  *big.Int
}

// ManualRebalancer records owner-only wrap and unwrap requests.
type ManualRebalancer struct {
	*chaintest.Dispatcher

	Address common.Address
	Ops     []ManualOp

	owner  common.Address
	poolID [32]byte
	main   *chaintest.Token
}

func NewManualRebalancer(b *chaintest.Backend, addr, owner common.Address, poolID [32]byte) *ManualRebalancer {
	m := &ManualRebalancer{
		Dispatcher: chaintest.NewDispatcher(contracts.Must(contracts.ManualRebalancerABI())),
		Address:    addr,
		owner:      owner,
		poolID:     poolID,
	}
	m.Handle("wrap", m.record("wrap"))
	m.Handle("unwrap", m.record("unwrap"))
	b.Register(addr, m)
	return m
}

// SettleIn makes wrap and unwrap revert unless the caller has approved the
// rebalancer for at least the requested amount of main.
func (m *ManualRebalancer) SettleIn(main *chaintest.Token) {
	m.main = main
}

func (m *ManualRebalancer) record(method string) chaintest.Handler {
	return func(msg chaintest.Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
		if msg.From != m.owner {
			return nil, nil, chaintest.Revert("Ownable: caller is not the owner")
		}
		poolID := args[0].([32]byte)
		if poolID != m.poolID {
			return nil, nil, chaintest.Revert("unknown pool")
		}
		if m.main != nil && m.main.Allowance(msg.From, m.Address).Cmp(args[1].(*big.Int)) < 0 {
			return nil, nil, chaintest.Revert("ERC20: insufficient allowance")
		}
		if !msg.DryRun {
			m.Ops = append(m.Ops, ManualOp{
				Method: method,
				PoolID: poolID,
				Amount: new(big.Int).Set(args[1].(*big.Int)),
				Limit:  new(big.Int).Set(args[2].(*big.Int)),
			})
		}
		return nil, nil, nil
	}
}
