package chaintest

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"poolctl/internal/contracts"
)

// Token is a mock ERC20 with unrestricted minting.
type Token struct {
	*Dispatcher

	Address  common.Address
	Symbol   string
	Decimals uint8

	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

// NewToken creates a token and registers it on the backend.
func NewToken(b *Backend, addr common.Address, symbol string, decimals uint8) *Token {
	t := NewUnregisteredToken(addr, symbol, decimals)
	b.Register(addr, t)
	return t
}

// NewUnregisteredToken creates a token for mocks that install it themselves
// through Msg.Register.
func NewUnregisteredToken(addr common.Address, symbol string, decimals uint8) *Token {
	t := &Token{
		Dispatcher: NewDispatcher(contracts.Must(contracts.ERC20ABI())),
		Address:    addr,
		Symbol:     symbol,
		Decimals:   decimals,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}

	t.Handle("decimals", func(msg Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
		return []interface{}{t.Decimals}, nil, nil
	})
	t.Handle("symbol", func(msg Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
		return []interface{}{t.Symbol}, nil, nil
	})
	t.Handle("name", func(msg Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
		return []interface{}{t.Symbol}, nil, nil
	})
	t.Handle("balanceOf", func(msg Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
		return []interface{}{t.BalanceOf(args[0].(common.Address))}, nil, nil
	})
	t.Handle("allowance", func(msg Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
		return []interface{}{t.Allowance(args[0].(common.Address), args[1].(common.Address))}, nil, nil
	})
	t.Handle("approve", func(msg Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
		spender, amount := args[0].(common.Address), args[1].(*big.Int)
		if msg.DryRun {
			return []interface{}{true}, nil, nil
		}
		t.approve(msg.From, spender, amount)
		log, err := contracts.EncodeLog(contracts.Must(contracts.ERC20ABI()), t.Address, "Approval", msg.From, spender, amount)
		if err != nil {
			return nil, nil, err
		}
		return []interface{}{true}, []*types.Log{log}, nil
	})
	t.Handle("transfer", func(msg Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
		to, amount := args[0].(common.Address), args[1].(*big.Int)
		log, err := t.transfer(msg, msg.From, to, amount)
		if err != nil {
			return nil, nil, err
		}
		return []interface{}{true}, Logs(log), nil
	})
	t.Handle("transferFrom", func(msg Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
		from, to, amount := args[0].(common.Address), args[1].(common.Address), args[2].(*big.Int)
		if from != msg.From && t.Allowance(from, msg.From).Cmp(amount) < 0 {
			return nil, nil, Revert("ERC20: insufficient allowance")
		}
		log, err := t.transfer(msg, from, to, amount)
		if err != nil {
			return nil, nil, err
		}
		if from != msg.From && !msg.DryRun {
			t.approve(from, msg.From, new(big.Int).Sub(t.Allowance(from, msg.From), amount))
		}
		return []interface{}{true}, Logs(log), nil
	})
	return t
}

// Mint credits amount to an account.
func (t *Token) Mint(to common.Address, amount *big.Int) {
	t.balances[to] = new(big.Int).Add(t.BalanceOf(to), amount)
}

func (t *Token) totalSupply() *big.Int {
	total := new(big.Int)
	for _, bal := range t.balances {
		total.Add(total, bal)
	}
	return total
}

func (t *Token) BalanceOf(account common.Address) *big.Int {
	if bal, ok := t.balances[account]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

func (t *Token) Allowance(owner, spender common.Address) *big.Int {
	if bal, ok := t.allowances[owner][spender]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// Approve sets an allowance on behalf of another mock.
func (t *Token) Approve(owner, spender common.Address, amount *big.Int) {
	t.approve(owner, spender, amount)
}

// Move transfers between accounts on behalf of another mock. It honours DryRun.
func (t *Token) Move(msg Msg, from, to common.Address, amount *big.Int) (*types.Log, error) {
	return t.transfer(msg, from, to, amount)
}

func (t *Token) approve(owner, spender common.Address, amount *big.Int) {
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[common.Address]*big.Int)
	}
	t.allowances[owner][spender] = new(big.Int).Set(amount)
}

func (t *Token) transfer(msg Msg, from, to common.Address, amount *big.Int) (*types.Log, error) {
	if t.BalanceOf(from).Cmp(amount) < 0 {
		return nil, Revert("ERC20: transfer amount exceeds balance")
	}
	if msg.DryRun {
		return nil, nil
	}
	t.balances[from] = new(big.Int).Sub(t.BalanceOf(from), amount)
	t.balances[to] = new(big.Int).Add(t.BalanceOf(to), amount)
	return contracts.EncodeLog(contracts.Must(contracts.ERC20ABI()), t.Address, "Transfer", from, to, amount)
}

// Logs drops nil entries.
func Logs(logs ...*types.Log) []*types.Log {
	out := make([]*types.Log, 0, len(logs))
	for _, l := range logs {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}
