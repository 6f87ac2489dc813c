package chaintest

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"poolctl/internal/contracts"
)

var one = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

type vaultPool struct {
	address  common.Address
	tokens   []common.Address
	balances map[common.Address]*big.Int
	managers map[common.Address]common.Address
	bpt      *Token
}

// Vault is a mock of the protocol Vault. Swaps price at a fixed rate per pair,
// 1:1 unless set with SetRate.
type Vault struct {
	*Dispatcher

	Address    common.Address
	Authorizer common.Address
	Collector  common.Address

	tokens   map[common.Address]*Token
	pools    map[[32]byte]*vaultPool
	rates    map[[32]byte]map[[2]common.Address]*big.Int
	relayers map[common.Address]map[common.Address]bool
	block    uint64
}

// NewVault creates a vault and registers it on the backend.
func NewVault(b *Backend, addr common.Address) *Vault {
	v := &Vault{
		Dispatcher: NewDispatcher(contracts.Must(contracts.VaultABI())),
		Address:    addr,
		tokens:     make(map[common.Address]*Token),
		pools:      make(map[[32]byte]*vaultPool),
		rates:      make(map[[32]byte]map[[2]common.Address]*big.Int),
		relayers:   make(map[common.Address]map[common.Address]bool),
	}

	v.Handle("swap", v.swap)
	v.Handle("joinPool", v.joinPool)
	v.Handle("setRelayerApproval", func(msg Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
		sender, relayer, approved := args[0].(common.Address), args[1].(common.Address), args[2].(bool)
		if !v.authorized(msg.From, sender) {
			return nil, nil, Revert("BAL#401")
		}
		if !msg.DryRun {
			if v.relayers[sender] == nil {
				v.relayers[sender] = make(map[common.Address]bool)
			}
			v.relayers[sender][relayer] = approved
		}
		return nil, nil, nil
	})
	v.Handle("getAuthorizer", func(msg Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
		return []interface{}{v.Authorizer}, nil, nil
	})
	v.Handle("getProtocolFeesCollector", func(msg Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
		return []interface{}{v.Collector}, nil, nil
	})
	v.Handle("getPool", func(msg Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
		pool, err := v.pool(args[0].([32]byte))
		if err != nil {
			return nil, nil, err
		}
		return []interface{}{pool.address, uint8(2)}, nil, nil
	})
	v.Handle("getPoolTokens", func(msg Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
		pool, err := v.pool(args[0].([32]byte))
		if err != nil {
			return nil, nil, err
		}
		balances := make([]*big.Int, len(pool.tokens))
		for i, token := range pool.tokens {
			balances[i] = pool.balance(token)
		}
		return []interface{}{pool.tokens, balances, new(big.Int).SetUint64(v.block)}, nil, nil
	})
	v.Handle("getPoolTokenInfo", func(msg Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
		pool, err := v.pool(args[0].([32]byte))
		if err != nil {
			return nil, nil, err
		}
		token := args[1].(common.Address)
		return []interface{}{pool.balance(token), new(big.Int), new(big.Int).SetUint64(v.block), pool.managers[token]}, nil, nil
	})

	b.Register(addr, v)
	return v
}

// AddToken lets the vault move a token mock.
func (v *Vault) AddToken(tokens ...*Token) {
	for _, t := range tokens {
		v.tokens[t.Address] = t
	}
}

// RegisterPool registers a pool id. bpt may be nil; when set, joins mint it.
func (v *Vault) RegisterPool(poolID [32]byte, tokens []common.Address, bpt *Token) {
	v.pools[poolID] = &vaultPool{
		address:  contracts.PoolAddressFromID(poolID),
		tokens:   tokens,
		balances: make(map[common.Address]*big.Int),
		managers: make(map[common.Address]common.Address),
		bpt:      bpt,
	}
}

// SetAssetManager sets the asset manager reported for a pool token.
func (v *Vault) SetAssetManager(poolID [32]byte, token, manager common.Address) {
	if pool, ok := v.pools[poolID]; ok {
		pool.managers[token] = manager
	}
}

// FundPool credits pool liquidity, backed by tokens minted to the vault.
func (v *Vault) FundPool(poolID [32]byte, token *Token, amount *big.Int) {
	pool, ok := v.pools[poolID]
	if !ok {
		return
	}
	token.Mint(v.Address, amount)
	pool.balances[token.Address] = new(big.Int).Add(pool.balance(token.Address), amount)
}

// SetRate prices swaps from in to out at rate, an 18-decimal multiplier.
func (v *Vault) SetRate(poolID [32]byte, in, out common.Address, rate *big.Int) {
	if v.rates[poolID] == nil {
		v.rates[poolID] = make(map[[2]common.Address]*big.Int)
	}
	v.rates[poolID][[2]common.Address{in, out}] = rate
}

// PoolBalance returns the vault-held balance of a pool token.
func (v *Vault) PoolBalance(poolID [32]byte, token common.Address) *big.Int {
	pool, ok := v.pools[poolID]
	if !ok {
		return new(big.Int)
	}
	return pool.balance(token)
}

// HasApprovedRelayer reports whether user approved relayer.
func (v *Vault) HasApprovedRelayer(user, relayer common.Address) bool {
	return v.relayers[user][relayer]
}

// Pull moves tokens from user to recipient on behalf of a relayer, as the vault
// does for user balance operations. The user must have approved both the relayer
// and the vault allowance.
func (v *Vault) Pull(msg Msg, relayer common.Address, token common.Address, user, recipient common.Address, amount *big.Int) (*types.Log, error) {
	if user != relayer && !v.HasApprovedRelayer(user, relayer) {
		return nil, Revert("BAL#420")
	}
	t, ok := v.tokens[token]
	if !ok {
		return nil, Revert("unknown token")
	}
	if t.Allowance(user, v.Address).Cmp(amount) < 0 {
		return nil, Revert("ERC20: insufficient allowance")
	}
	log, err := t.Move(msg, user, recipient, amount)
	if err != nil {
		return nil, err
	}
	if !msg.DryRun {
		t.approve(user, v.Address, new(big.Int).Sub(t.Allowance(user, v.Address), amount))
	}
	return log, nil
}

func (v *Vault) authorized(caller, user common.Address) bool {
	return caller == user || v.HasApprovedRelayer(user, caller)
}

func (v *Vault) pool(poolID [32]byte) (*vaultPool, error) {
	pool, ok := v.pools[poolID]
	if !ok {
		return nil, Revert("BAL#500")
	}
	return pool, nil
}

func (p *vaultPool) balance(token common.Address) *big.Int {
	if bal, ok := p.balances[token]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

func (v *Vault) swap(msg Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
	single := abi.ConvertType(args[0], new(contracts.SingleSwap)).(*contracts.SingleSwap)
	funds := abi.ConvertType(args[1], new(contracts.FundManagement)).(*contracts.FundManagement)
	limit, deadline := args[2].(*big.Int), args[3].(*big.Int)

	if deadline.Cmp(new(big.Int).SetUint64(msg.Time)) < 0 {
		return nil, nil, Revert("BAL#508")
	}
	if !v.authorized(msg.From, funds.Sender) {
		return nil, nil, Revert("BAL#401")
	}
	pool, err := v.pool(single.PoolId)
	if err != nil {
		return nil, nil, err
	}
	tokenIn, okIn := v.tokens[single.AssetIn]
	tokenOut, okOut := v.tokens[single.AssetOut]
	if !okIn || !okOut {
		return nil, nil, Revert("BAL#521")
	}
	if single.Kind != uint8(contracts.SwapGivenIn) {
		return nil, nil, Revert("given out swaps not supported")
	}

	rate := one
	if r, ok := v.rates[single.PoolId][[2]common.Address{single.AssetIn, single.AssetOut}]; ok {
		rate = r
	}
	amountOut := new(big.Int).Div(new(big.Int).Mul(single.Amount, rate), one)
	if amountOut.Cmp(limit) < 0 {
		return nil, nil, Revert("BAL#507")
	}
	if pool.balance(single.AssetOut).Cmp(amountOut) < 0 {
		return nil, nil, Revert("BAL#001")
	}

	inLog, err := tokenIn.Move(msg, funds.Sender, v.Address, single.Amount)
	if err != nil {
		return nil, nil, err
	}
	outLog, err := tokenOut.Move(msg, v.Address, funds.Recipient, amountOut)
	if err != nil {
		return nil, nil, err
	}
	if !msg.DryRun {
		pool.balances[single.AssetIn] = new(big.Int).Add(pool.balance(single.AssetIn), single.Amount)
		pool.balances[single.AssetOut] = new(big.Int).Sub(pool.balance(single.AssetOut), amountOut)
		v.block = msg.BlockNumber
	}
	return []interface{}{amountOut}, Logs(inLog, outLog), nil
}

func (v *Vault) joinPool(msg Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
	poolID := args[0].([32]byte)
	sender, recipient := args[1].(common.Address), args[2].(common.Address)
	request := abi.ConvertType(args[3], new(contracts.JoinPoolRequest)).(*contracts.JoinPoolRequest)

	if !v.authorized(msg.From, sender) {
		return nil, nil, Revert("BAL#401")
	}
	pool, err := v.pool(poolID)
	if err != nil {
		return nil, nil, err
	}
	if len(request.Assets) != len(pool.tokens) || len(request.MaxAmountsIn) != len(pool.tokens) {
		return nil, nil, Revert("BAL#103")
	}
	for i, asset := range request.Assets {
		if asset != pool.tokens[i] {
			return nil, nil, Revert("BAL#520")
		}
	}

	kind, amounts, err := contracts.DecodeJoinUserData(request.UserData)
	if err != nil {
		return nil, nil, Revert("BAL#100")
	}
	if len(amounts) != len(pool.tokens) {
		return nil, nil, Revert("BAL#103")
	}
	if kind == contracts.JoinKindInit && pool.bpt != nil && pool.bpt.totalSupply().Sign() > 0 {
		return nil, nil, Revert("BAL#310")
	}

	for i, asset := range request.Assets {
		if amounts[i].Cmp(request.MaxAmountsIn[i]) > 0 {
			return nil, nil, Revert("BAL#506")
		}
		token, ok := v.tokens[asset]
		if !ok {
			return nil, nil, Revert("BAL#521")
		}
		if token.Allowance(sender, v.Address).Cmp(amounts[i]) < 0 {
			return nil, nil, Revert("ERC20: insufficient allowance")
		}
		if token.BalanceOf(sender).Cmp(amounts[i]) < 0 {
			return nil, nil, Revert("ERC20: transfer amount exceeds balance")
		}
	}
	if msg.DryRun {
		return nil, nil, nil
	}

	var logs []*types.Log
	minted := new(big.Int)
	for i, asset := range request.Assets {
		token := v.tokens[asset]
		log, err := token.Move(msg, sender, v.Address, amounts[i])
		if err != nil {
			return nil, nil, err
		}
		logs = append(logs, Logs(log)...)
		token.approve(sender, v.Address, new(big.Int).Sub(token.Allowance(sender, v.Address), amounts[i]))
		pool.balances[asset] = new(big.Int).Add(pool.balance(asset), amounts[i])
		minted.Add(minted, amounts[i])
	}
	if pool.bpt != nil {
		pool.bpt.Mint(recipient, minted)
	}
	v.block = msg.BlockNumber
	return nil, logs, nil
}
