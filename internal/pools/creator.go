// Package pools creates weighted and stable pools through their factories and
// seeds them with an initial join.
package pools

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"poolctl/internal/chain"
	"poolctl/internal/contracts"
	"poolctl/internal/numbers"
	"poolctl/internal/records"
	"poolctl/internal/registry"
	"poolctl/internal/verify"
)

// DelegateOwner lets governance manage pool parameters when no owner is given.
var DelegateOwner = common.HexToAddress("0xBA1BA1ba1BA1bA1bA1Ba1BA1ba1BA1bA1ba1ba1B")

const weightedFactoryRef = "task:20230320-weighted-pool-v4/WeightedPoolFactory"

// PoolVerifier submits pool source to an explorer.
type PoolVerifier interface {
	Verify(ctx context.Context, req verify.Request) error
}

// Result is the outcome of a pool creation.
type Result struct {
	Pool     common.Address
	PoolID   [32]byte
	CreateTx common.Hash
	JoinTx   common.Hash
}

// Creator submits factory calls for one network.
type Creator struct {
	backend   chain.Backend
	sender    chain.Sender
	network   *registry.Network
	store     records.Store
	verifier  PoolVerifier
	buildInfo map[Kind]*verify.BuildInfo
	logger    *zap.Logger
}

func NewCreator(backend chain.Backend, sender chain.Sender, network *registry.Network, store records.Store, logger *zap.Logger) *Creator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Creator{
		backend:   backend,
		sender:    sender,
		network:   network,
		store:     store,
		buildInfo: make(map[Kind]*verify.BuildInfo),
		logger:    logger,
	}
}

// WithVerifier enables best-effort pool verification for kinds with build info.
func (c *Creator) WithVerifier(v PoolVerifier, buildInfo map[Kind]*verify.BuildInfo) *Creator {
	c.verifier = v
	for kind, info := range buildInfo {
		c.buildInfo[kind] = info
	}
	return c
}

// Create dispatches on the request kind.
func (c *Creator) Create(ctx context.Context, req CreationRequest) (Result, error) {
	switch req.Kind {
	case KindWeighted:
		return c.CreateWeightedPool(ctx, req)
	case KindStable:
		return c.CreateStablePool(ctx, req)
	default:
		return Result{}, fmt.Errorf("unknown pool kind %q", req.Kind)
	}
}

// CreateWeightedPool creates a weighted pool and seeds it with an INIT join.
func (c *Creator) CreateWeightedPool(ctx context.Context, req CreationRequest) (Result, error) {
	req.Kind = KindWeighted
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	p, err := c.prepare(ctx, req)
	if err != nil {
		return Result{}, err
	}

	rawWeights := make([]*big.Int, len(req.Weights))
	for i, w := range req.Weights {
		if rawWeights[i], err = numbers.FP(w); err != nil {
			return Result{}, fmt.Errorf("weight %d: %w", i, err)
		}
	}
	weights, err := numbers.NormalizeWeights(rawWeights)
	if err != nil {
		return Result{}, err
	}

	rateProviders := make([]common.Address, len(p.tokens))
	for i, raw := range req.RateProviders {
		if raw == "" {
			continue
		}
		if rateProviders[i], err = registry.ParseAddress(raw); err != nil {
			return Result{}, fmt.Errorf("rate provider %d: %w", i, err)
		}
	}

	salt, err := parseSalt(req.Salt)
	if err != nil {
		return Result{}, err
	}

	parsed, err := contracts.WeightedPoolFactoryABI()
	if err != nil {
		return Result{}, err
	}
	p.weights, p.rateProviders = weights, rateProviders
	call, err := contracts.NewCall(p.factory, parsed, "create", "create weighted pool "+req.Symbol,
		req.Name, req.Symbol, p.tokens, weights, rateProviders, p.swapFee, p.owner, salt)
	if err != nil {
		return Result{}, err
	}

	c.logger.Info("creating weighted pool",
		zap.String("name", req.Name),
		zap.String("symbol", req.Symbol),
		zap.String("factory", p.factory.Hex()),
		zap.Int("tokens", len(p.tokens)),
		zap.String("owner", p.owner.Hex()),
	)
	return c.finish(ctx, req, p, call)
}

// CreateStablePool creates a stable pool and seeds it with an INIT join.
func (c *Creator) CreateStablePool(ctx context.Context, req CreationRequest) (Result, error) {
	req.Kind = KindStable
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	p, err := c.prepare(ctx, req)
	if err != nil {
		return Result{}, err
	}

	parsed, err := contracts.StablePoolFactoryABI()
	if err != nil {
		return Result{}, err
	}
	p.amp = new(big.Int).SetUint64(req.AmplificationParameter)
	call, err := contracts.NewCall(p.factory, parsed, "create", "create stable pool "+req.Symbol,
		req.Name, req.Symbol, p.tokens, p.amp, p.swapFee, p.owner)
	if err != nil {
		return Result{}, err
	}

	c.logger.Info("creating stable pool",
		zap.String("name", req.Name),
		zap.String("symbol", req.Symbol),
		zap.String("factory", p.factory.Hex()),
		zap.Uint64("amplification", req.AmplificationParameter),
		zap.String("owner", p.owner.Hex()),
	)
	return c.finish(ctx, req, p, call)
}

type prepared struct {
	factory  common.Address
	vault    common.Address
	tokens   []common.Address
	balances []*big.Int
	swapFee  *big.Int
	owner    common.Address

	weights       []*big.Int
	rateProviders []common.Address
	amp           *big.Int
}

func (c *Creator) prepare(ctx context.Context, req CreationRequest) (prepared, error) {
	var p prepared
	var err error

	if p.factory, err = c.factory(ctx, req); err != nil {
		return p, err
	}
	if p.vault, err = c.vault(ctx); err != nil {
		return p, err
	}

	descriptors, err := c.resolveTokens(ctx, req.Tokens)
	if err != nil {
		return p, err
	}
	p.tokens = make([]common.Address, len(descriptors))
	for i, d := range descriptors {
		p.tokens[i] = d.Address
	}

	if len(req.InitialBalances) > 0 {
		p.balances = make([]*big.Int, len(req.InitialBalances))
		for i, raw := range req.InitialBalances {
			if p.balances[i], err = numbers.ParseUnits(raw, descriptors[i].Decimals); err != nil {
				return p, fmt.Errorf("initial balance of %s: %w", req.Tokens[i], err)
			}
		}
	}

	if p.swapFee, err = numbers.FP(req.SwapFeePercentage); err != nil {
		return p, fmt.Errorf("swap fee: %w", err)
	}

	p.owner = DelegateOwner
	if req.Owner != "" {
		if p.owner, err = registry.ParseAddress(req.Owner); err != nil {
			return p, fmt.Errorf("owner: %w", err)
		}
	}

	if !numbers.SortedAscending(p.tokens) {
		c.logger.Warn("tokens are not sorted by address, factory will revert with BAL#101",
			zap.Strings("tokens", req.Tokens),
		)
	}
	return p, nil
}

func (c *Creator) finish(ctx context.Context, req CreationRequest, p prepared, call chain.Call) (Result, error) {
	receipt, err := c.sender.Send(ctx, call)
	if err != nil {
		return Result{}, err
	}

	parsed, err := contracts.WeightedPoolFactoryABI()
	if err != nil {
		return Result{}, err
	}
	event, err := contracts.FindEvent(receipt, parsed, "PoolCreated")
	if err != nil {
		return Result{}, err
	}
	pool, err := contracts.AsAddress(event.Fields["pool"])
	if err != nil {
		return Result{}, err
	}

	poolID, err := c.poolID(ctx, pool)
	if err != nil {
		return Result{}, err
	}
	result := Result{Pool: pool, PoolID: poolID, CreateTx: receipt.TxHash}
	c.logger.Info("pool created",
		zap.String("pool", pool.Hex()),
		zap.String("pool_id", hexutil.Encode(poolID[:])),
		zap.String("tx_hash", receipt.TxHash.Hex()),
	)

	if len(p.balances) > 0 {
		joinTx, err := c.seed(ctx, poolID, p)
		if err != nil {
			return result, err
		}
		result.JoinTx = joinTx
	}

	c.verifyPool(ctx, req, p, pool, receipt.BlockNumber)
	return result, nil
}

func (c *Creator) seed(ctx context.Context, poolID [32]byte, p prepared) (common.Hash, error) {
	from := c.sender.From()
	for i, token := range p.tokens {
		erc20, err := contracts.NewERC20(c.backend, token)
		if err != nil {
			return common.Hash{}, err
		}
		allowance, err := erc20.Allowance(ctx, from, p.vault)
		if err != nil {
			return common.Hash{}, err
		}
		if allowance.Cmp(p.balances[i]) >= 0 {
			continue
		}
		approve, err := erc20.ApproveCall(p.vault, p.balances[i])
		if err != nil {
			return common.Hash{}, err
		}
		if _, err := c.sender.Send(ctx, approve); err != nil {
			return common.Hash{}, err
		}
	}

	userData, err := contracts.EncodeJoinUserData(contracts.JoinKindInit, p.balances)
	if err != nil {
		return common.Hash{}, err
	}
	vault, err := contracts.NewVault(c.backend, p.vault)
	if err != nil {
		return common.Hash{}, err
	}
	join, err := vault.JoinPoolCall(poolID, from, from, contracts.JoinPoolRequest{
		Assets:       p.tokens,
		MaxAmountsIn: p.balances,
		UserData:     userData,
	})
	if err != nil {
		return common.Hash{}, err
	}
	receipt, err := c.sender.Send(ctx, join)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

func (c *Creator) verifyPool(ctx context.Context, req CreationRequest, p prepared, pool common.Address, block *big.Int) {
	info := c.buildInfo[req.Kind]
	if c.verifier == nil || info == nil {
		c.logger.Info("pool verification skipped", zap.String("pool", pool.Hex()))
		return
	}
	args, err := c.constructorArgs(ctx, req, p, block)
	if err == nil {
		err = c.verifier.Verify(ctx, verify.Request{
			Address:         pool,
			ContractName:    contractName(req.Kind),
			BuildInfo:       info,
			ConstructorArgs: args,
		})
	}
	if err != nil {
		c.logger.Warn("pool verification failed", zap.String("pool", pool.Hex()), zap.Error(err))
	}
}

// constructorArgs rebuilds what the factory passed to the pool constructor:
// the create inputs plus the factory's own settings at the creation block.
func (c *Creator) constructorArgs(ctx context.Context, req CreationRequest, p prepared, block *big.Int) ([]byte, error) {
	if req.Kind == KindStable {
		factory, err := contracts.StablePoolFactoryABI()
		if err != nil {
			return nil, err
		}
		pauseWindow, bufferPeriod, err := c.pauseConfiguration(ctx, factory, p.factory, block)
		if err != nil {
			return nil, err
		}
		parsed, err := contracts.StablePoolABI()
		if err != nil {
			return nil, err
		}
		return contracts.ConstructorArgs(parsed, p.vault, req.Name, req.Symbol, p.tokens, p.amp, p.swapFee,
			pauseWindow, bufferPeriod, p.owner)
	}

	factory, err := contracts.WeightedPoolFactoryABI()
	if err != nil {
		return nil, err
	}
	pauseWindow, bufferPeriod, err := c.pauseConfiguration(ctx, factory, p.factory, block)
	if err != nil {
		return nil, err
	}
	values, err := contracts.CallAt(ctx, c.backend, p.factory, factory, block, "getProtocolFeePercentagesProvider")
	if err != nil {
		return nil, err
	}
	feeProvider, err := contracts.AsAddress(values[0])
	if err != nil {
		return nil, err
	}
	values, err = contracts.CallAt(ctx, c.backend, p.factory, factory, block, "getPoolVersion")
	if err != nil {
		return nil, err
	}
	version, ok := values[0].(string)
	if !ok {
		return nil, fmt.Errorf("unsupported pool version type %T", values[0])
	}

	parsed, err := contracts.WeightedPoolABI()
	if err != nil {
		return nil, err
	}
	params := contracts.WeightedPoolParams{
		Name:              req.Name,
		Symbol:            req.Symbol,
		Tokens:            p.tokens,
		NormalizedWeights: p.weights,
		RateProviders:     p.rateProviders,
		AssetManagers:     make([]common.Address, len(p.tokens)),
		SwapFeePercentage: p.swapFee,
	}
	return contracts.ConstructorArgs(parsed, params, p.vault, feeProvider, pauseWindow, bufferPeriod, p.owner, version)
}

func (c *Creator) pauseConfiguration(ctx context.Context, factory abi.ABI, addr common.Address, block *big.Int) (*big.Int, *big.Int, error) {
	values, err := contracts.CallAt(ctx, c.backend, addr, factory, block, "getPauseConfiguration")
	if err != nil {
		return nil, nil, err
	}
	pauseWindow, err := contracts.AsBigInt(values[0])
	if err != nil {
		return nil, nil, err
	}
	bufferPeriod, err := contracts.AsBigInt(values[1])
	if err != nil {
		return nil, nil, err
	}
	return pauseWindow, bufferPeriod, nil
}

func (c *Creator) poolID(ctx context.Context, pool common.Address) ([32]byte, error) {
	parsed, err := contracts.BasePoolABI()
	if err != nil {
		return [32]byte{}, err
	}
	values, err := contracts.Call(ctx, c.backend, pool, parsed, "getPoolId")
	if err != nil {
		return [32]byte{}, err
	}
	return contracts.AsBytes32(values[0])
}

func (c *Creator) factory(ctx context.Context, req CreationRequest) (common.Address, error) {
	if req.Factory != "" {
		return records.ResolveAddress(ctx, c.store, c.network.Name, req.Factory)
	}
	if addr, err := c.network.Contract(contractName(req.Kind) + "Factory"); err == nil {
		return addr, nil
	}
	if req.Kind == KindWeighted {
		return records.ResolveAddress(ctx, c.store, c.network.Name, weightedFactoryRef)
	}
	return common.Address{}, fmt.Errorf("%s: no %s pool factory configured", c.network.Name, req.Kind)
}

func (c *Creator) vault(ctx context.Context) (common.Address, error) {
	if addr, err := c.network.Contract("Vault"); err == nil {
		return addr, nil
	}
	return records.ResolveAddress(ctx, c.store, c.network.Name, "task:20210418-vault/Vault")
}

func (c *Creator) resolveTokens(ctx context.Context, inputs []string) ([]registry.TokenDescriptor, error) {
	out := make([]registry.TokenDescriptor, len(inputs))
	for i, input := range inputs {
		token, known, err := c.network.ResolveToken(input)
		if err != nil {
			return nil, err
		}
		if !known {
			erc20, err := contracts.NewERC20(c.backend, token.Address)
			if err != nil {
				return nil, err
			}
			if token.Decimals, err = erc20.Decimals(ctx); err != nil {
				return nil, fmt.Errorf("decimals of %s: %w", input, err)
			}
		}
		out[i] = token
	}
	return out, nil
}

func contractName(kind Kind) string {
	if kind == KindStable {
		return "StablePool"
	}
	return "WeightedPool"
}

func parseSalt(input string) ([32]byte, error) {
	var salt [32]byte
	if input == "" {
		if _, err := rand.Read(salt[:]); err != nil {
			return salt, fmt.Errorf("generate salt: %w", err)
		}
		return salt, nil
	}
	data, err := hexutil.Decode(input)
	if err != nil || len(data) != 32 {
		return salt, fmt.Errorf("salt must be 32 bytes of hex: %q", input)
	}
	copy(salt[:], data)
	return salt, nil
}
