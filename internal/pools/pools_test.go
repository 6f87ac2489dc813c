package pools

import (
	"context"
	"encoding/binary"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"poolctl/internal/chain/chaintest"
	"poolctl/internal/contracts"
	"poolctl/internal/model"
	"poolctl/internal/numbers"
	"poolctl/internal/records"
	"poolctl/internal/registry"
	"poolctl/internal/verify"
)

var (
	vaultAddr    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	weightedAddr = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	stableAddr   = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	tokenA       = common.HexToAddress("0x1111111111111111111111111111111111111111")
	tokenB       = common.HexToAddress("0x2222222222222222222222222222222222222222")
	tokenC       = common.HexToAddress("0x3333333333333333333333333333333333333333")
	feeProvider  = common.HexToAddress("0x00000000000000000000000000000000000000dd")

	pauseWindow  = big.NewInt(90 * 24 * 3600)
	bufferPeriod = big.NewInt(30 * 24 * 3600)
)

const weightedPoolVersion = `{"name":"WeightedPool","version":4,"deployment":"20230320-weighted-pool-v4"}`

const testNetworks = `
networks:
  local:
    chain_id: 31337
    contracts:
      Vault: "0x00000000000000000000000000000000000000aa"
    tokens:
      AAA: { decimals: 18, address: "0x1111111111111111111111111111111111111111" }
      BBB: { decimals: 18, address: "0x2222222222222222222222222222222222222222" }
      CCC: { decimals: 6, address: "0x3333333333333333333333333333333333333333" }
`

type createCall struct {
	tokens  []common.Address
	weights []*big.Int
	amp     *big.Int
	swapFee *big.Int
	owner   common.Address
}

// factoryMock deploys a BPT token mock per create and registers it in the vault.
type factoryMock struct {
	*chaintest.Dispatcher
	address common.Address
	vault   *chaintest.Vault
	calls   []createCall
	created []common.Address
}

func newFactoryMock(b *chaintest.Backend, addr common.Address, vault *chaintest.Vault, kind Kind) *factoryMock {
	parsed := contracts.Must(contracts.WeightedPoolFactoryABI())
	if kind == KindStable {
		parsed = contracts.Must(contracts.StablePoolFactoryABI())
	}
	f := &factoryMock{Dispatcher: chaintest.NewDispatcher(parsed), address: addr, vault: vault}
	f.Handle("create", func(msg chaintest.Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
		symbol := args[1].(string)
		call := createCall{tokens: args[2].([]common.Address)}
		if kind == KindWeighted {
			call.weights = args[3].([]*big.Int)
			call.swapFee = args[5].(*big.Int)
			call.owner = args[6].(common.Address)
		} else {
			call.amp = args[3].(*big.Int)
			call.swapFee = args[4].(*big.Int)
			call.owner = args[5].(common.Address)
		}
		if !numbers.SortedAscending(call.tokens) {
			return nil, nil, chaintest.Revert("BAL#101")
		}
		if msg.DryRun {
			return []interface{}{common.Address{}}, nil, nil
		}

		pool := crypto.CreateAddress(f.address, uint64(len(f.created)))
		var id [32]byte
		copy(id[:20], pool.Bytes())
		binary.BigEndian.PutUint16(id[20:22], 2)
		binary.BigEndian.PutUint64(id[24:], uint64(len(f.created)+1))

		bpt := chaintest.NewUnregisteredToken(pool, symbol, 18)
		bpt.AddABI(contracts.Must(contracts.BasePoolABI()))
		bpt.Handle("getPoolId", func(chaintest.Msg, []interface{}) ([]interface{}, []*types.Log, error) {
			return []interface{}{id}, nil, nil
		})
		f.vault.RegisterPool(id, call.tokens, bpt)
		msg.Register(pool, bpt)

		f.calls = append(f.calls, call)
		f.created = append(f.created, pool)
		log, err := contracts.EncodeLog(parsed, f.address, "PoolCreated", pool)
		if err != nil {
			return nil, nil, err
		}
		return []interface{}{pool}, []*types.Log{log}, nil
	})
	f.Handle("getPauseConfiguration", func(chaintest.Msg, []interface{}) ([]interface{}, []*types.Log, error) {
		return []interface{}{pauseWindow, bufferPeriod}, nil, nil
	})
	if kind == KindWeighted {
		f.Handle("getProtocolFeePercentagesProvider", func(chaintest.Msg, []interface{}) ([]interface{}, []*types.Log, error) {
			return []interface{}{feeProvider}, nil, nil
		})
		f.Handle("getPoolVersion", func(chaintest.Msg, []interface{}) ([]interface{}, []*types.Log, error) {
			return []interface{}{weightedPoolVersion}, nil, nil
		})
	}
	b.Register(addr, f)
	return f
}

type recordingVerifier struct {
	requests []verify.Request
	err      error
}

func (v *recordingVerifier) Verify(_ context.Context, req verify.Request) error {
	v.requests = append(v.requests, req)
	return v.err
}

type fixture struct {
	backend  *chaintest.Backend
	deployer chaintest.Account
	vault    *chaintest.Vault
	weighted *factoryMock
	stable   *factoryMock
	tokens   map[common.Address]*chaintest.Token
	store    *records.MemoryStore
	network  *registry.Network
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := registry.Parse([]byte(testNetworks))
	require.NoError(t, err)
	network, err := reg.Network("local")
	require.NoError(t, err)

	b := chaintest.New()
	f := &fixture{
		backend:  b,
		deployer: chaintest.NewAccount(t),
		vault:    chaintest.NewVault(b, vaultAddr),
		tokens:   make(map[common.Address]*chaintest.Token),
		store:    records.NewMemoryStore(),
		network:  network,
	}
	for _, tok := range network.Tokens() {
		mock := chaintest.NewToken(b, tok.Address, tok.Symbol, tok.Decimals)
		mock.Mint(f.deployer.Address, numbers.MustFP("1000"))
		f.vault.AddToken(mock)
		f.tokens[tok.Address] = mock
	}
	f.weighted = newFactoryMock(b, weightedAddr, f.vault, KindWeighted)
	f.stable = newFactoryMock(b, stableAddr, f.vault, KindStable)

	require.NoError(t, f.store.Put(context.Background(), model.DeployedContractRecord{
		Network:      "local",
		TaskID:       "20230320-weighted-pool-v4",
		ContractName: "WeightedPoolFactory",
		Address:      weightedAddr.Hex(),
		DeployedAt:   "2023-03-20T00:00:00Z",
	}))
	return f
}

func (f *fixture) creator(t *testing.T, logger *zap.Logger) *Creator {
	return NewCreator(f.backend, f.backend.Transactor(t, f.deployer), f.network, f.store, logger)
}

func TestCreateWeightedPool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.creator(t, zap.NewNop()).CreateWeightedPool(ctx, CreationRequest{
		Name:              "Test pool",
		Symbol:            "TEST-WEIGHTED",
		Tokens:            []string{"AAA", "BBB", "CCC"},
		Weights:           []string{"33.333333333333333333", "33.333333333333333333", "33.333333333333333333"},
		InitialBalances:   []string{"0.00051", "2", "10"},
		SwapFeePercentage: "0.0025",
		Salt:              "0x0000000000000000000000000000000000000000000000000000000000000001",
	})
	require.NoError(t, err)

	require.Len(t, f.weighted.created, 1)
	require.Equal(t, f.weighted.created[0], result.Pool)
	require.Equal(t, result.Pool, contracts.PoolAddressFromID(result.PoolID))
	require.NotEqual(t, common.Hash{}, result.JoinTx)

	call := f.weighted.calls[0]
	require.Equal(t, DelegateOwner, call.owner)
	require.Equal(t, numbers.MustFP("0.0025").String(), call.swapFee.String())
	sum := new(big.Int)
	for _, w := range call.weights {
		sum.Add(sum, w)
	}
	require.Equal(t, 0, sum.Cmp(numbers.One))

	require.Equal(t, "510000000000000", f.vault.PoolBalance(result.PoolID, tokenA).String())
	require.Equal(t, numbers.MustFP("2").String(), f.vault.PoolBalance(result.PoolID, tokenB).String())
	require.Equal(t, "10000000", f.vault.PoolBalance(result.PoolID, tokenC).String())
}

func TestCreateWeightedPoolVerifiesWithConstructorArgs(t *testing.T) {
	f := newFixture(t)
	verifier := &recordingVerifier{}
	info := &verify.BuildInfo{SolcLongVersion: "0.7.1+commit.f4a555be"}
	creator := f.creator(t, zap.NewNop()).WithVerifier(verifier, map[Kind]*verify.BuildInfo{KindWeighted: info})

	result, err := creator.CreateWeightedPool(context.Background(), CreationRequest{
		Name:              "Test pool",
		Symbol:            "TEST-WEIGHTED",
		Tokens:            []string{"AAA", "BBB"},
		Weights:           []string{"0.8", "0.2"},
		SwapFeePercentage: "0.01",
	})
	require.NoError(t, err)
	require.Len(t, verifier.requests, 1)

	req := verifier.requests[0]
	require.Equal(t, result.Pool, req.Address)
	require.Equal(t, "WeightedPool", req.ContractName)
	require.Same(t, info, req.BuildInfo)
	require.NotEmpty(t, req.ConstructorArgs)

	want, err := contracts.ConstructorArgs(contracts.Must(contracts.WeightedPoolABI()), contracts.WeightedPoolParams{
		Name:              "Test pool",
		Symbol:            "TEST-WEIGHTED",
		Tokens:            []common.Address{tokenA, tokenB},
		NormalizedWeights: f.weighted.calls[0].weights,
		RateProviders:     make([]common.Address, 2),
		AssetManagers:     make([]common.Address, 2),
		SwapFeePercentage: numbers.MustFP("0.01"),
	}, vaultAddr, feeProvider, pauseWindow, bufferPeriod, DelegateOwner, weightedPoolVersion)
	require.NoError(t, err)
	require.Equal(t, want, req.ConstructorArgs)
}

func TestCreateStablePoolVerifiesWithConstructorArgs(t *testing.T) {
	f := newFixture(t)
	verifier := &recordingVerifier{}
	creator := f.creator(t, zap.NewNop()).WithVerifier(verifier, map[Kind]*verify.BuildInfo{KindStable: {}})

	_, err := creator.CreateStablePool(context.Background(), CreationRequest{
		Factory:                stableAddr.Hex(),
		Name:                   "Stable",
		Symbol:                 "BPTs",
		Tokens:                 []string{"BBB", "CCC"},
		AmplificationParameter: 500,
		SwapFeePercentage:      "0.0004",
	})
	require.NoError(t, err)
	require.Len(t, verifier.requests, 1)

	want, err := contracts.ConstructorArgs(contracts.Must(contracts.StablePoolABI()), vaultAddr, "Stable", "BPTs",
		[]common.Address{tokenB, tokenC}, big.NewInt(500), numbers.MustFP("0.0004"), pauseWindow, bufferPeriod, DelegateOwner)
	require.NoError(t, err)
	require.Equal(t, "StablePool", verifier.requests[0].ContractName)
	require.Equal(t, want, verifier.requests[0].ConstructorArgs)
}

func TestPoolVerificationFailureIsLogged(t *testing.T) {
	f := newFixture(t)
	core, logs := observer.New(zapcore.WarnLevel)
	verifier := &recordingVerifier{err: errors.New("explorer rejected source: Fail - Unable to verify")}
	creator := f.creator(t, zap.New(core)).WithVerifier(verifier, map[Kind]*verify.BuildInfo{KindWeighted: {}})

	result, err := creator.CreateWeightedPool(context.Background(), CreationRequest{
		Name:              "Test pool",
		Symbol:            "TEST-WEIGHTED",
		Tokens:            []string{"AAA", "BBB"},
		Weights:           []string{"0.5", "0.5"},
		SwapFeePercentage: "0.01",
	})
	require.NoError(t, err)
	require.Equal(t, f.weighted.created[0], result.Pool)
	require.Len(t, verifier.requests, 1)

	failed := logs.FilterMessage("pool verification failed").All()
	require.Len(t, failed, 1)
	require.Equal(t, result.Pool.Hex(), failed[0].ContextMap()["pool"])
	require.Contains(t, failed[0].ContextMap()["error"], "Unable to verify")
}

func TestCreateStablePoolWithoutSeed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	owner := "0xd9e2889AC8C6fFF8e94c7c1bEEAde1352dF1A513"
	result, err := f.creator(t, zap.NewNop()).CreateStablePool(ctx, CreationRequest{
		Factory:                stableAddr.Hex(),
		Name:                   "StableFactoryV2",
		Symbol:                 "BPTs-FACv2",
		Tokens:                 []string{"BBB", "CCC"},
		AmplificationParameter: 1000,
		SwapFeePercentage:      "0.0004",
		Owner:                  owner,
	})
	require.NoError(t, err)
	require.Equal(t, common.Hash{}, result.JoinTx)

	call := f.stable.calls[0]
	require.Equal(t, "1000", call.amp.String())
	require.Equal(t, common.HexToAddress(owner), call.owner)
	require.Equal(t, []common.Address{tokenB, tokenC}, call.tokens)
	require.Equal(t, 0, f.vault.PoolBalance(result.PoolID, tokenB).Sign())
}

func TestUnsortedTokensWarnAndSubmit(t *testing.T) {
	f := newFixture(t)
	core, logs := observer.New(zapcore.WarnLevel)

	_, err := f.creator(t, zap.New(core)).CreateWeightedPool(context.Background(), CreationRequest{
		Name:              "Unsorted",
		Symbol:            "UNSORTED",
		Tokens:            []string{"BBB", "AAA"},
		Weights:           []string{"0.5", "0.5"},
		SwapFeePercentage: "0.01",
	})
	require.Error(t, err)
	require.True(t, chaintest.IsRevert(err, "BAL#101"))
	require.Equal(t, 1, logs.FilterMessageSnippet("BAL#101").Len())
}

func TestCreateRejectsInvalidRequest(t *testing.T) {
	f := newFixture(t)
	_, err := f.creator(t, zap.NewNop()).Create(context.Background(), CreationRequest{
		Kind:              KindWeighted,
		Name:              "Bad",
		Symbol:            "BAD",
		Tokens:            []string{"AAA", "BBB"},
		Weights:           []string{"1"},
		InitialBalances:   []string{"1"},
		SwapFeePercentage: "0.01",
	})
	require.ErrorContains(t, err, "weights has 1 entries for 2 tokens")
	require.ErrorContains(t, err, "initial_balances has 1 entries for 2 tokens")
}
