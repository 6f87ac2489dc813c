package ops_test

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"poolctl/internal/chain"
	"poolctl/internal/chain/chaintest"
	"poolctl/internal/contracts"
	"poolctl/internal/linear/lineartest"
	"poolctl/internal/model"
	"poolctl/internal/ops"
	"poolctl/internal/records"
	"poolctl/internal/registry"
	"poolctl/internal/storage"
)

const networkDoc = `
networks:
  hardhat:
    chain_id: 31337
    contracts:
      Vault: "0x00000000000000000000000000000000000000aa"
    tokens:
      USDC: { decimals: 6, address: "0x1000000000000000000000000000000000000001" }
      yvUSDC: { decimals: 6, address: "0x1000000000000000000000000000000000000002" }
    pools:
      bb-yv-USDC: { id: "0x3b998ba87b11a1c5bc1770de9793b17a0da61561000000000000000000000185" }
`

var (
	vaultAddr  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	usdcAddr   = common.HexToAddress("0x1000000000000000000000000000000000000001")
	yvUSDCAddr = common.HexToAddress("0x1000000000000000000000000000000000000002")
)

type fixture struct {
	ctx     context.Context
	b       *chaintest.Backend
	vault   *chaintest.Vault
	usdc    *chaintest.Token
	yv      *lineartest.YearnVault
	poolID  [32]byte
	env     ops.Env
	user    chaintest.Account
	sender  *chain.Transactor
	journal *storage.MemoryJournal
	runner  *ops.Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	b := chaintest.New()

	reg, err := registry.Parse([]byte(networkDoc))
	require.NoError(t, err)
	network, err := reg.Network("hardhat")
	require.NoError(t, err)
	pool, err := network.Pool("bb-yv-USDC")
	require.NoError(t, err)

	vault := chaintest.NewVault(b, vaultAddr)
	usdc := chaintest.NewToken(b, usdcAddr, "USDC", 6)
	yv := lineartest.NewYearnVault(b, yvUSDCAddr, "yvUSDC", usdc)
	vault.AddToken(usdc, yv.Token)
	vault.RegisterPool(pool.ID, []common.Address{usdcAddr, yvUSDCAddr}, nil)
	vault.FundPool(pool.ID, yv.Token, big.NewInt(100_000_000))

	user := chaintest.NewAccount(t)
	sender := b.Transactor(t, user)
	journal := &storage.MemoryJournal{}

	return &fixture{
		ctx:     ctx,
		b:       b,
		vault:   vault,
		usdc:    usdc,
		yv:      yv,
		poolID:  pool.ID,
		env:     ops.Env{Network: network, Caller: b, Store: records.NewMemoryStore()},
		user:    user,
		sender:  sender,
		journal: journal,
		runner:  ops.NewRunner(sender, journal, chaintest.DefaultChainID, nil),
	}
}

func (f *fixture) plan(t *testing.T, script ops.Script) ops.Plan {
	t.Helper()
	plan, err := script.Plan(f.ctx, f.env)
	require.NoError(t, err)
	return plan
}

func TestUnwrapSwapLoops(t *testing.T) {
	f := newFixture(t)
	f.yv.Mint(f.user.Address, big.NewInt(1_000_000))
	f.usdc.Mint(yvUSDCAddr, big.NewInt(10_000_000))

	path := filepath.Join(t.TempDir(), "unwrap-swap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
script: unwrap-swap
iterations: 3
pool: bb-yv-USDC
yearn_vault: yvUSDC
main_token: USDC
`), 0o644))
	script, err := ops.LoadScript(path)
	require.NoError(t, err)

	recs, err := f.runner.Run(f.ctx, f.plan(t, script))
	require.NoError(t, err)
	require.Len(t, recs, 6)
	require.Equal(t, recs, f.journal.Records())

	for i, rec := range recs {
		require.Equal(t, "unwrap-swap", rec.Script)
		require.Equal(t, i/2+1, rec.Iteration)
		require.True(t, rec.Succeeded())
		require.Equal(t, f.user.Address.Hex(), rec.From)
		require.Equal(t, uint64(chaintest.DefaultChainID), rec.ChainID)
		if i%2 == 0 {
			require.Equal(t, "withdraw", rec.Step)
			require.Equal(t, yvUSDCAddr.Hex(), rec.To)
		} else {
			require.Equal(t, "swap", rec.Step)
			require.Equal(t, vaultAddr.Hex(), rec.To)
		}
	}
	require.Less(t, recs[0].BlockNumber, recs[1].BlockNumber)

	require.Equal(t, "1000000", f.yv.BalanceOf(f.user.Address).String())
	require.Zero(t, f.usdc.BalanceOf(f.user.Address).Sign())
	require.Equal(t, "3000000", f.vault.PoolBalance(f.poolID, usdcAddr).String())
	require.Equal(t, "97000000", f.vault.PoolBalance(f.poolID, yvUSDCAddr).String())
	require.Equal(t, "7000000", f.usdc.BalanceOf(yvUSDCAddr).String())
}

func TestUnwrapSwapStopsAtFirstRevert(t *testing.T) {
	f := newFixture(t)
	f.yv.Mint(f.user.Address, big.NewInt(1_000_000))
	f.usdc.Mint(yvUSDCAddr, big.NewInt(1_500_000))

	plan := f.plan(t, ops.Script{Kind: ops.ScriptUnwrapSwap, Iterations: 5, Pool: "bb-yv-USDC", YearnVault: "yvUSDC", MainToken: "USDC"})
	recs, err := f.runner.Run(f.ctx, plan)
	require.Error(t, err)
	require.True(t, chaintest.IsRevert(err, "insufficient vault liquidity"), "got %v", err)
	require.ErrorContains(t, err, "unwrap-swap iteration 2 step withdraw")
	require.Len(t, recs, 2)
	require.Len(t, f.journal.Records(), 2)
}

func TestSwapScriptUsesWholeBalance(t *testing.T) {
	f := newFixture(t)
	f.usdc.Mint(f.user.Address, big.NewInt(2_500_000))

	plan := f.plan(t, ops.Script{Kind: ops.ScriptSwap, Pool: "bb-yv-USDC", TokenIn: "USDC", TokenOut: "yvUSDC", Amount: "all", MinOut: "2.5"})
	recs, err := f.runner.Run(f.ctx, plan)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "2500000", f.yv.BalanceOf(f.user.Address).String())
}

func TestSwapScriptHonoursMinOut(t *testing.T) {
	f := newFixture(t)
	f.usdc.Mint(f.user.Address, big.NewInt(2_000_000))

	plan := f.plan(t, ops.Script{Kind: ops.ScriptSwap, Pool: "bb-yv-USDC", TokenIn: "USDC", TokenOut: "yvUSDC", Amount: "1", MinOut: "1.5"})
	_, err := f.runner.Run(f.ctx, plan)
	require.True(t, chaintest.IsRevert(err, "BAL#507"), "got %v", err)
	require.Empty(t, f.journal.Records())
}

func TestJoinSkipsSufficientAllowance(t *testing.T) {
	f := newFixture(t)
	f.usdc.Mint(f.user.Address, big.NewInt(5_000_000))
	f.yv.Mint(f.user.Address, big.NewInt(5_000_000))
	f.usdc.Approve(f.user.Address, vaultAddr, contracts.MaxUint256)

	plan := f.plan(t, ops.Script{Kind: ops.ScriptJoin, Pool: "bb-yv-USDC", Tokens: []string{"USDC", "yvUSDC"}, Amounts: []string{"1", "2.5"}})
	recs, err := f.runner.Run(f.ctx, plan)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "approve "+yvUSDCAddr.Hex(), recs[0].Step)
	require.Equal(t, "join", recs[1].Step)

	require.Equal(t, "1000000", f.vault.PoolBalance(f.poolID, usdcAddr).String())
	require.Equal(t, "102500000", f.vault.PoolBalance(f.poolID, yvUSDCAddr).String())
}

func TestJoinChecksPoolTokenOrder(t *testing.T) {
	f := newFixture(t)
	f.usdc.Mint(f.user.Address, big.NewInt(5_000_000))
	f.yv.Mint(f.user.Address, big.NewInt(5_000_000))
	f.usdc.Approve(f.user.Address, vaultAddr, contracts.MaxUint256)
	f.yv.Approve(f.user.Address, vaultAddr, contracts.MaxUint256)

	plan := f.plan(t, ops.Script{Kind: ops.ScriptJoin, Pool: "bb-yv-USDC", Tokens: []string{"yvUSDC", "USDC"}, Amounts: []string{"1", "1"}})
	recs, err := f.runner.Run(f.ctx, plan)
	require.ErrorContains(t, err, "do not match the pool's tokens")
	require.Empty(t, recs)
	require.Equal(t, "0", f.vault.PoolBalance(f.poolID, usdcAddr).String())
}

func TestRebalanceFindsAssetManager(t *testing.T) {
	f := newFixture(t)
	rebalancerAddr := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	mock := lineartest.NewRebalancer(f.b, rebalancerAddr, f.vault, f.poolID, f.usdc)

	plan := f.plan(t, ops.Script{Kind: ops.ScriptRebalance, Pool: "bb-yv-USDC", MainToken: "USDC"})
	recs, err := f.runner.Run(f.ctx, plan)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, rebalancerAddr.Hex(), recs[0].To)
	require.Equal(t, []common.Address{f.user.Address}, mock.Recipients)
}

func TestRebalanceWithExtraMainApprovesRebalancer(t *testing.T) {
	f := newFixture(t)
	rebalancerAddr := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	mock := lineartest.NewRebalancer(f.b, rebalancerAddr, f.vault, f.poolID, f.usdc)
	f.usdc.Mint(f.user.Address, big.NewInt(1_000_000))
	require.Zero(t, f.usdc.Allowance(f.user.Address, rebalancerAddr).Sign())

	plan := f.plan(t, ops.Script{Kind: ops.ScriptRebalance, Pool: "bb-yv-USDC", MainToken: "USDC", ExtraMain: "1"})
	recs, err := f.runner.Run(f.ctx, plan)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "approve "+usdcAddr.Hex(), recs[0].Step)
	require.Equal(t, usdcAddr.Hex(), recs[0].To)
	require.Equal(t, "rebalance", recs[1].Step)
	require.Equal(t, rebalancerAddr.Hex(), recs[1].To)
	require.Len(t, mock.ExtraMain, 1)
	require.Equal(t, "1000000", mock.ExtraMain[0].String())
	require.Equal(t, "1000000", f.usdc.BalanceOf(f.user.Address).String())

	// The unlimited approval from the first run covers the next one.
	recs, err = f.runner.Run(f.ctx, f.plan(t, ops.Script{Kind: ops.ScriptRebalance, Pool: "bb-yv-USDC", MainToken: "USDC", ExtraMain: "1"}))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "rebalance", recs[0].Step)
}

func TestRebalanceWithExtraMainNeedsMainToken(t *testing.T) {
	err := ops.Script{Kind: ops.ScriptRebalance, Pool: "bb-yv-USDC", Rebalancer: "0x00000000000000000000000000000000000000bb", ExtraMain: "1"}.Validate()
	require.ErrorContains(t, err, "main_token is required")
}

func TestWrapResolvesTaskReference(t *testing.T) {
	f := newFixture(t)
	manualAddr := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	mock := lineartest.NewManualRebalancer(f.b, manualAddr, f.user.Address, f.poolID)
	mock.SettleIn(f.usdc)
	require.NoError(t, f.env.Store.Put(f.ctx, model.DeployedContractRecord{
		Network:      "hardhat",
		TaskID:       "20221027-reaper-manual-rebalancer",
		ContractName: "ReaperManualRebalancer",
		Address:      manualAddr.Hex(),
		DeployedAt:   "2022-10-27T00:00:00Z",
	}))

	plan := f.plan(t, ops.Script{
		Kind:       ops.ScriptWrap,
		Iterations: 2,
		Pool:       "bb-yv-USDC",
		Rebalancer: "task:20221027-reaper-manual-rebalancer/ReaperManualRebalancer",
		MainToken:  "USDC",
		Amount:     "5",
	})
	recs, err := f.runner.Run(f.ctx, plan)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.Equal(t, "approve "+usdcAddr.Hex(), recs[0].Step)
	require.Equal(t, "wrap", recs[1].Step)
	require.Equal(t, "wrap", recs[2].Step)
	require.Equal(t, contracts.MaxUint256.String(), f.usdc.Allowance(f.user.Address, manualAddr).String())
	require.Len(t, mock.Ops, 2)
	require.Equal(t, "wrap", mock.Ops[1].Method)
	require.Equal(t, "5", mock.Ops[1].Amount.String())
	require.Zero(t, mock.Ops[1].Limit.Sign())
}

func TestScriptValidationReportsEveryProblem(t *testing.T) {
	err := ops.Script{Kind: ops.ScriptJoin, Tokens: []string{"USDC"}, JoinKind: "proportional"}.Validate()
	require.Error(t, err)
	require.Len(t, multierr.Errors(err), 3)
	require.ErrorContains(t, err, "pool is required")
	require.ErrorContains(t, err, "amounts has 0 entries for 1 tokens")
	require.ErrorContains(t, err, `unknown join_kind "proportional"`)

	require.ErrorContains(t, ops.Script{Kind: "drain"}.Validate(), `unknown script "drain"`)
}

func TestLoadScriptAsPinsKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swap.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pool: bb-yv-USDC\ntoken_in: USDC\ntoken_out: yvUSDC\n"), 0o644))

	script, err := ops.LoadScriptAs(path, ops.ScriptSwap)
	require.NoError(t, err)
	require.Equal(t, ops.ScriptSwap, script.Kind)

	_, err = ops.LoadScript(path)
	require.ErrorContains(t, err, "script is required")

	named := filepath.Join(t.TempDir(), "join.yaml")
	require.NoError(t, os.WriteFile(named, []byte("script: join\npool: bb-yv-USDC\ntokens: [USDC]\namounts: [\"1\"]\n"), 0o644))
	_, err = ops.LoadScriptAs(named, ops.ScriptSwap)
	require.ErrorContains(t, err, "is a join script, not swap")
}

func TestScriptPlanReportsUnresolvedNames(t *testing.T) {
	f := newFixture(t)
	_, err := ops.Script{Kind: ops.ScriptSwap, Pool: "bb-nope", TokenIn: "NOPE", TokenOut: "yvUSDC"}.Plan(f.ctx, f.env)
	require.Error(t, err)
	require.ErrorContains(t, err, `unknown pool "bb-nope"`)
	require.ErrorContains(t, err, `unknown token "NOPE"`)
}

type fakeSender struct {
	from    common.Address
	calls   []chain.Call
	receipt func(n int) (*types.Receipt, error)
}

func (s *fakeSender) From() common.Address { return s.from }

func (s *fakeSender) Send(_ context.Context, call chain.Call) (*types.Receipt, error) {
	s.calls = append(s.calls, call)
	return s.receipt(len(s.calls))
}

func fixedCall(to common.Address) func(context.Context, common.Address) (chain.Call, error) {
	return func(context.Context, common.Address) (chain.Call, error) {
		return chain.Call{To: &to, Label: "noop"}, nil
	}
}

func TestRunnerJournalsRevertedReceipt(t *testing.T) {
	target := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	sender := &fakeSender{
		from: common.HexToAddress("0x0000000000000000000000000000000000000001"),
		receipt: func(n int) (*types.Receipt, error) {
			receipt := &types.Receipt{
				Status:      types.ReceiptStatusSuccessful,
				TxHash:      common.BigToHash(big.NewInt(int64(n))),
				BlockNumber: big.NewInt(int64(n)),
				GasUsed:     21_000,
			}
			if n == 2 {
				receipt.Status = types.ReceiptStatusFailed
				return receipt, &chain.RevertedError{Label: "noop", TxHash: receipt.TxHash}
			}
			return receipt, nil
		},
	}
	journal := &storage.MemoryJournal{}
	runner := ops.NewRunner(sender, journal, 10, nil)

	plan := ops.Plan{Name: "test", Iterations: 3, Steps: []ops.Step{{Name: "poke", Build: fixedCall(target)}}}
	recs, err := runner.Run(context.Background(), plan)

	var reverted *chain.RevertedError
	require.True(t, errors.As(err, &reverted))
	require.Len(t, sender.calls, 2)
	require.Len(t, recs, 2)
	require.Equal(t, recs, journal.Records())
	require.True(t, recs[0].Succeeded())
	require.False(t, recs[1].Succeeded())
	require.Equal(t, 2, recs[1].Iteration)
	require.Equal(t, target.Hex(), recs[1].To)
}

func TestRunnerStopsBetweenStepsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	target := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	sender := &fakeSender{receipt: func(n int) (*types.Receipt, error) {
		return &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(int64(n))}, nil
	}}
	runner := ops.NewRunner(sender, nil, 10, nil)

	plan := ops.Plan{Name: "test", Iterations: 2, Steps: []ops.Step{
		{Name: "first", Build: func(ctx context.Context, from common.Address) (chain.Call, error) {
			cancel()
			return chain.Call{To: &target}, nil
		}},
		{Name: "second", Build: fixedCall(target)},
	}}
	recs, err := runner.Run(ctx, plan)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, sender.calls, 1)
	require.Len(t, recs, 1)
}

func TestRunnerRejectsEmptyPlan(t *testing.T) {
	runner := ops.NewRunner(&fakeSender{}, nil, 10, nil)
	_, err := runner.Run(context.Background(), ops.Plan{Name: "empty", Iterations: 1})
	require.ErrorContains(t, err, "plan has no steps")
	_, err = runner.Run(context.Background(), ops.Plan{Name: "zero", Steps: []ops.Step{{Name: "x", Build: fixedCall(common.Address{})}}})
	require.ErrorContains(t, err, "iterations must be greater than zero")
}
