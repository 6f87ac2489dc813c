package task

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"poolctl/internal/chain"
	"poolctl/internal/chain/chaintest"
	"poolctl/internal/contracts"
	"poolctl/internal/model"
	"poolctl/internal/records"
	"poolctl/internal/registry"
	"poolctl/internal/verify"
)

const networkDoc = `
networks:
  hardhat:
    chain_id: 31337
    contracts:
      Vault: "0x00000000000000000000000000000000000000aa"
`

const buildInfoDoc = `{
  "solcLongVersion": "0.7.1+commit.f4a555be",
  "input": {"language": "Solidity", "sources": {}},
  "output": {"contracts": {"contracts/%[1]s.sol": {"%[1]s": {}}}}
}`

var (
	vaultAddr      = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	entrypointAddr = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	ownerAddr      = common.HexToAddress("0xcd983793adb846dce4830c22f30c7ef0c864a776")
)

type recordingVerifier struct {
	requests []verify.Request
	err      error
}

func (v *recordingVerifier) Verify(_ context.Context, req verify.Request) error {
	v.requests = append(v.requests, req)
	return v.err
}

type env struct {
	ctx     context.Context
	root    string
	b       *chaintest.Backend
	account chaintest.Account
	sender  *chain.Transactor
	network *registry.Network
	store   *records.FileStore
}

func newEnv(t *testing.T) *env {
	t.Helper()
	reg, err := registry.Parse([]byte(networkDoc))
	require.NoError(t, err)
	network, err := reg.Network("hardhat")
	require.NoError(t, err)

	b := chaintest.New()
	account := chaintest.NewAccount(t)
	return &env{
		ctx:     context.Background(),
		root:    t.TempDir(),
		b:       b,
		account: account,
		sender:  b.Transactor(t, account),
		network: network,
		store:   records.NewFileStore(t.TempDir()),
	}
}

func (e *env) config(mode Mode) Config {
	return Config{Root: e.root, Network: e.network, Mode: mode, Store: e.store, Caller: e.b, Sender: e.sender}
}

func (e *env) writeFile(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(e.root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// writeArtifact writes a hardhat-style artifact whose constructor takes inputs,
// plus its build info.
func (e *env) writeArtifact(t *testing.T, taskID, contract, bytecode, inputs string) {
	t.Helper()
	e.writeFile(t, filepath.Join(taskID, "artifact", contract+".json"), fmt.Sprintf(`{
  "contractName": %q,
  "abi": [{"type": "constructor", "stateMutability": "nonpayable", "inputs": [%s]}],
  "bytecode": %q
}`, contract, inputs, bytecode))
	e.writeFile(t, filepath.Join(taskID, "build-info", contract+".json"), fmt.Sprintf(buildInfoDoc, contract))
}

func (e *env) nonce(t *testing.T) uint64 {
	t.Helper()
	nonce, err := e.b.PendingNonceAt(e.ctx, e.account.Address)
	require.NoError(t, err)
	return nonce
}

const poolManagerID = "20230406-balancer-pool-manager"

func (e *env) writePoolManager(t *testing.T) {
	e.writeFile(t, filepath.Join(poolManagerID, "input.yaml"), "default:\n  Owner: \"0xcd983793adb846dce4830c22f30c7ef0c864a776\"\n")
	e.writeArtifact(t, poolManagerID, "BalancerPoolManager", "0x60806040", `{"name": "owner", "type": "address"}`)
}

func TestDeployAndVerifyIsIdempotent(t *testing.T) {
	e := newEnv(t)
	e.writePoolManager(t)

	task, err := New(poolManagerID, e.config(ModeLive))
	require.NoError(t, err)
	require.NoError(t, task.Run(e.ctx, false))
	require.Equal(t, uint64(1), e.nonce(t))

	first, ok, err := task.DeployedAddress(e.ctx, "BalancerPoolManager")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, crypto.CreateAddress(e.account.Address, 0), first)

	code, ok := e.b.DeployedCode(first)
	require.True(t, ok)
	require.Equal(t, append(common.FromHex("0x60806040"), common.LeftPadBytes(ownerAddr.Bytes(), 32)...), code)

	rec, ok, err := e.store.Get(e.ctx, "hardhat", poolManagerID, "BalancerPoolManager")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), rec.BlockNumber)
	require.Equal(t, "2023-11-14T22:13:21Z", rec.DeployedAt)
	require.NotEmpty(t, rec.TxHash)

	require.NoError(t, task.Run(e.ctx, false))
	require.Equal(t, uint64(1), e.nonce(t))

	require.NoError(t, task.Run(e.ctx, true))
	require.Equal(t, uint64(2), e.nonce(t))
	second, _, err := task.DeployedAddress(e.ctx, "BalancerPoolManager")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestTestModeKeepsRecordsInMemory(t *testing.T) {
	e := newEnv(t)
	e.writePoolManager(t)

	task, err := New(poolManagerID, e.config(ModeTest))
	require.NoError(t, err)
	require.NoError(t, task.Run(e.ctx, false))

	_, ok, err := e.store.Get(e.ctx, "hardhat", poolManagerID, "BalancerPoolManager")
	require.NoError(t, err)
	require.False(t, ok)

	out, err := task.Output(e.ctx)
	require.NoError(t, err)
	require.Contains(t, out, "BalancerPoolManager")
}

func TestInputResolvesReferences(t *testing.T) {
	e := newEnv(t)
	const id = "20230327-pool-specific-protocol-fee-provider"
	e.writeFile(t, filepath.Join(id, "input.yaml"), `
hardhat:
  Vault: task:20210418-vault/Vault
  maxYieldValue: "0.5"
  maxAUMValue: "0.2"
`)
	e.writeArtifact(t, id, "PoolSpecificProtocolFeePercentagesProvider", "0x60806041",
		`{"name": "vault", "type": "address"}, {"name": "maxYield", "type": "uint256"}, {"name": "maxAUM", "type": "uint256"}`)

	task, err := New(id, e.config(ModeLive))
	require.NoError(t, err)
	_, err = task.Input(e.ctx)
	require.ErrorContains(t, err, "Vault: resolve task:20210418-vault/Vault")

	require.NoError(t, e.store.Put(e.ctx, model.DeployedContractRecord{
		Network:      "hardhat",
		TaskID:       "20210418-vault",
		ContractName: "Vault",
		Address:      vaultAddr.Hex(),
		DeployedAt:   "2021-04-18T00:00:00Z",
	}))
	in, err := task.Input(e.ctx)
	require.NoError(t, err)
	fees, ok := in.(*FeeProviderInput)
	require.True(t, ok)
	require.Equal(t, vaultAddr, fees.Vault.Address)

	require.NoError(t, task.Run(e.ctx, false))
	addr, ok, err := task.DeployedAddress(e.ctx, "PoolSpecificProtocolFeePercentagesProvider")
	require.NoError(t, err)
	require.True(t, ok)
	code, _ := e.b.DeployedCode(addr)
	maxYield := common.LeftPadBytes(new(big.Int).Div(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil), big.NewInt(2)).Bytes(), 32)
	require.Equal(t, maxYield, code[4+32:4+64])
}

func TestInputValidationReportsEveryProblem(t *testing.T) {
	e := newEnv(t)
	const id = "20230327-pool-specific-protocol-fee-provider"
	e.writeFile(t, filepath.Join(id, "input.yaml"), `
hardhat:
  maxYieldValue: "2"
  maxAUMValue: "abc"
`)
	task, err := New(id, e.config(ModeLive))
	require.NoError(t, err)
	_, err = task.Input(e.ctx)
	require.ErrorContains(t, err, "Vault is required")
	require.ErrorContains(t, err, "maxYieldValue must be between 0 and 1")
	require.ErrorContains(t, err, "maxAUMValue: invalid amount")
}

func TestInputNeedsNetworkSection(t *testing.T) {
	e := newEnv(t)
	const id = "20221027-reaper-manual-rebalancer"
	e.writeFile(t, filepath.Join(id, "input.yaml"), "fantom:\n  Vault: \"0x20dd72Ed959b6147912C2e529F0a0C651c33c9ce\"\n")
	task, err := New(id, e.config(ModeLive))
	require.NoError(t, err)
	_, err = task.Input(e.ctx)
	require.ErrorContains(t, err, "no input for network hardhat (have fantom)")
}

func TestBatchRelayerRecordsEntrypoint(t *testing.T) {
	e := newEnv(t)
	const id = "20230327-batch-relayer-v5"
	e.writeFile(t, filepath.Join(id, "input.yaml"), `
hardhat:
  Vault: Vault
  MasterChef: "0x8166994d9ebBe5829EC86Bd81258149B87faCfd3"
  xBOO: "0xa48d959ae2e88f1daa7d5f611e01908106de7598"
  fBEETS: "0xfcef8a994209d6916eb2c86cdd2afd60aa6f54b1"
  Reliquary: "0x1ed6411670c709F4e163854654BD52c74E66D7eC"
`)
	address := `{"type": "address"}`
	e.writeArtifact(t, id, "BatchRelayerLibrary", "0x60806042", fmt.Sprintf("%[1]s, %[1]s, %[1]s, %[1]s, %[1]s", address))
	e.writeArtifact(t, id, "BalancerRelayer", "0x60806043", fmt.Sprintf("%[1]s, %[1]s", address))

	e.b.OnDeploy = func(addr, from common.Address, initCode []byte) chaintest.Contract {
		library := chaintest.NewDispatcher(contracts.Must(contracts.BatchRelayerLibraryABI()))
		library.Handle("getEntrypoint", func(msg chaintest.Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
			return []interface{}{entrypointAddr}, nil, nil
		})
		return library
	}

	verifier := &recordingVerifier{}
	cfg := e.config(ModeLive)
	cfg.Verifier = verifier
	task, err := New(id, cfg)
	require.NoError(t, err)
	require.NoError(t, task.Run(e.ctx, false))

	out, err := task.Output(e.ctx)
	require.NoError(t, err)
	library := crypto.CreateAddress(e.account.Address, 0)
	require.Equal(t, map[string]common.Address{"BatchRelayerLibrary": library, "BalancerRelayer": entrypointAddr}, out)

	require.Len(t, verifier.requests, 2)
	require.Equal(t, "BatchRelayerLibrary", verifier.requests[0].ContractName)
	relayerReq := verifier.requests[1]
	require.Equal(t, "BalancerRelayer", relayerReq.ContractName)
	require.Equal(t, entrypointAddr, relayerReq.Address)
	require.Equal(t, append(common.LeftPadBytes(vaultAddr.Bytes(), 32), common.LeftPadBytes(library.Bytes(), 32)...), relayerReq.ConstructorArgs)
}

func TestVerificationFailureIsLogged(t *testing.T) {
	e := newEnv(t)
	e.writePoolManager(t)

	core, logs := observer.New(zapcore.InfoLevel)
	cfg := e.config(ModeLive)
	cfg.Verifier = &recordingVerifier{err: errors.New("explorer unavailable")}
	cfg.Logger = zap.New(core)

	task, err := New(poolManagerID, cfg)
	require.NoError(t, err)
	require.NoError(t, task.Run(e.ctx, false))

	_, ok, err := task.DeployedAddress(e.ctx, "BalancerPoolManager")
	require.NoError(t, err)
	require.True(t, ok)

	failures := logs.FilterMessage("verification failed").All()
	require.Len(t, failures, 1)
	require.Equal(t, zapcore.WarnLevel, failures[0].Level)
}

func TestReadOnlyTaskRejectsWrites(t *testing.T) {
	e := newEnv(t)
	vault := chaintest.NewVault(e.b, vaultAddr)
	vault.Authorizer = common.HexToAddress("0x00000000000000000000000000000000000000a1")

	task, err := New("20210418-vault", e.config(ModeLive))
	require.NoError(t, err)
	require.Equal(t, ModeReadOnly, task.Mode)
	require.NoError(t, task.Run(e.ctx, false))

	_, err = task.DeployAndVerify(e.ctx, "Vault", nil, true)
	require.ErrorContains(t, err, "read-only")
	require.ErrorContains(t, task.Save(e.ctx, map[string]common.Address{"Vault": vaultAddr}), "read-only")
	require.Equal(t, uint64(0), e.nonce(t))
}

func TestCatalog(t *testing.T) {
	require.Len(t, IDs(), 10)
	require.Equal(t, "20210418-vault", IDs()[0])
	_, err := Lookup("20200101-nope")
	require.ErrorContains(t, err, "unknown task")

	mode, err := ParseMode("")
	require.NoError(t, err)
	require.Equal(t, ModeLive, mode)
	_, err = ParseMode("dry")
	require.Error(t, err)
}

func TestShippedInputsDecode(t *testing.T) {
	for _, id := range IDs() {
		def, err := Lookup(id)
		require.NoError(t, err)
		in := def.NewInput()
		if _, ok := in.(*NoInput); ok {
			continue
		}
		require.NoError(t, decodeInput(filepath.Join("..", "..", "tasks", id), "fantom", in), id)
	}
}
