package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"poolctl/internal/model"
	"poolctl/internal/records"
	"poolctl/internal/registry"
	"poolctl/internal/verify"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("POOLCTL_RPC", "")
	t.Setenv("POOLCTL_PG_DSN", "")
	t.Setenv("POOLCTL_PRIVATE_KEY", "")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--log-level", "error"))
	err := root.Execute()
	return out.String(), err
}

func TestRecordsList(t *testing.T) {
	dir := t.TempDir()
	store := records.NewFileStore(dir)
	require.NoError(t, store.Put(context.Background(), model.DeployedContractRecord{
		Network:      "fantom",
		TaskID:       "20230327-batch-relayer-v5",
		ContractName: "BatchRelayerLibrary",
		Address:      "0x1111111111111111111111111111111111111111",
		BlockNumber:  58000000,
		DeployedAt:   "2023-03-27T00:00:00Z",
	}))

	out, err := execute(t, "records", "list", "--tasks-dir", dir, "--network", "fantom")
	require.NoError(t, err)
	require.Contains(t, out, "BatchRelayerLibrary")
	require.Contains(t, out, "58000000")

	out, err = execute(t, "records", "list", "--tasks-dir", dir, "--network", "optimism")
	require.NoError(t, err)
	require.NotContains(t, out, "BatchRelayerLibrary")
}

func TestTaskList(t *testing.T) {
	out, err := execute(t, "task", "list", "--tasks-dir", t.TempDir())
	require.NoError(t, err)
	require.Contains(t, out, "20210418-vault")
	require.Contains(t, out, "read-only")
	require.Contains(t, out, "20230424-midas-linear-pool")
}

func TestUnknownNetwork(t *testing.T) {
	_, err := execute(t, "records", "list", "--tasks-dir", t.TempDir(), "--network", "nowhere")
	require.Error(t, err)
}

func TestOpsRejectsScriptOfOtherKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "join.yaml")
	require.NoError(t, os.WriteFile(path, []byte("script: join\npool: bb-yv-USDC\ntokens: [USDC]\namounts: [\"1\"]\n"), 0o644))

	_, err := execute(t, "ops", "swap", path, "--tasks-dir", t.TempDir())
	require.ErrorContains(t, err, "is a join script, not swap")
}

func TestTaskRunNeedsRPC(t *testing.T) {
	_, err := execute(t, "task", "run", "20210418-vault", "--tasks-dir", t.TempDir())
	require.ErrorContains(t, err, "rpc url is required")

	_, err = execute(t, "task", "run", "20990101-unknown", "--tasks-dir", t.TempDir())
	require.ErrorContains(t, err, "unknown task")
}

func TestTokensCheckRejectsUnknownSymbol(t *testing.T) {
	_, err := execute(t, "tokens", "check", "--symbols", "USDC,NOPE", "--tasks-dir", t.TempDir())
	require.ErrorContains(t, err, `unknown token "NOPE"`)
}

type countingVerifier struct{ verified, skipped, failed int }

func (v *countingVerifier) Verify(context.Context, verify.Request) error { return nil }

func (v *countingVerifier) Stats() (int, int, int) { return v.verified, v.skipped, v.failed }

func TestVerifyStatsLogged(t *testing.T) {
	reg, err := registry.Default()
	require.NoError(t, err)
	network, err := reg.Network("fantom")
	require.NoError(t, err)
	core, logs := observer.New(zapcore.InfoLevel)
	a := &app{logger: zap.New(core), network: network}

	a.logVerifyStats(nil)
	require.Zero(t, logs.Len())

	a.logVerifyStats(&countingVerifier{verified: 2, skipped: 1, failed: 1})
	entries := logs.FilterMessage("verification summary").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "fantom", fields["network"])
	require.EqualValues(t, 2, fields["verified"])
	require.EqualValues(t, 1, fields["already_verified"])
	require.EqualValues(t, 1, fields["failed"])
}
