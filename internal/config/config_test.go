package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("POOLCTL_RPC", "")
	t.Setenv("POOLCTL_PRIVATE_KEY", "")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	require.Equal(t, "fantom", cfg.Network)
	require.Equal(t, "./tasks", cfg.TasksDir)
	require.Equal(t, "./data/txs.jsonl", cfg.Journal)
	require.Equal(t, "info", cfg.LogLevel)
	require.Error(t, cfg.RequireRPC())
	require.Error(t, cfg.RequireKey())
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "poolctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("network: optimism\nrpc: http://file:8545\nprivate-key: \"0x01\"\nlog-level: debug\n"), 0o644))

	t.Setenv("POOLCTL_RPC", "http://env:8545")
	t.Setenv("POOLCTL_PG_DSN", "postgres://env/poolctl")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("network", "fantom", "")
	flags.String("log-level", "info", "")
	require.NoError(t, flags.Parse([]string{"--network", "mainnet"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	require.Equal(t, "mainnet", cfg.Network)
	require.Equal(t, "http://env:8545", cfg.RPCURL)
	require.Equal(t, "postgres://env/poolctl", cfg.PGDSN)
	require.Equal(t, "0x01", cfg.PrivateKey)
	require.Equal(t, "debug", cfg.LogLevel)
	require.NoError(t, cfg.RequireRPC())
	require.NoError(t, cfg.RequireKey())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.ErrorContains(t, err, "read config")
}

func TestSplitList(t *testing.T) {
	require.Equal(t, []string{"USDC", "yvUSDC", "DAI"}, SplitList([]string{" USDC, yvUSDC", "", "DAI,"}))
	require.Empty(t, SplitList(nil))
}
