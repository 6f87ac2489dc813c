// Package forktest runs tests against a local development node forked from a
// live network at a pinned block.
//
// Fork tests are opt-in. They run only when POOLCTL_FORK_NODE points at a
// hardhat or anvil node and POOLCTL_FORK_URL at an archive RPC for the forked
// network.
package forktest

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"poolctl/internal/chain"
	"poolctl/internal/records"
	"poolctl/internal/registry"
	"poolctl/internal/task"
)

const (
	EnvNode  = "POOLCTL_FORK_NODE"
	EnvURL   = "POOLCTL_FORK_URL"
	EnvTasks = "POOLCTL_TASKS_DIR"

	forkTimeout = 5 * time.Minute
)

// DefaultBalance is the native balance given to impersonated accounts.
var DefaultBalance = new(big.Int).Mul(big.NewInt(100), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// Fork is a dev node reset to a network at a block.
type Fork struct {
	Ctx     context.Context
	Client  *chain.Client
	Network *registry.Network
	Block   uint64
	Logger  *zap.Logger

	tasksRoot string
	store     records.Store
}

// New resets the fork node to network at block, or skips the test when no fork
// node is configured.
func New(t testing.TB, network string, block uint64) *Fork {
	t.Helper()

	nodeURL, forkURL := os.Getenv(EnvNode), os.Getenv(EnvURL)
	if nodeURL == "" || forkURL == "" {
		t.Skipf("fork test: set %s and %s to run against %s@%d", EnvNode, EnvURL, network, block)
	}

	reg, err := registry.Default()
	require.NoError(t, err)
	net, err := reg.Network(network)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), forkTimeout)
	t.Cleanup(cancel)

	client, err := chain.NewClient(ctx, nodeURL)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	require.NoError(t, client.ResetFork(ctx, forkURL, block), "reset fork")
	head, err := client.LatestBlockNumber(ctx)
	require.NoError(t, err)
	require.Equal(t, block, head, "fork head")

	root, err := tasksRoot()
	require.NoError(t, err)

	return &Fork{
		Ctx:       ctx,
		Client:    client,
		Network:   net,
		Block:     block,
		Logger:    zaptest.NewLogger(t),
		tasksRoot: root,
		store:     records.NewFileStore(root),
	}
}

// Impersonate unlocks account on the node, funds it, and returns a sender that
// submits as it.
func (f *Fork) Impersonate(t testing.TB, account common.Address) chain.Sender {
	t.Helper()
	require.NoError(t, f.Client.Impersonate(f.Ctx, account))
	require.NoError(t, f.Client.SetBalance(f.Ctx, account, DefaultBalance))
	return chain.NewNodeSender(f.Client, account)
}

// Signer returns a sender for the node's n-th unlocked account.
func (f *Fork) Signer(t testing.TB, n int) chain.Sender {
	t.Helper()
	accounts, err := f.Client.Accounts(f.Ctx)
	require.NoError(t, err)
	require.Greater(t, len(accounts), n, "node has %d unlocked accounts", len(accounts))
	return chain.NewNodeSender(f.Client, accounts[n])
}

// AdvanceTime moves the chain clock forward and mines a block.
func (f *Fork) AdvanceTime(t testing.TB, d time.Duration) {
	t.Helper()
	require.NoError(t, f.Client.AdvanceTime(f.Ctx, uint64(d/time.Second)))
}

// Mine mines n empty blocks.
func (f *Fork) Mine(t testing.TB, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, f.Client.AdvanceBlock(f.Ctx))
	}
}

// Task loads a task in test mode. Records it writes stay in memory; records of
// other tasks are read from the checked-in outputs.
func (f *Fork) Task(t testing.TB, id string, sender chain.Sender) *task.Task {
	t.Helper()
	tk, err := task.New(id, task.Config{
		Root:    f.tasksRoot,
		Network: f.Network,
		Mode:    task.ModeTest,
		Store:   f.store,
		Caller:  f.Client,
		Sender:  sender,
		Logger:  f.Logger,
	})
	require.NoError(t, err)
	return tk
}

// RequireArtifact skips the test when a task has no compiled artifact for
// contract.
func (f *Fork) RequireArtifact(t testing.TB, id, contract string) {
	t.Helper()
	path := filepath.Join(f.tasksRoot, id, "artifact", contract+".json")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		t.Skipf("fork test: %s has no artifact for %s", id, contract)
	}
}

// tasksRoot finds the tasks directory from the environment or by walking up to
// the module root.
func tasksRoot() (string, error) {
	if dir := os.Getenv(EnvTasks); dir != "" {
		return dir, nil
	}
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return filepath.Join(dir, "tasks"), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("tasks directory not found; set " + EnvTasks)
		}
		dir = parent
	}
}
