package records

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"poolctl/internal/model"
)

func record(network, taskID, contract, addr string) model.DeployedContractRecord {
	return model.DeployedContractRecord{
		Network:      network,
		TaskID:       taskID,
		ContractName: contract,
		Address:      addr,
		DeployedAt:   "2023-03-27T00:00:00Z",
	}
}

func TestFileStorePersists(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := NewFileStore(root)

	_, ok, err := store.Get(ctx, "fantom", "20230327-batch-relayer-v5", "BatchRelayer")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Put(ctx, record("fantom", "20230327-batch-relayer-v5", "BatchRelayerLibrary", "0x1111111111111111111111111111111111111111")))
	require.NoError(t, store.Put(ctx, record("fantom", "20230327-batch-relayer-v5", "BatchRelayer", "0x2222222222222222222222222222222222222222")))

	_, err = os.Stat(filepath.Join(root, "20230327-batch-relayer-v5", "output", "fantom.json"))
	require.NoError(t, err)

	reopened := NewFileStore(root)
	rec, ok, err := reopened.Get(ctx, "fantom", "20230327-batch-relayer-v5", "BatchRelayer")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "0x2222222222222222222222222222222222222222", rec.Address)

	list, err := reopened.List(ctx, "fantom", "")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "BatchRelayer", list[0].ContractName)
	require.Equal(t, "BatchRelayerLibrary", list[1].ContractName)

	other, err := reopened.List(ctx, "optimism", "")
	require.NoError(t, err)
	require.Empty(t, other)
}

func TestFileStoreReadsAddressOnlyDocuments(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	path := filepath.Join(root, "20210418-vault", "output", "fantom.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`{"Vault":{"address":"0x20dd72Ed959b6147912C2e529F0a0C651c33c9ce"}}`), 0o644))

	list, err := NewFileStore(root).List(ctx, "fantom", "20210418-vault")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "Vault", list[0].ContractName)
	require.Equal(t, "20210418-vault", list[0].TaskID)
	require.Equal(t, "fantom", list[0].Network)
}

func TestPutRejectsIncompleteRecord(t *testing.T) {
	ctx := context.Background()
	require.Error(t, NewMemoryStore().Put(ctx, record("fantom", "task", "Contract", "")))
	require.Error(t, NewFileStore(t.TempDir()).Put(ctx, record("", "task", "Contract", "0x1")))
}

func TestOverlayKeepsWritesInMemory(t *testing.T) {
	ctx := context.Background()
	base := NewFileStore(t.TempDir())
	require.NoError(t, base.Put(ctx, record("fantom", "task", "A", "0x1111111111111111111111111111111111111111")))

	overlay := NewOverlay(base)
	require.NoError(t, overlay.Put(ctx, record("fantom", "task", "A", "0x3333333333333333333333333333333333333333")))
	require.NoError(t, overlay.Put(ctx, record("fantom", "task", "B", "0x4444444444444444444444444444444444444444")))

	rec, ok, err := overlay.Get(ctx, "fantom", "task", "A")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "0x3333333333333333333333333333333333333333", rec.Address)

	rec, ok, err = base.Get(ctx, "fantom", "task", "A")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "0x1111111111111111111111111111111111111111", rec.Address)

	_, ok, err = base.Get(ctx, "fantom", "task", "B")
	require.NoError(t, err)
	require.False(t, ok)

	list, err := overlay.List(ctx, "fantom", "task")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "0x3333333333333333333333333333333333333333", list[0].Address)
}

func TestResolveAddress(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, record("fantom", "20230320-weighted-pool-v4", "WeightedPoolFactory", "0x5555555555555555555555555555555555555555")))

	addr, err := ResolveAddress(ctx, store, "fantom", "task:20230320-weighted-pool-v4/WeightedPoolFactory")
	require.NoError(t, err)
	require.Equal(t, "0x5555555555555555555555555555555555555555", addr.Hex())

	addr, err = ResolveAddress(ctx, store, "fantom", "0x20dd72Ed959b6147912C2e529F0a0C651c33c9ce")
	require.NoError(t, err)
	require.Equal(t, "0x20dd72Ed959b6147912C2e529F0a0C651c33c9ce", addr.Hex())

	_, err = ResolveAddress(ctx, store, "optimism", "task:20230320-weighted-pool-v4/WeightedPoolFactory")
	require.ErrorContains(t, err, "has no record on optimism")

	_, _, err = ParseReference("task:missing-contract")
	require.Error(t, err)
}
