package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"poolctl/internal/model"
)

func TestParseTimestamp(t *testing.T) {
	ts, err := parseTimestamp("2023-03-27T10:00:00Z")
	require.NoError(t, err)
	require.Equal(t, int64(1679911200), ts.Unix())

	_, err = parseTimestamp("yesterday")
	require.Error(t, err)

	ts, err = parseTimestamp("")
	require.NoError(t, err)
	require.False(t, ts.IsZero())
}

func TestStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("POOLCTL_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("POOLCTL_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	store, err := NewStore(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.EnsureSchema(ctx))

	rec := model.DeployedContractRecord{
		Network:      "test-" + t.Name(),
		TaskID:       "20230327-batch-relayer-v5",
		ContractName: "BatchRelayerLibrary",
		Address:      "0x1111111111111111111111111111111111111111",
		DeployedAt:   "2023-03-27T10:00:00Z",
	}
	require.NoError(t, store.Put(ctx, rec))
	rec.Address = "0x2222222222222222222222222222222222222222"
	require.NoError(t, store.Put(ctx, rec))

	got, ok, err := store.Get(ctx, rec.Network, rec.TaskID, rec.ContractName)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec, got)

	list, err := store.List(ctx, rec.Network, "")
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, ok, err = store.Get(ctx, rec.Network, rec.TaskID, "Missing")
	require.NoError(t, err)
	require.False(t, ok)
}
