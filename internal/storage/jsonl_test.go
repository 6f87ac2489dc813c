package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"poolctl/internal/model"
)

func TestJsonlJournalAppends(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal", "txs.jsonl")
	journal := NewJsonlJournal(path)

	require.NoError(t, journal.PutTxBatch(ctx, nil))
	require.NoError(t, journal.PutTxBatch(ctx, []model.TxRecord{
		{ChainID: 250, Script: "unwrap-swap", Iteration: 0, Step: "withdraw", TxHash: "0xaa", Status: 1},
	}))
	require.NoError(t, journal.PutTxBatch(ctx, []model.TxRecord{
		{ChainID: 250, Script: "unwrap-swap", Iteration: 0, Step: "swap", TxHash: "0xbb", Status: 0},
	}))

	got, err := ReadJournal(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "withdraw", got[0].Step)
	require.True(t, got[0].Succeeded())
	require.Equal(t, "swap", got[1].Step)
	require.False(t, got[1].Succeeded())
}

func TestJsonlJournalWritesOneLinePerRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "txs.jsonl")
	journal := NewJsonlJournal(path)
	require.NoError(t, journal.PutTxBatch(context.Background(), []model.TxRecord{
		{ChainID: 10, Script: "join", Step: "approve", TxHash: "0x01", Status: 1},
		{ChainID: 10, Script: "join", Step: "join", TxHash: "0x02", Status: 1},
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[1], `"0x02"`)
}
