package relayer

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestChainedReferenceEncoding(t *testing.T) {
	ref := ChainedReference(0)
	require.Equal(t, "0xba10000000000000000000000000000000000000000000000000000000000000", "0x"+ref.Text(16))
	require.True(t, IsChainedReference(ref))
	require.True(t, IsTemporary(ref))

	readOnly := ReadOnlyReference(7)
	require.Equal(t, "0xba11000000000000000000000000000000000000000000000000000000000007", "0x"+readOnly.Text(16))
	require.True(t, IsChainedReference(readOnly))
	require.False(t, IsTemporary(readOnly))
	require.Equal(t, int64(7), ReferenceKey(readOnly).Int64())

	require.False(t, IsChainedReference(big.NewInt(50)))
	require.False(t, IsChainedReference(nil))
}

func TestLibraryEncodesSelectors(t *testing.T) {
	lib, err := NewLibrary()
	require.NoError(t, err)

	data, err := lib.WithdrawAndHarvest(common.Address{1}, big.NewInt(1), big.NewInt(20), nil)
	require.NoError(t, err)
	parsed := lib.ABI()
	method, err := parsed.MethodById(data[:4])
	require.NoError(t, err)
	require.Equal(t, "reliquaryWithdrawAndHarvest", method.Name)

	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	require.Equal(t, "0", args[3].(*big.Int).String())
}
