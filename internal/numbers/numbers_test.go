package numbers

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestParseUnits(t *testing.T) {
	v, err := ParseUnits("0.0025", 18)
	require.NoError(t, err)
	require.Equal(t, "2500000000000000", v.String())

	v, err = ParseUnits("10", 6)
	require.NoError(t, err)
	require.Equal(t, "10000000", v.String())

	v, err = ParseUnits(".5", 1)
	require.NoError(t, err)
	require.Equal(t, "5", v.String())

	_, err = ParseUnits("0.0000001", 6)
	require.Error(t, err)

	_, err = ParseUnits("abc", 18)
	require.Error(t, err)
}

func TestFormatUnits(t *testing.T) {
	require.Equal(t, "1.500000", FormatUnits(big.NewInt(1_500_000), 6))
	require.Equal(t, "-0.01", FormatUnits(big.NewInt(-1), 2))
	require.Equal(t, "0", FormatUnits(nil, 18))
}

func TestNormalizeWeightsSumsToOne(t *testing.T) {
	third := MustFP("33.333333333333333333")
	out, err := NormalizeWeights([]*big.Int{third, third, third})
	require.NoError(t, err)

	sum := new(big.Int)
	for _, w := range out {
		sum.Add(sum, w)
	}
	require.Equal(t, 0, sum.Cmp(One))
	require.Equal(t, "333333333333333333", out[0].String())
	require.Equal(t, "333333333333333334", out[2].String())
}

func TestNormalizeWeightsProportional(t *testing.T) {
	out, err := NormalizeWeights([]*big.Int{MustFP("20"), MustFP("30"), MustFP("50")})
	require.NoError(t, err)
	require.Equal(t, MustFP("0.2").String(), out[0].String())
	require.Equal(t, MustFP("0.3").String(), out[1].String())
	require.Equal(t, MustFP("0.5").String(), out[2].String())
}

func TestNormalizeWeightsAlreadyNormalized(t *testing.T) {
	in := []*big.Int{MustFP("0.8"), MustFP("0.2")}
	out, err := NormalizeWeights(in)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestNormalizeWeightsMaxTokens(t *testing.T) {
	in := make([]*big.Int, MaxWeightedTokens)
	for i := range in {
		in[i] = big.NewInt(int64(i + 1))
	}
	out, err := NormalizeWeights(in)
	require.NoError(t, err)
	for _, w := range out {
		require.Equal(t, "10000000000000000", w.String())
	}
}

func TestNormalizeWeightsRejectsZero(t *testing.T) {
	_, err := NormalizeWeights([]*big.Int{MustFP("1"), big.NewInt(0)})
	require.Error(t, err)
}

func TestSortedAscending(t *testing.T) {
	a := common.HexToAddress("0x4200000000000000000000000000000000000006")
	b := common.HexToAddress("0x68f180fcCe6836688e9084f035309E29Bf0A2095")
	c := common.HexToAddress("0x7F5c764cBc14f9669B88837ca1490cCa17c31607")

	require.True(t, SortedAscending([]common.Address{a, b, c}))
	require.False(t, SortedAscending([]common.Address{b, a, c}))
	require.False(t, SortedAscending([]common.Address{a, a}))
}
