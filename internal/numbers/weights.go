package numbers

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MaxWeightedTokens is the largest token count a weighted pool accepts.
const MaxWeightedTokens = 100

// NormalizeWeights scales weights so they sum to exactly One. Rounding dust goes to
// the last weight. Weights that already sum to One are returned unchanged.
func NormalizeWeights(weights []*big.Int) ([]*big.Int, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("no weights")
	}

	// An exact equal split avoids a last weight under the 1% minimum.
	if len(weights) == MaxWeightedTokens {
		out := make([]*big.Int, MaxWeightedTokens)
		for i := range out {
			out[i] = new(big.Int).Div(One, big.NewInt(MaxWeightedTokens))
		}
		return out, nil
	}

	sum := new(big.Int)
	for i, w := range weights {
		if w == nil || w.Sign() <= 0 {
			return nil, fmt.Errorf("weight %d must be positive", i)
		}
		sum.Add(sum, w)
	}
	if sum.Cmp(One) == 0 {
		return weights, nil
	}

	out := make([]*big.Int, len(weights))
	normalizedSum := new(big.Int)
	for i, w := range weights {
		if i == len(weights)-1 {
			out[i] = new(big.Int).Sub(One, normalizedSum)
			break
		}
		out[i] = new(big.Int).Div(new(big.Int).Mul(w, One), sum)
		normalizedSum.Add(normalizedSum, out[i])
	}
	return out, nil
}

// SortedAscending reports whether addresses are strictly ascending, the order pool
// factories require.
func SortedAscending(addresses []common.Address) bool {
	for i := 1; i < len(addresses); i++ {
		if bytes.Compare(addresses[i-1].Bytes(), addresses[i].Bytes()) >= 0 {
			return false
		}
	}
	return true
}
