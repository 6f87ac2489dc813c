package stakingtest

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"poolctl/internal/chain/chaintest"
)

var basisPoints = big.NewInt(10_000)

// Rewarder pays a second token alongside emissions: multiplier basis points of
// every harvested emission amount.
type Rewarder struct {
	Address common.Address

	multiplier *big.Int
	token      *chaintest.Token
}

// NewRewarder attaches a rewarder to the reliquary. It only runs as a callback,
// so it is not registered on the backend.
func NewRewarder(r *Reliquary, addr common.Address, multiplierBps int64, token *chaintest.Token) *Rewarder {
	rw := &Rewarder{Address: addr, multiplier: big.NewInt(multiplierBps), token: token}
	r.rewarders[addr] = rw
	return rw
}

func (rw *Rewarder) onReward(msg chaintest.Msg, emission *big.Int, to common.Address) (*types.Log, error) {
	amount := new(big.Int).Div(new(big.Int).Mul(emission, rw.multiplier), basisPoints)
	if amount.Sign() == 0 {
		return nil, nil
	}
	return rw.token.Move(msg, rw.Address, to, amount)
}
