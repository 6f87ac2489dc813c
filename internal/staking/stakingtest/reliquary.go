// Package stakingtest provides chaintest mocks of the Reliquary, its rewarders and
// the batch relayer that drives them.
package stakingtest

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"poolctl/internal/chain/chaintest"
	"poolctl/internal/contracts"
	"poolctl/internal/staking"
)

var accPrecision = big.NewInt(1e12)

type reliquaryPool struct {
	token       common.Address
	allocPoint  *big.Int
	rewarder    common.Address
	maturities  []*big.Int
	multipliers []*big.Int
	name        string

	accRewardPerShare *big.Int
	lastRewardTime    uint64
	totalShares       *big.Int
}

type relic struct {
	owner        common.Address
	approved     common.Address
	pid          int
	amount       *big.Int
	rewardDebt   *big.Int
	rewardCredit *big.Int
	entry        uint64
	level        int
}

// Reliquary is a mock of the Reliquary staking contract. Emissions accrue
// MasterChef style: each pool receives rate*alloc/totalAlloc per second, split by
// shares, where a relic's shares are its amount times its level multiplier.
type Reliquary struct {
	*chaintest.Dispatcher

	Address common.Address

	emission  *chaintest.Token
	rate      *big.Int
	pools     []*reliquaryPool
	relics    map[uint64]*relic
	owned     map[common.Address][]uint64
	nextID    uint64
	tokens    map[common.Address]*chaintest.Token
	rewarders map[common.Address]*Rewarder
}

// NewReliquary creates a reliquary paying emission at rate per second and
// registers it on the backend. Emissions are paid from the reliquary's own
// emission token balance.
func NewReliquary(b *chaintest.Backend, addr common.Address, emission *chaintest.Token, rate *big.Int) *Reliquary {
	r := &Reliquary{
		Dispatcher: chaintest.NewDispatcher(contracts.Must(contracts.ReliquaryABI())),
		Address:    addr,
		emission:   emission,
		rate:       new(big.Int).Set(rate),
		relics:     make(map[uint64]*relic),
		owned:      make(map[common.Address][]uint64),
		nextID:     1,
		tokens:     make(map[common.Address]*chaintest.Token),
		rewarders:  make(map[common.Address]*Rewarder),
	}

	r.Handle("addPool", r.addPool)
	r.Handle("poolLength", func(msg chaintest.Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
		return []interface{}{big.NewInt(int64(len(r.pools)))}, nil, nil
	})
	r.Handle("createRelicAndDeposit", func(msg chaintest.Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
		to, pid, amount := args[0].(common.Address), args[1].(*big.Int), args[2].(*big.Int)
		id, logs, err := r.createRelicAndDeposit(msg, to, pid, amount, r.pullFrom(msg, msg.From))
		if err != nil {
			return nil, nil, err
		}
		return []interface{}{id}, logs, nil
	})
	r.Handle("deposit", func(msg chaintest.Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
		amount, relicID := args[0].(*big.Int), args[1].(*big.Int)
		logs, err := r.deposit(msg, msg.From, relicID, amount, r.pullFrom(msg, msg.From))
		return nil, logs, err
	})
	r.Handle("withdrawAndHarvest", func(msg chaintest.Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
		amount, relicID, harvestTo := args[0].(*big.Int), args[1].(*big.Int), args[2].(common.Address)
		logs, err := r.withdrawAndHarvest(msg, msg.From, relicID, amount, harvestTo)
		return nil, logs, err
	})
	r.Handle("pendingReward", func(msg chaintest.Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
		rel, err := r.relic(args[0].(*big.Int))
		if err != nil {
			return nil, nil, err
		}
		return []interface{}{r.pending(rel, msg.Time)}, nil, nil
	})
	r.Handle("getPositionForId", func(msg chaintest.Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
		pos := staking.Position{
			Amount: new(big.Int), RewardDebt: new(big.Int), RewardCredit: new(big.Int),
			Entry: new(big.Int), PoolID: new(big.Int), Level: new(big.Int),
		}
		if rel, ok := r.relics[args[0].(*big.Int).Uint64()]; ok {
			pos = staking.Position{
				Amount:       new(big.Int).Set(rel.amount),
				RewardDebt:   new(big.Int).Set(rel.rewardDebt),
				RewardCredit: new(big.Int).Set(rel.rewardCredit),
				Entry:        new(big.Int).SetUint64(rel.entry),
				PoolID:       big.NewInt(int64(rel.pid)),
				Level:        big.NewInt(int64(rel.level)),
			}
		}
		return []interface{}{pos}, nil, nil
	})
	r.Handle("balanceOf", func(msg chaintest.Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
		return []interface{}{big.NewInt(int64(len(r.owned[args[0].(common.Address)])))}, nil, nil
	})
	r.Handle("tokenOfOwnerByIndex", func(msg chaintest.Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
		owner, index := args[0].(common.Address), args[1].(*big.Int)
		ids := r.owned[owner]
		if !index.IsUint64() || index.Uint64() >= uint64(len(ids)) {
			return nil, nil, chaintest.Revert("ERC721Enumerable: owner index out of bounds")
		}
		return []interface{}{new(big.Int).SetUint64(ids[index.Uint64()])}, nil, nil
	})
	r.Handle("ownerOf", func(msg chaintest.Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
		rel, err := r.relic(args[0].(*big.Int))
		if err != nil {
			return nil, nil, err
		}
		return []interface{}{rel.owner}, nil, nil
	})
	r.Handle("approve", func(msg chaintest.Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
		to, relicID := args[0].(common.Address), args[1].(*big.Int)
		rel, err := r.relic(relicID)
		if err != nil {
			return nil, nil, err
		}
		if rel.owner != msg.From {
			return nil, nil, chaintest.Revert("ERC721: approve caller is not token owner")
		}
		if !msg.DryRun {
			rel.approved = to
		}
		return nil, nil, nil
	})

	b.Register(addr, r)
	return r
}

// AddToken lets the reliquary move a pool token mock.
func (r *Reliquary) AddToken(tokens ...*chaintest.Token) {
	for _, t := range tokens {
		r.tokens[t.Address] = t
	}
}

// PoolToken returns the staked token of pid.
func (r *Reliquary) PoolToken(pid *big.Int) (common.Address, error) {
	pool, _, err := r.pool(pid)
	if err != nil {
		return common.Address{}, err
	}
	return pool.token, nil
}

// OwnerOf returns the owner of a relic.
func (r *Reliquary) OwnerOf(relicID *big.Int) (common.Address, error) {
	rel, err := r.relic(relicID)
	if err != nil {
		return common.Address{}, err
	}
	return rel.owner, nil
}

// RelicPoolToken returns the staked token of the pool a relic belongs to.
func (r *Reliquary) RelicPoolToken(relicID *big.Int) (common.Address, error) {
	rel, err := r.relic(relicID)
	if err != nil {
		return common.Address{}, err
	}
	return r.pools[rel.pid].token, nil
}

func (r *Reliquary) addPool(msg chaintest.Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
	alloc, token, rewarder := args[0].(*big.Int), args[1].(common.Address), args[2].(common.Address)
	maturities, multipliers, name := args[3].([]*big.Int), args[4].([]*big.Int), args[5].(string)

	if len(maturities) == 0 || len(maturities) != len(multipliers) {
		return nil, nil, chaintest.Revert("Array length mismatch")
	}
	if maturities[0].Sign() != 0 {
		return nil, nil, chaintest.Revert("Requirement[0] != 0")
	}
	for i := 1; i < len(maturities); i++ {
		if maturities[i].Cmp(maturities[i-1]) <= 0 {
			return nil, nil, chaintest.Revert("Unsorted requirements")
		}
	}
	if _, ok := r.tokens[token]; !ok {
		return nil, nil, chaintest.Revert("unknown pool token")
	}
	if rewarder != (common.Address{}) {
		if _, ok := r.rewarders[rewarder]; !ok {
			return nil, nil, chaintest.Revert("unknown rewarder")
		}
	}
	if msg.DryRun {
		return nil, nil, nil
	}

	r.massUpdate(msg.Time)
	r.pools = append(r.pools, &reliquaryPool{
		token:             token,
		allocPoint:        new(big.Int).Set(alloc),
		rewarder:          rewarder,
		maturities:        maturities,
		multipliers:       multipliers,
		name:              name,
		accRewardPerShare: new(big.Int),
		lastRewardTime:    msg.Time,
		totalShares:       new(big.Int),
	})
	return nil, nil, nil
}

// funder moves amount of the pool token into the reliquary. It must honour DryRun.
type funder func(token *chaintest.Token, amount *big.Int) ([]*types.Log, error)

// pullFrom funds a deposit with an ERC20 transferFrom of the caller's tokens.
func (r *Reliquary) pullFrom(msg chaintest.Msg, from common.Address) funder {
	return func(token *chaintest.Token, amount *big.Int) ([]*types.Log, error) {
		allowance := token.Allowance(from, r.Address)
		if allowance.Cmp(amount) < 0 {
			return nil, chaintest.Revert("ERC20: insufficient allowance")
		}
		log, err := token.Move(msg, from, r.Address, amount)
		if err != nil {
			return nil, err
		}
		if !msg.DryRun {
			token.Approve(from, r.Address, new(big.Int).Sub(allowance, amount))
		}
		return chaintest.Logs(log), nil
	}
}

func (r *Reliquary) createRelicAndDeposit(msg chaintest.Msg, to common.Address, pid, amount *big.Int, fund funder) (*big.Int, []*types.Log, error) {
	pool, index, err := r.pool(pid)
	if err != nil {
		return nil, nil, err
	}
	if amount.Sign() == 0 {
		return nil, nil, chaintest.Revert("Cannot deposit 0 amount")
	}
	logs, err := fund(r.tokens[pool.token], amount)
	if err != nil {
		return nil, nil, err
	}

	id := new(big.Int).SetUint64(r.nextID)
	created, err := contracts.EncodeLog(contracts.Must(contracts.ReliquaryABI()), r.Address, "CreateRelic", pid, to, id)
	if err != nil {
		return nil, nil, err
	}
	logs = append(logs, created)
	if msg.DryRun {
		return id, logs, nil
	}

	r.nextID++
	rel := &relic{
		owner:        to,
		pid:          index,
		amount:       new(big.Int),
		rewardDebt:   new(big.Int),
		rewardCredit: new(big.Int),
		entry:        msg.Time,
	}
	r.relics[id.Uint64()] = rel
	r.owned[to] = append(r.owned[to], id.Uint64())

	r.update(pool, msg.Time)
	r.modify(pool, rel, new(big.Int).Set(amount), msg.Time)
	return id, logs, nil
}

func (r *Reliquary) deposit(msg chaintest.Msg, operator common.Address, relicID, amount *big.Int, fund funder) ([]*types.Log, error) {
	rel, err := r.operable(operator, relicID)
	if err != nil {
		return nil, err
	}
	if amount.Sign() == 0 {
		return nil, chaintest.Revert("Cannot deposit 0 amount")
	}
	pool := r.pools[rel.pid]
	logs, err := fund(r.tokens[pool.token], amount)
	if err != nil {
		return nil, err
	}
	if msg.DryRun {
		return logs, nil
	}

	newAmount := new(big.Int).Add(rel.amount, amount)
	// Entry moves toward now in proportion to the added amount.
	elapsed := new(big.Int).SetUint64(msg.Time - rel.entry)
	shift := new(big.Int).Div(new(big.Int).Mul(elapsed, amount), newAmount)
	rel.entry += shift.Uint64()

	r.update(pool, msg.Time)
	rel.rewardCredit.Add(rel.rewardCredit, r.accrued(pool, rel))
	r.modify(pool, rel, newAmount, msg.Time)
	return logs, nil
}

func (r *Reliquary) withdrawAndHarvest(msg chaintest.Msg, operator common.Address, relicID, amount *big.Int, harvestTo common.Address) ([]*types.Log, error) {
	rel, err := r.operable(operator, relicID)
	if err != nil {
		return nil, err
	}
	if amount.Cmp(rel.amount) > 0 {
		return nil, chaintest.Revert("Withdrawing more than deposited")
	}
	pool := r.pools[rel.pid]

	var logs []*types.Log
	if amount.Sign() > 0 {
		log, err := r.tokens[pool.token].Move(msg, r.Address, harvestTo, amount)
		if err != nil {
			return nil, err
		}
		logs = append(logs, chaintest.Logs(log)...)
	}
	harvested, err := r.payout(msg, rel, harvestTo)
	if err != nil {
		return nil, err
	}
	logs = append(logs, harvested...)
	if msg.DryRun {
		return logs, nil
	}

	r.modify(pool, rel, new(big.Int).Sub(rel.amount, amount), msg.Time)
	return logs, nil
}

func (r *Reliquary) harvest(msg chaintest.Msg, operator common.Address, relicID *big.Int, harvestTo common.Address) ([]*types.Log, error) {
	rel, err := r.operable(operator, relicID)
	if err != nil {
		return nil, err
	}
	logs, err := r.payout(msg, rel, harvestTo)
	if err != nil || msg.DryRun {
		return logs, err
	}
	r.modify(r.pools[rel.pid], rel, rel.amount, msg.Time)
	return logs, nil
}

// payout sends the relic's pending emission, and the pool rewarder's share, to
// harvestTo. On a real run it leaves the pool updated and the credit cleared.
func (r *Reliquary) payout(msg chaintest.Msg, rel *relic, harvestTo common.Address) ([]*types.Log, error) {
	pool := r.pools[rel.pid]
	pending := r.pending(rel, msg.Time)

	var logs []*types.Log
	if pending.Sign() > 0 {
		log, err := r.emission.Move(msg, r.Address, harvestTo, pending)
		if err != nil {
			return nil, err
		}
		logs = append(logs, chaintest.Logs(log)...)
	}
	if rewarder, ok := r.rewarders[pool.rewarder]; ok {
		log, err := rewarder.onReward(msg, pending, harvestTo)
		if err != nil {
			return nil, err
		}
		logs = append(logs, chaintest.Logs(log)...)
	}
	if !msg.DryRun {
		r.update(pool, msg.Time)
		rel.rewardCredit.SetUint64(0)
		rel.rewardDebt = r.debt(pool, rel)
	}
	return logs, nil
}

// modify sets a relic's amount, recomputes its level and shares, and resets its
// reward debt. The pool must be updated to now.
func (r *Reliquary) modify(pool *reliquaryPool, rel *relic, amount *big.Int, now uint64) {
	pool.totalShares.Sub(pool.totalShares, r.shares(pool, rel))
	rel.amount = amount
	rel.level = levelAt(pool, now-rel.entry)
	pool.totalShares.Add(pool.totalShares, r.shares(pool, rel))
	rel.rewardDebt = r.debt(pool, rel)
}

func (r *Reliquary) shares(pool *reliquaryPool, rel *relic) *big.Int {
	return new(big.Int).Mul(rel.amount, pool.multipliers[rel.level])
}

func (r *Reliquary) debt(pool *reliquaryPool, rel *relic) *big.Int {
	return new(big.Int).Div(new(big.Int).Mul(r.shares(pool, rel), pool.accRewardPerShare), accPrecision)
}

// accrued is the reward earned since the last debt reset, at the pool's current
// accumulator.
func (r *Reliquary) accrued(pool *reliquaryPool, rel *relic) *big.Int {
	return new(big.Int).Sub(r.debtAt(pool, rel, pool.accRewardPerShare), rel.rewardDebt)
}

func (r *Reliquary) debtAt(pool *reliquaryPool, rel *relic, acc *big.Int) *big.Int {
	return new(big.Int).Div(new(big.Int).Mul(r.shares(pool, rel), acc), accPrecision)
}

func (r *Reliquary) pending(rel *relic, now uint64) *big.Int {
	pool := r.pools[rel.pid]
	acc := r.accAt(pool, now)
	out := new(big.Int).Sub(r.debtAt(pool, rel, acc), rel.rewardDebt)
	return out.Add(out, rel.rewardCredit)
}

func (r *Reliquary) accAt(pool *reliquaryPool, now uint64) *big.Int {
	acc := new(big.Int).Set(pool.accRewardPerShare)
	if now <= pool.lastRewardTime || pool.totalShares.Sign() == 0 {
		return acc
	}
	totalAlloc := r.totalAlloc()
	if totalAlloc.Sign() == 0 {
		return acc
	}
	reward := new(big.Int).SetUint64(now - pool.lastRewardTime)
	reward.Mul(reward, r.rate)
	reward.Mul(reward, pool.allocPoint)
	reward.Mul(reward, accPrecision)
	reward.Div(reward, new(big.Int).Mul(totalAlloc, pool.totalShares))
	return acc.Add(acc, reward)
}

func (r *Reliquary) update(pool *reliquaryPool, now uint64) {
	pool.accRewardPerShare = r.accAt(pool, now)
	if now > pool.lastRewardTime {
		pool.lastRewardTime = now
	}
}

func (r *Reliquary) massUpdate(now uint64) {
	for _, pool := range r.pools {
		r.update(pool, now)
	}
}

func (r *Reliquary) totalAlloc() *big.Int {
	total := new(big.Int)
	for _, pool := range r.pools {
		total.Add(total, pool.allocPoint)
	}
	return total
}

func levelAt(pool *reliquaryPool, maturity uint64) int {
	level := 0
	for i, required := range pool.maturities {
		if required.Cmp(new(big.Int).SetUint64(maturity)) <= 0 {
			level = i
		}
	}
	return level
}

func (r *Reliquary) pool(pid *big.Int) (*reliquaryPool, int, error) {
	if !pid.IsUint64() || pid.Uint64() >= uint64(len(r.pools)) {
		return nil, 0, chaintest.Revert("invalid pool id")
	}
	return r.pools[pid.Uint64()], int(pid.Uint64()), nil
}

func (r *Reliquary) relic(relicID *big.Int) (*relic, error) {
	if !relicID.IsUint64() {
		return nil, chaintest.Revert("ERC721: invalid token ID")
	}
	rel, ok := r.relics[relicID.Uint64()]
	if !ok {
		return nil, chaintest.Revert("ERC721: invalid token ID")
	}
	return rel, nil
}

func (r *Reliquary) operable(operator common.Address, relicID *big.Int) (*relic, error) {
	rel, err := r.relic(relicID)
	if err != nil {
		return nil, err
	}
	if operator != rel.owner && operator != rel.approved {
		return nil, chaintest.Revert("not owner or approved")
	}
	return rel, nil
}
