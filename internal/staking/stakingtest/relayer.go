package stakingtest

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"poolctl/internal/chain/chaintest"
	"poolctl/internal/contracts"
	"poolctl/internal/relayer"
)

// Relayer is a mock batch relayer entrypoint with its library. Library calls run
// inside multicall with the caller's address as sender and the relayer's address
// as the emitting contract, the way a delegatecall would.
type Relayer struct {
	*chaintest.Dispatcher

	Address        common.Address
	LibraryAddress common.Address

	vault     *chaintest.Vault
	reliquary *Reliquary
	library   *chaintest.Dispatcher
	refs      map[string]*big.Int
	active    map[string]*big.Int
}

// NewRelayer registers the entrypoint at addr and its library at libraryAddr.
func NewRelayer(b *chaintest.Backend, vault *chaintest.Vault, reliquary *Reliquary, addr, libraryAddr common.Address) *Relayer {
	libraryABI := contracts.Must(contracts.BatchRelayerLibraryABI())
	r := &Relayer{
		Dispatcher:     chaintest.NewDispatcher(contracts.Must(contracts.RelayerABI())),
		Address:        addr,
		LibraryAddress: libraryAddr,
		vault:          vault,
		reliquary:      reliquary,
		library:        chaintest.NewDispatcher(libraryABI),
		refs:           make(map[string]*big.Int),
	}

	r.Handle("multicall", r.multicall)
	r.Handle("getLibrary", func(msg chaintest.Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
		return []interface{}{r.LibraryAddress}, nil, nil
	})
	r.Handle("getVault", func(msg chaintest.Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
		return []interface{}{r.vault.Address}, nil, nil
	})

	r.library.Handle("reliquaryCreateRelicAndDeposit", r.createRelicAndDeposit)
	r.library.Handle("reliquaryDeposit", r.deposit)
	r.library.Handle("reliquaryWithdrawAndHarvest", r.withdrawAndHarvest)
	r.library.Handle("reliquaryHarvestAll", r.harvestAll)
	r.library.Handle("setChainedReferenceValue", func(msg chaintest.Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
		r.write(args[0].(*big.Int), args[1].(*big.Int))
		return nil, nil, nil
	})
	r.library.Handle("getChainedReferenceValue", func(msg chaintest.Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
		value := r.read(args[0].(*big.Int))
		log, err := contracts.EncodeLog(libraryABI, r.Address, "ChainedReferenceValueRead", value)
		if err != nil {
			return nil, nil, err
		}
		return []interface{}{value}, []*types.Log{log}, nil
	})

	entrypoint := chaintest.NewDispatcher(libraryABI)
	entrypoint.Handle("getEntrypoint", func(msg chaintest.Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
		return []interface{}{r.Address}, nil, nil
	})

	b.Register(addr, r)
	b.Register(libraryAddr, entrypoint)
	return r
}

func (r *Relayer) multicall(msg chaintest.Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
	calls := args[0].([][]byte)

	// Dry runs work on a copy so reads of temporary references stay repeatable.
	r.active = r.refs
	if msg.DryRun {
		r.active = make(map[string]*big.Int, len(r.refs))
		for k, v := range r.refs {
			r.active[k] = v
		}
	}
	defer func() { r.active = nil }()

	results := make([][]byte, 0, len(calls))
	var logs []*types.Log
	for _, data := range calls {
		inner := msg
		inner.Data = data
		res, err := r.library.Execute(inner)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, res.Return)
		logs = append(logs, res.Logs...)
	}
	return []interface{}{results}, logs, nil
}

func (r *Relayer) createRelicAndDeposit(msg chaintest.Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
	sender, recipient, token := args[0].(common.Address), args[1].(common.Address), args[2].(common.Address)
	pid, amount, outputRef := args[3].(*big.Int), r.resolve(args[4].(*big.Int)), args[5].(*big.Int)

	if err := r.checkSender(msg, sender); err != nil {
		return nil, nil, err
	}
	poolToken, err := r.reliquary.PoolToken(pid)
	if err != nil {
		return nil, nil, err
	}
	if poolToken != token {
		return nil, nil, chaintest.Revert("Incorrect token for pid")
	}

	_, logs, err := r.reliquary.createRelicAndDeposit(msg, recipient, pid, amount, r.pullThroughVault(msg, sender))
	if err != nil {
		return nil, nil, err
	}
	r.output(outputRef, amount)
	return nil, logs, nil
}

func (r *Relayer) deposit(msg chaintest.Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
	sender, token := args[0].(common.Address), args[1].(common.Address)
	relicID, amount, outputRef := args[2].(*big.Int), r.resolve(args[3].(*big.Int)), args[4].(*big.Int)

	if err := r.checkSender(msg, sender); err != nil {
		return nil, nil, err
	}
	poolToken, err := r.reliquary.RelicPoolToken(relicID)
	if err != nil {
		return nil, nil, err
	}
	if poolToken != token {
		return nil, nil, chaintest.Revert("Incorrect token for pid")
	}

	logs, err := r.reliquary.deposit(msg, r.Address, relicID, amount, r.pullThroughVault(msg, sender))
	if err != nil {
		return nil, nil, err
	}
	r.output(outputRef, amount)
	return nil, logs, nil
}

func (r *Relayer) withdrawAndHarvest(msg chaintest.Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
	recipient, relicID := args[0].(common.Address), args[1].(*big.Int)
	amount, outputRef := r.resolve(args[2].(*big.Int)), args[3].(*big.Int)

	if err := r.checkOwner(msg, relicID); err != nil {
		return nil, nil, err
	}
	logs, err := r.reliquary.withdrawAndHarvest(msg, r.Address, relicID, amount, recipient)
	if err != nil {
		return nil, nil, err
	}
	r.output(outputRef, amount)
	return nil, logs, nil
}

func (r *Relayer) harvestAll(msg chaintest.Msg, args []interface{}) ([]interface{}, []*types.Log, error) {
	relicIDs, recipient := args[0].([]*big.Int), args[1].(common.Address)

	for _, id := range relicIDs {
		if err := r.checkOwner(msg, id); err != nil {
			return nil, nil, err
		}
	}
	var logs []*types.Log
	for _, id := range relicIDs {
		harvested, err := r.reliquary.harvest(msg, r.Address, id, recipient)
		if err != nil {
			return nil, nil, err
		}
		logs = append(logs, harvested...)
	}
	return nil, logs, nil
}

// pullThroughVault funds a reliquary deposit from sender's tokens using the
// relayer's vault approval.
func (r *Relayer) pullThroughVault(msg chaintest.Msg, sender common.Address) funder {
	return func(token *chaintest.Token, amount *big.Int) ([]*types.Log, error) {
		log, err := r.vault.Pull(msg, r.Address, token.Address, sender, r.reliquary.Address, amount)
		if err != nil {
			return nil, err
		}
		return chaintest.Logs(log), nil
	}
}

func (r *Relayer) checkSender(msg chaintest.Msg, sender common.Address) error {
	if sender != msg.From && sender != r.Address {
		return chaintest.Revert("Incorrect sender")
	}
	return nil
}

func (r *Relayer) checkOwner(msg chaintest.Msg, relicID *big.Int) error {
	owner, err := r.reliquary.OwnerOf(relicID)
	if err != nil {
		return err
	}
	if owner != msg.From {
		return chaintest.Revert("Sender not owner of relic")
	}
	return nil
}

func (r *Relayer) resolve(amount *big.Int) *big.Int {
	if relayer.IsChainedReference(amount) {
		return r.read(amount)
	}
	return amount
}

func (r *Relayer) output(ref, value *big.Int) {
	if relayer.IsChainedReference(ref) {
		r.write(ref, value)
	}
}

func (r *Relayer) read(ref *big.Int) *big.Int {
	key := ref.Text(16)
	value, ok := r.active[key]
	if !ok {
		return new(big.Int)
	}
	if relayer.IsTemporary(ref) {
		delete(r.active, key)
	}
	return new(big.Int).Set(value)
}

func (r *Relayer) write(ref, value *big.Int) {
	r.active[ref.Text(16)] = new(big.Int).Set(value)
}
