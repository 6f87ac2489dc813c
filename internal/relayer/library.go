package relayer

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"poolctl/internal/chain"
	"poolctl/internal/contracts"
)

// Library encodes batch relayer library calls for use inside a multicall.
type Library struct {
	parsed abi.ABI
}

func NewLibrary() (*Library, error) {
	parsed, err := contracts.BatchRelayerLibraryABI()
	if err != nil {
		return nil, fmt.Errorf("parse relayer library abi: %w", err)
	}
	return &Library{parsed: parsed}, nil
}

// ABI returns the parsed library ABI.
func (l *Library) ABI() abi.ABI {
	return l.parsed
}

func (l *Library) pack(method string, args ...interface{}) ([]byte, error) {
	data, err := l.parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	return data, nil
}

// CreateRelicAndDeposit pulls amount of token from sender and deposits it into a
// new relic in pool pid owned by recipient. amount may be a chained reference.
func (l *Library) CreateRelicAndDeposit(sender, recipient, token common.Address, pid, amount, outputRef *big.Int) ([]byte, error) {
	return l.pack("reliquaryCreateRelicAndDeposit", sender, recipient, token, pid, amount, refOrZero(outputRef))
}

// Deposit adds amount of token from sender to an existing relic.
func (l *Library) Deposit(sender, token common.Address, relicID, amount, outputRef *big.Int) ([]byte, error) {
	return l.pack("reliquaryDeposit", sender, token, relicID, amount, refOrZero(outputRef))
}

// WithdrawAndHarvest withdraws amount from a relic the caller owns and sends the
// tokens and pending rewards to recipient.
func (l *Library) WithdrawAndHarvest(recipient common.Address, relicID, amount, outputRef *big.Int) ([]byte, error) {
	return l.pack("reliquaryWithdrawAndHarvest", recipient, relicID, amount, refOrZero(outputRef))
}

// HarvestAll harvests every listed relic to recipient.
func (l *Library) HarvestAll(relicIDs []*big.Int, recipient common.Address) ([]byte, error) {
	return l.pack("reliquaryHarvestAll", relicIDs, recipient)
}

func (l *Library) SetChainedReferenceValue(ref, value *big.Int) ([]byte, error) {
	return l.pack("setChainedReferenceValue", ref, value)
}

func (l *Library) GetChainedReferenceValue(ref *big.Int) ([]byte, error) {
	return l.pack("getChainedReferenceValue", ref)
}

// Entrypoint returns the relayer deployed by a library at construction.
func (l *Library) Entrypoint(ctx context.Context, caller chain.Caller, library common.Address) (common.Address, error) {
	values, err := contracts.Call(ctx, caller, library, l.parsed, "getEntrypoint")
	if err != nil {
		return common.Address{}, err
	}
	return contracts.AsAddress(values[0])
}

func refOrZero(ref *big.Int) *big.Int {
	if ref == nil {
		return new(big.Int)
	}
	return ref
}
