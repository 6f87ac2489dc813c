// Package relayer builds and submits batch relayer multicalls.
package relayer

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"poolctl/internal/chain"
	"poolctl/internal/contracts"
)

// Relayer wraps a deployed batch relayer entrypoint.
type Relayer struct {
	caller  chain.Caller
	address common.Address
	parsed  abi.ABI
	library *Library
}

func NewRelayer(caller chain.Caller, address common.Address) (*Relayer, error) {
	parsed, err := contracts.RelayerABI()
	if err != nil {
		return nil, fmt.Errorf("parse relayer abi: %w", err)
	}
	library, err := NewLibrary()
	if err != nil {
		return nil, err
	}
	return &Relayer{caller: caller, address: address, parsed: parsed, library: library}, nil
}

func (r *Relayer) Address() common.Address {
	return r.address
}

// Encoder returns the library call encoder.
func (r *Relayer) Encoder() *Library {
	return r.library
}

// MulticallCall packs encoded library calls into one relayer transaction.
func (r *Relayer) MulticallCall(label string, calls ...[]byte) (chain.Call, error) {
	if len(calls) == 0 {
		return chain.Call{}, fmt.Errorf("multicall needs at least one call")
	}
	if label == "" {
		label = fmt.Sprintf("multicall(%d)", len(calls))
	}
	return contracts.NewCall(r.address, r.parsed, "multicall", label, calls)
}

// Multicall submits the calls and waits for the receipt.
func (r *Relayer) Multicall(ctx context.Context, sender chain.Sender, label string, calls ...[]byte) (*types.Receipt, error) {
	call, err := r.MulticallCall(label, calls...)
	if err != nil {
		return nil, err
	}
	return sender.Send(ctx, call)
}

// LibraryAddress returns the library the relayer delegates to.
func (r *Relayer) LibraryAddress(ctx context.Context) (common.Address, error) {
	values, err := contracts.Call(ctx, r.caller, r.address, r.parsed, "getLibrary")
	if err != nil {
		return common.Address{}, err
	}
	return contracts.AsAddress(values[0])
}

func (r *Relayer) Vault(ctx context.Context) (common.Address, error) {
	values, err := contracts.Call(ctx, r.caller, r.address, r.parsed, "getVault")
	if err != nil {
		return common.Address{}, err
	}
	return contracts.AsAddress(values[0])
}

// PeekChainedReference reads a reference through an eth_call multicall, so a
// temporary reference is not consumed.
func (r *Relayer) PeekChainedReference(ctx context.Context, from common.Address, ref *big.Int) (*big.Int, error) {
	inner, err := r.library.GetChainedReferenceValue(ref)
	if err != nil {
		return nil, err
	}
	data, err := r.parsed.Pack("multicall", [][]byte{inner})
	if err != nil {
		return nil, fmt.Errorf("pack multicall: %w", err)
	}
	resp, err := r.caller.CallContract(ctx, ethereum.CallMsg{From: from, To: &r.address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call multicall: %w", err)
	}
	values, err := r.parsed.Unpack("multicall", resp)
	if err != nil {
		return nil, fmt.Errorf("unpack multicall: %w", err)
	}
	results, ok := values[0].([][]byte)
	if !ok || len(results) != 1 {
		return nil, fmt.Errorf("unexpected multicall result %T", values[0])
	}
	out, err := r.library.parsed.Unpack("getChainedReferenceValue", results[0])
	if err != nil {
		return nil, fmt.Errorf("unpack getChainedReferenceValue: %w", err)
	}
	return contracts.AsBigInt(out[0])
}

// ChainedReferenceReads returns the values of every ChainedReferenceValueRead
// event in the receipt, in log order.
func ChainedReferenceReads(receipt *types.Receipt) ([]*big.Int, error) {
	if receipt == nil {
		return nil, fmt.Errorf("receipt is nil")
	}
	parsed, err := contracts.BatchRelayerLibraryABI()
	if err != nil {
		return nil, err
	}
	events, err := contracts.FindEvents(receipt.Logs, parsed, "ChainedReferenceValueRead")
	if err != nil {
		return nil, err
	}
	out := make([]*big.Int, 0, len(events))
	for _, event := range events {
		value, err := contracts.AsBigInt(event.Fields["value"])
		if err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, nil
}
