package contracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"poolctl/internal/chain"
)

// Call packs a view method, runs eth_call at the latest block and unpacks the outputs.
func Call(ctx context.Context, caller chain.Caller, to common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	return CallAt(ctx, caller, to, parsed, nil, method, args...)
}

// CallAt is Call pinned to a block. A nil block means latest.
func CallAt(ctx context.Context, caller chain.Caller, to common.Address, parsed abi.ABI, block *big.Int, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &to, Data: data}
	resp, err := caller.CallContract(ctx, msg, block)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// CallFrom is Call with an explicit sender, for methods that depend on msg.sender.
func CallFrom(ctx context.Context, caller chain.Caller, from, to common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	resp, err := caller.CallContract(ctx, ethereum.CallMsg{From: from, To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// NewCall packs a state-changing method into a transaction.
func NewCall(to common.Address, parsed abi.ABI, method, label string, args ...interface{}) (chain.Call, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return chain.Call{}, fmt.Errorf("pack %s: %w", method, err)
	}
	if label == "" {
		label = method
	}
	return chain.Call{To: &to, Data: data, Label: label}, nil
}

// ConstructorArgs ABI-encodes constructor arguments, as explorers expect them
// for verification.
func ConstructorArgs(parsed abi.ABI, args ...interface{}) ([]byte, error) {
	encoded, err := parsed.Pack("", args...)
	if err != nil {
		return nil, fmt.Errorf("pack constructor: %w", err)
	}
	return encoded, nil
}

// DeployData appends ABI-encoded constructor arguments to contract bytecode.
func DeployData(parsed abi.ABI, bytecode []byte, args ...interface{}) ([]byte, error) {
	encoded, err := ConstructorArgs(parsed, args...)
	if err != nil {
		return nil, err
	}
	data := make([]byte, 0, len(bytecode)+len(encoded))
	data = append(data, bytecode...)
	return append(data, encoded...), nil
}
