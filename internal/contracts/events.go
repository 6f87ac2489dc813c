package contracts

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Event is a decoded log. Fields holds indexed and non-indexed arguments by name.
type Event struct {
	Name    string
	Address common.Address
	Fields  map[string]interface{}
	Log     *types.Log
}

// DecodeLog decodes a log as the named event of the ABI.
func DecodeLog(parsed abi.ABI, name string, log *types.Log) (Event, error) {
	event, ok := parsed.Events[name]
	if !ok {
		return Event{}, fmt.Errorf("event %s not in abi", name)
	}
	if len(log.Topics) == 0 || log.Topics[0] != event.ID {
		return Event{}, fmt.Errorf("log is not %s", name)
	}

	indexed := indexedArguments(event.Inputs)
	if len(log.Topics) != len(indexed)+1 {
		return Event{}, fmt.Errorf("%s: expected %d topics, got %d", name, len(indexed)+1, len(log.Topics))
	}

	fields := make(map[string]interface{}, len(event.Inputs))
	if err := abi.ParseTopicsIntoMap(fields, indexed, log.Topics[1:]); err != nil {
		return Event{}, fmt.Errorf("parse topics %s: %w", name, err)
	}
	if len(log.Data) > 0 {
		if err := event.Inputs.NonIndexed().UnpackIntoMap(fields, log.Data); err != nil {
			return Event{}, fmt.Errorf("unpack %s: %w", name, err)
		}
	}

	return Event{Name: name, Address: log.Address, Fields: fields, Log: log}, nil
}

// FindEvents returns every log in logs that matches the named event.
func FindEvents(logs []*types.Log, parsed abi.ABI, name string) ([]Event, error) {
	event, ok := parsed.Events[name]
	if !ok {
		return nil, fmt.Errorf("event %s not in abi", name)
	}

	var out []Event
	for _, log := range logs {
		if len(log.Topics) == 0 || log.Topics[0] != event.ID {
			continue
		}
		decoded, err := DecodeLog(parsed, name, log)
		if err != nil {
			return nil, err
		}
		out = append(out, decoded)
	}
	return out, nil
}

// FindEvent returns the first log of the receipt matching the named event.
func FindEvent(receipt *types.Receipt, parsed abi.ABI, name string) (Event, error) {
	if receipt == nil {
		return Event{}, fmt.Errorf("receipt is nil")
	}
	events, err := FindEvents(receipt.Logs, parsed, name)
	if err != nil {
		return Event{}, err
	}
	if len(events) == 0 {
		return Event{}, fmt.Errorf("event %s not found in tx %s", name, receipt.TxHash.Hex())
	}
	return events[0], nil
}

// EncodeLog builds a log for the named event. Indexed values go to topics in order.
func EncodeLog(parsed abi.ABI, address common.Address, name string, args ...interface{}) (*types.Log, error) {
	event, ok := parsed.Events[name]
	if !ok {
		return nil, fmt.Errorf("event %s not in abi", name)
	}
	if len(args) != len(event.Inputs) {
		return nil, fmt.Errorf("%s: expected %d args, got %d", name, len(event.Inputs), len(args))
	}

	topics := []common.Hash{event.ID}
	var data []interface{}
	for i, input := range event.Inputs {
		if !input.Indexed {
			data = append(data, args[i])
			continue
		}
		encoded, err := abi.Arguments{{Type: input.Type}}.Pack(args[i])
		if err != nil {
			return nil, fmt.Errorf("pack topic %s: %w", input.Name, err)
		}
		topics = append(topics, common.BytesToHash(encoded))
	}

	packed, err := event.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", name, err)
	}
	return &types.Log{Address: address, Topics: topics, Data: packed}, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}
