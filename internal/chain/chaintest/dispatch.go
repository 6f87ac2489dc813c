package chaintest

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/core/types"
)

// Handler implements one mocked method. args are the unpacked inputs; the returned
// values are packed as the method outputs.
type Handler func(msg Msg, args []interface{}) ([]interface{}, []*types.Log, error)

// Dispatcher routes calldata to handlers by selector across one or more ABIs.
type Dispatcher struct {
	abis     []abi.ABI
	handlers map[string]Handler
}

func NewDispatcher(abis ...abi.ABI) *Dispatcher {
	return &Dispatcher{abis: abis, handlers: make(map[string]Handler)}
}

// AddABI extends the selectors the dispatcher recognises.
func (d *Dispatcher) AddABI(parsed abi.ABI) *Dispatcher {
	d.abis = append(d.abis, parsed)
	return d
}

// Handle registers a handler for a method name.
func (d *Dispatcher) Handle(method string, h Handler) *Dispatcher {
	d.handlers[method] = h
	return d
}

func (d *Dispatcher) Execute(msg Msg) (Result, error) {
	if len(msg.Data) < 4 {
		return Result{}, Revert("fallback not supported")
	}

	var method *abi.Method
	for _, parsed := range d.abis {
		if m, err := parsed.MethodById(msg.Data[:4]); err == nil {
			method = m
			break
		}
	}
	if method == nil {
		return Result{}, Revert("unknown selector %x", msg.Data[:4])
	}

	h, ok := d.handlers[method.Name]
	if !ok {
		return Result{}, Revert("%s not implemented", method.Name)
	}

	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return Result{}, Revert("bad calldata for %s", method.Name)
	}

	out, logs, err := h(msg, args)
	if err != nil {
		return Result{}, err
	}
	ret, err := method.Outputs.Pack(out...)
	if err != nil {
		return Result{}, err
	}
	return Result{Return: ret, Logs: logs}, nil
}
