// Package chaintest provides an in-memory chain.Backend whose contracts are Go mocks.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"poolctl/internal/chain"
)

const (
	DefaultChainID   = 31337
	genesisTimestamp = 1_700_000_000
	callGas          = 150_000
	deployGas        = 1_500_000
)

// Msg is the execution context handed to a mock contract.
type Msg struct {
	From        common.Address
	To          common.Address
	Data        []byte
	Value       *big.Int
	Time        uint64
	BlockNumber uint64
	// DryRun is set for eth_call and gas estimation. Mocks must not mutate state.
	DryRun bool
	// Register installs a contract created during execution. Nil on dry runs.
	Register func(addr common.Address, contract Contract)
}

// Result is what a mock returns from a successful execution.
type Result struct {
	Return []byte
	Logs   []*types.Log
}

// Contract is a mock contract.
type Contract interface {
	Execute(msg Msg) (Result, error)
}

// RevertError mirrors the node error for a reverted call.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	return "execution reverted: " + e.Reason
}

// Revert returns a RevertError with the given reason.
func Revert(format string, args ...interface{}) error {
	return &RevertError{Reason: fmt.Sprintf(format, args...)}
}

// DeployHook is called for contract creations; a non-nil Contract is registered
// at the created address.
type DeployHook func(addr common.Address, from common.Address, initCode []byte) Contract

// Backend is an in-memory chain. Every transaction is mined in its own block,
// one second after the previous one, unless automine is disabled.
type Backend struct {
	mu sync.Mutex

	chainID   *big.Int
	signer    types.Signer
	number    uint64
	time      uint64
	automine  bool
	headers   map[uint64]*types.Header
	contracts map[common.Address]Contract
	code      map[common.Address][]byte
	nonces    map[common.Address]uint64
	receipts  map[common.Hash]*types.Receipt
	pending   []*types.Transaction

	OnDeploy DeployHook
}

// New returns a backend at block 0.
func New() *Backend {
	chainID := big.NewInt(DefaultChainID)
	b := &Backend{
		chainID:   chainID,
		signer:    types.LatestSignerForChainID(chainID),
		time:      genesisTimestamp,
		automine:  true,
		headers:   make(map[uint64]*types.Header),
		contracts: make(map[common.Address]Contract),
		code:      make(map[common.Address][]byte),
		nonces:    make(map[common.Address]uint64),
		receipts:  make(map[common.Hash]*types.Receipt),
	}
	b.headers[0] = b.header(0, b.time)
	return b
}

// Register installs a mock at an address.
func (b *Backend) Register(addr common.Address, contract Contract) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registerLocked(addr, contract)
}

// DeployedCode returns the init code sent to create addr.
func (b *Backend) DeployedCode(addr common.Address) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	code, ok := b.code[addr]
	return code, ok
}

// Time returns the latest block timestamp.
func (b *Backend) Time() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.time
}

// BlockTimestamp returns the timestamp of a mined block.
func (b *Backend) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	header, ok := b.headers[number]
	if !ok {
		return 0, ethereum.NotFound
	}
	return header.Time, nil
}

// BlockNumber returns the latest block number.
func (b *Backend) BlockNumber() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.number
}

// SetAutomine toggles mining a block per transaction. With automine off,
// transactions queue until AdvanceBlock.
func (b *Backend) SetAutomine(ctx context.Context, enabled bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.automine = enabled
	return nil
}

// AdvanceTime moves the clock forward and mines a block at the new time.
func (b *Backend) AdvanceTime(ctx context.Context, seconds uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if seconds > 0 {
		b.time += seconds - 1
	}
	b.mineLocked()
	return nil
}

// AdvanceBlock mines a block, including any queued transactions.
func (b *Backend) AdvanceBlock(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mineLocked()
	return nil
}

func (b *Backend) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.chainID), nil
}

func (b *Backend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.number
	if number != nil {
		n = number.Uint64()
	}
	header, ok := b.headers[n]
	if !ok {
		return nil, ethereum.NotFound
	}
	return types.CopyHeader(header), nil
}

func (b *Backend) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.code[account], nil
}

func (b *Backend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if msg.To == nil {
		return nil, fmt.Errorf("call without destination")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	contract, ok := b.contracts[*msg.To]
	if !ok {
		return nil, nil
	}
	res, err := contract.Execute(b.msgLocked(msg.From, *msg.To, msg.Data, msg.Value, b.time, b.number, true))
	if err != nil {
		return nil, err
	}
	return res.Return, nil
}

func (b *Backend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonces[account], nil
}

func (b *Backend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *Backend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if msg.To == nil {
		return deployGas, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	contract, ok := b.contracts[*msg.To]
	if !ok {
		return 21_000, nil
	}
	_, err := contract.Execute(b.msgLocked(msg.From, *msg.To, msg.Data, msg.Value, b.time+1, b.number+1, true))
	if err != nil {
		return 0, err
	}
	return callGas, nil
}

func (b *Backend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	from, err := types.Sender(b.signer, tx)
	if err != nil {
		return fmt.Errorf("recover sender: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if want := b.nonces[from]; tx.Nonce() != want {
		return fmt.Errorf("nonce too low: have %d want %d", tx.Nonce(), want)
	}
	b.nonces[from]++
	b.pending = append(b.pending, tx)
	if b.automine {
		b.mineLocked()
	}
	return nil
}

func (b *Backend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	receipt, ok := b.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (b *Backend) mineLocked() {
	b.number++
	b.time++
	b.headers[b.number] = b.header(b.number, b.time)

	var logIndex uint
	for i, tx := range b.pending {
		receipt := b.applyLocked(tx, uint(i))
		for _, l := range receipt.Logs {
			l.Index = logIndex
			logIndex++
		}
		b.receipts[tx.Hash()] = receipt
	}
	b.pending = nil
}

func (b *Backend) applyLocked(tx *types.Transaction, index uint) *types.Receipt {
	from, _ := types.Sender(b.signer, tx)
	receipt := &types.Receipt{
		Type:             tx.Type(),
		Status:           types.ReceiptStatusSuccessful,
		TxHash:           tx.Hash(),
		GasUsed:          callGas,
		BlockNumber:      new(big.Int).SetUint64(b.number),
		TransactionIndex: index,
		Logs:             []*types.Log{},
	}

	if tx.To() == nil {
		addr := crypto.CreateAddress(from, tx.Nonce())
		receipt.ContractAddress = addr
		receipt.GasUsed = deployGas
		b.code[addr] = tx.Data()
		if b.OnDeploy != nil {
			if contract := b.OnDeploy(addr, from, tx.Data()); contract != nil {
				b.contracts[addr] = contract
			}
		}
		return receipt
	}

	contract, ok := b.contracts[*tx.To()]
	if !ok {
		receipt.GasUsed = 21_000
		return receipt
	}
	res, err := contract.Execute(b.msgLocked(from, *tx.To(), tx.Data(), tx.Value(), b.time, b.number, false))
	if err != nil {
		receipt.Status = types.ReceiptStatusFailed
		return receipt
	}
	for _, l := range res.Logs {
		l.TxHash = tx.Hash()
		l.TxIndex = index
		l.BlockNumber = b.number
		receipt.Logs = append(receipt.Logs, l)
	}
	return receipt
}

func (b *Backend) msgLocked(from, to common.Address, data []byte, value *big.Int, ts, number uint64, dry bool) Msg {
	if value == nil {
		value = new(big.Int)
	}
	msg := Msg{
		From:        from,
		To:          to,
		Data:        common.CopyBytes(data),
		Value:       value,
		Time:        ts,
		BlockNumber: number,
		DryRun:      dry,
	}
	if !dry {
		msg.Register = b.registerLocked
	}
	return msg
}

func (b *Backend) registerLocked(addr common.Address, contract Contract) {
	b.contracts[addr] = contract
	if _, ok := b.code[addr]; !ok {
		b.code[addr] = []byte{0x60, 0x00}
	}
}

func (b *Backend) header(number, ts uint64) *types.Header {
	return &types.Header{
		Number:     new(big.Int).SetUint64(number),
		Time:       ts,
		Difficulty: new(big.Int),
		GasLimit:   30_000_000,
	}
}

// IsRevert reports whether err carries a revert with the given reason.
func IsRevert(err error, reason string) bool {
	var revert *RevertError
	if errors.As(err, &revert) {
		return revert.Reason == reason
	}
	return false
}

var (
	_ chain.Backend = (*Backend)(nil)
	_ chain.Clock   = (*Backend)(nil)
)
