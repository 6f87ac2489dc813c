package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

const defaultGasBufferPercent = 20

// Call is a single state-changing transaction. A nil To deploys Data as init code.
type Call struct {
	To    *common.Address
	Data  []byte
	Value *big.Int
	Label string
}

// Sender submits a call and blocks until its receipt is available.
type Sender interface {
	From() common.Address
	Send(ctx context.Context, call Call) (*types.Receipt, error)
}

// RevertedError reports a mined transaction with a failed status.
type RevertedError struct {
	Label  string
	TxHash common.Hash
}

func (e *RevertedError) Error() string {
	return fmt.Sprintf("%s: transaction %s reverted", e.Label, e.TxHash.Hex())
}

// Transactor signs legacy transactions with a local key.
type Transactor struct {
	backend          Backend
	key              *ecdsa.PrivateKey
	from             common.Address
	signer           types.Signer
	gasBufferPercent uint64
	logger           *zap.Logger
}

// ParsePrivateKey decodes a hex private key, with or without 0x prefix.
func ParsePrivateKey(input string) (*ecdsa.PrivateKey, error) {
	input = strings.TrimPrefix(strings.TrimSpace(input), "0x")
	if input == "" {
		return nil, fmt.Errorf("private key is required")
	}
	key, err := crypto.HexToECDSA(input)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

// NewTransactor builds a Transactor bound to the backend's chain id.
func NewTransactor(ctx context.Context, backend Backend, key *ecdsa.PrivateKey, logger *zap.Logger) (*Transactor, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is nil")
	}
	if key == nil {
		return nil, fmt.Errorf("private key is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("get chain id: %w", err)
	}

	return &Transactor{
		backend:          backend,
		key:              key,
		from:             crypto.PubkeyToAddress(key.PublicKey),
		signer:           types.LatestSignerForChainID(chainID),
		gasBufferPercent: defaultGasBufferPercent,
		logger:           logger,
	}, nil
}

// From returns the signing address.
func (t *Transactor) From() common.Address {
	return t.from
}

// Send signs and broadcasts the call, then waits for it to be mined.
func (t *Transactor) Send(ctx context.Context, call Call) (*types.Receipt, error) {
	tx, err := t.submit(ctx, call)
	if err != nil {
		return nil, err
	}

	t.logger.Info("tx submitted",
		zap.String("label", call.Label),
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.Uint64("nonce", tx.Nonce()),
	)

	receipt, err := bind.WaitMined(ctx, t.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("%s: wait mined: %w", call.Label, err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return receipt, &RevertedError{Label: call.Label, TxHash: tx.Hash()}
	}

	t.logger.Info("tx mined",
		zap.String("label", call.Label),
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.Uint64("block_number", receipt.BlockNumber.Uint64()),
		zap.Uint64("gas_used", receipt.GasUsed),
	)
	return receipt, nil
}

// Deploy sends init code through sender and returns the created contract address.
func Deploy(ctx context.Context, sender Sender, initCode []byte, label string) (common.Address, *types.Receipt, error) {
	receipt, err := sender.Send(ctx, Call{Data: initCode, Label: label})
	if err != nil {
		return common.Address{}, receipt, err
	}
	if receipt.ContractAddress == (common.Address{}) {
		return common.Address{}, receipt, fmt.Errorf("%s: receipt has no contract address", label)
	}
	return receipt.ContractAddress, receipt, nil
}

func (t *Transactor) submit(ctx context.Context, call Call) (*types.Transaction, error) {
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := t.backend.PendingNonceAt(ctx, t.from)
	if err != nil {
		return nil, fmt.Errorf("%s: pending nonce: %w", call.Label, err)
	}

	gasPrice, err := t.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: suggest gas price: %w", call.Label, err)
	}

	gas, err := t.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  t.from,
		To:    call.To,
		Data:  call.Data,
		Value: value,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", call.Label, err)
	}
	gas += gas * t.gasBufferPercent / 100

	var tx *types.Transaction
	if call.To == nil {
		tx = types.NewContractCreation(nonce, value, gas, gasPrice, call.Data)
	} else {
		tx = types.NewTransaction(nonce, *call.To, value, gas, gasPrice, call.Data)
	}

	signed, err := types.SignTx(tx, t.signer, t.key)
	if err != nil {
		return nil, fmt.Errorf("%s: sign: %w", call.Label, err)
	}

	if err := t.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("%s: send: %w", call.Label, err)
	}
	return signed, nil
}

var _ Sender = (*Transactor)(nil)
