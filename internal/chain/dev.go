package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// Development-node controls (hardhat / anvil JSON-RPC extensions).

// AdvanceBlock mines a single block.
func (c *Client) AdvanceBlock(ctx context.Context) error {
	return c.rpcClient.CallContext(ctx, nil, "evm_mine")
}

// SetAutomine toggles mining a block per transaction.
func (c *Client) SetAutomine(ctx context.Context, enabled bool) error {
	return c.rpcClient.CallContext(ctx, nil, "evm_setAutomine", enabled)
}

// AdvanceTime moves the next block timestamp forward and mines it.
func (c *Client) AdvanceTime(ctx context.Context, seconds uint64) error {
	if err := c.rpcClient.CallContext(ctx, nil, "evm_increaseTime", seconds); err != nil {
		return fmt.Errorf("increase time: %w", err)
	}
	return c.AdvanceBlock(ctx)
}

// Impersonate unlocks an account so the node signs its transactions.
func (c *Client) Impersonate(ctx context.Context, account common.Address) error {
	return c.rpcClient.CallContext(ctx, nil, "hardhat_impersonateAccount", account)
}

// SetBalance overwrites the native balance of an account.
func (c *Client) SetBalance(ctx context.Context, account common.Address, wei *big.Int) error {
	return c.rpcClient.CallContext(ctx, nil, "hardhat_setBalance", account, (*hexutil.Big)(wei))
}

// ResetFork re-forks the node from an archive RPC at a pinned block.
func (c *Client) ResetFork(ctx context.Context, forkURL string, blockNumber uint64) error {
	params := map[string]interface{}{
		"forking": map[string]interface{}{
			"jsonRpcUrl":  forkURL,
			"blockNumber": blockNumber,
		},
	}
	return c.rpcClient.CallContext(ctx, nil, "hardhat_reset", params)
}

// Snapshot records the node state and returns its id.
func (c *Client) Snapshot(ctx context.Context) (string, error) {
	var id string
	err := c.rpcClient.CallContext(ctx, &id, "evm_snapshot")
	return id, err
}

// Revert restores a snapshot taken with Snapshot.
func (c *Client) Revert(ctx context.Context, id string) error {
	var ok bool
	if err := c.rpcClient.CallContext(ctx, &ok, "evm_revert", id); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("snapshot %s not reverted", id)
	}
	return nil
}

// Accounts returns the node's unlocked accounts.
func (c *Client) Accounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	err := c.rpcClient.CallContext(ctx, &accounts, "eth_accounts")
	return accounts, err
}

// NodeSender submits transactions through eth_sendTransaction, letting the node
// sign for an unlocked or impersonated account.
type NodeSender struct {
	client       *Client
	from         common.Address
	pollInterval time.Duration
}

// NewNodeSender returns a Sender for an account the node can sign for.
func NewNodeSender(client *Client, from common.Address) *NodeSender {
	return &NodeSender{client: client, from: from, pollInterval: 200 * time.Millisecond}
}

func (s *NodeSender) From() common.Address {
	return s.from
}

func (s *NodeSender) Send(ctx context.Context, call Call) (*types.Receipt, error) {
	args := map[string]interface{}{
		"from": s.from,
		"data": hexutil.Bytes(call.Data),
	}
	if call.To != nil {
		args["to"] = *call.To
	}
	if call.Value != nil {
		args["value"] = (*hexutil.Big)(call.Value)
	}

	var hash common.Hash
	if err := s.client.rpcClient.CallContext(ctx, &hash, "eth_sendTransaction", args); err != nil {
		return nil, fmt.Errorf("%s: %w", call.Label, err)
	}

	receipt, err := s.waitReceipt(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("%s: wait mined: %w", call.Label, err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return receipt, &RevertedError{Label: call.Label, TxHash: hash}
	}
	return receipt, nil
}

func (s *NodeSender) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

var (
	_ Sender = (*NodeSender)(nil)
	_ Clock  = (*Client)(nil)
)
