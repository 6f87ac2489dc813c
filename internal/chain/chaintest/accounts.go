package chaintest

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"poolctl/internal/chain"
)

// Account is a locally generated key.
type Account struct {
	Key     *ecdsa.PrivateKey
	Address common.Address
}

// NewAccount generates a fresh account.
func NewAccount(t testing.TB) Account {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return Account{Key: key, Address: crypto.PubkeyToAddress(key.PublicKey)}
}

// Transactor returns a chain.Transactor signing for the account.
func (b *Backend) Transactor(t testing.TB, account Account) *chain.Transactor {
	t.Helper()
	tr, err := chain.NewTransactor(context.Background(), b, account.Key, zap.NewNop())
	if err != nil {
		t.Fatalf("new transactor: %v", err)
	}
	return tr
}

// Submit signs and sends a call without waiting for it to be mined. With automine
// disabled, several submissions land in the same block on the next AdvanceBlock.
func (b *Backend) Submit(t testing.TB, account Account, to common.Address, data []byte) common.Hash {
	t.Helper()
	ctx := context.Background()
	nonce, err := b.PendingNonceAt(ctx, account.Address)
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	tx := types.NewTransaction(nonce, to, new(big.Int), callGas, big.NewInt(1_000_000_000), data)
	signed, err := types.SignTx(tx, b.signer, account.Key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := b.SendTransaction(ctx, signed); err != nil {
		t.Fatalf("send: %v", err)
	}
	return signed.Hash()
}
