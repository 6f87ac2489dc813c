// Package task runs deployment tasks: each task deploys a fixed set of contracts
// from its input, verifies them and records their addresses per network.
package task

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"poolctl/internal/chain"
	"poolctl/internal/contracts"
	"poolctl/internal/model"
	"poolctl/internal/records"
	"poolctl/internal/registry"
	"poolctl/internal/verify"
)

// Mode controls where a task's records go.
type Mode string

const (
	// ModeLive persists records to the store.
	ModeLive Mode = "live"
	// ModeTest keeps records in memory on top of the store.
	ModeTest Mode = "test"
	// ModeReadOnly rejects deployments and saves.
	ModeReadOnly Mode = "read-only"
)

// ParseMode accepts the mode names used on the command line.
func ParseMode(value string) (Mode, error) {
	switch Mode(value) {
	case ModeLive, ModeTest, ModeReadOnly:
		return Mode(value), nil
	case "":
		return ModeLive, nil
	default:
		return "", fmt.Errorf("unknown task mode %q", value)
	}
}

// ContractVerifier submits deployed sources to an explorer.
type ContractVerifier interface {
	Verify(ctx context.Context, req verify.Request) error
}

// Config holds the dependencies shared by every task in a run.
type Config struct {
	Root     string
	Network  *registry.Network
	Mode     Mode
	Store    records.Store
	Caller   chain.Caller
	Sender   chain.Sender
	Verifier ContractVerifier
	Logger   *zap.Logger
}

// Task is one deployment task bound to a network.
type Task struct {
	ID      string
	Network string
	Mode    Mode

	dir      string
	def      Definition
	network  *registry.Network
	store    records.Store
	caller   chain.Caller
	sender   chain.Sender
	verifier ContractVerifier
	logger   *zap.Logger
	now      func() time.Time
}

// New binds a catalog task to a network. In test mode the store is wrapped in
// an in-memory overlay.
func New(id string, cfg Config) (*Task, error) {
	def, err := Lookup(id)
	if err != nil {
		return nil, err
	}
	if cfg.Network == nil {
		return nil, fmt.Errorf("task %s: network is required", id)
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("task %s: record store is required", id)
	}
	mode := cfg.Mode
	if mode == "" {
		mode = ModeLive
	}
	if def.ReadOnly {
		mode = ModeReadOnly
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	root := cfg.Root
	if root == "" {
		root = "tasks"
	}

	store := cfg.Store
	if mode == ModeTest {
		store = records.NewOverlay(store)
	}

	return &Task{
		ID:       id,
		Network:  cfg.Network.Name,
		Mode:     mode,
		dir:      filepath.Join(root, id),
		def:      def,
		network:  cfg.Network,
		store:    store,
		caller:   cfg.Caller,
		sender:   cfg.Sender,
		verifier: cfg.Verifier,
		logger:   logger.With(zap.String("task", id), zap.String("network", cfg.Network.Name)),
		now:      time.Now,
	}, nil
}

// Store returns the store the task reads and writes, the overlay in test mode.
func (t *Task) Store() records.Store {
	return t.store
}

// Run executes the task. Contracts that already have a record are not
// redeployed unless force is set.
func (t *Task) Run(ctx context.Context, force bool) error {
	t.logger.Info("task started", zap.String("mode", string(t.Mode)), zap.Bool("force", force))
	if err := t.def.Run(ctx, t, force); err != nil {
		return fmt.Errorf("task %s on %s: %w", t.ID, t.Network, err)
	}
	t.logger.Info("task complete")
	return nil
}

// Input decodes the task input for the network and resolves its address fields.
func (t *Task) Input(ctx context.Context) (Input, error) {
	in := t.def.NewInput()
	if _, ok := in.(*NoInput); ok {
		return in, nil
	}
	if err := decodeInput(t.dir, t.Network, in); err != nil {
		return nil, err
	}

	var errs error
	refs := in.refs()
	for _, name := range sortedRefNames(refs) {
		ref := refs[name]
		addr, err := t.resolve(ctx, ref.Raw)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		ref.Address = addr
	}
	if errs != nil {
		return nil, fmt.Errorf("task %s input: %w", t.ID, errs)
	}
	return in, nil
}

func (t *Task) resolve(ctx context.Context, raw string) (common.Address, error) {
	if addr, err := t.network.Contract(raw); err == nil {
		return addr, nil
	}
	return records.ResolveAddress(ctx, t.store, t.Network, raw)
}

// DeployedAddress returns the recorded address of a contract of this task.
func (t *Task) DeployedAddress(ctx context.Context, contract string) (common.Address, bool, error) {
	rec, ok, err := t.store.Get(ctx, t.Network, t.ID, contract)
	if err != nil || !ok {
		return common.Address{}, ok, err
	}
	addr, err := registry.ParseAddress(rec.Address)
	if err != nil {
		return common.Address{}, false, fmt.Errorf("record %s/%s: %w", t.ID, contract, err)
	}
	return addr, true, nil
}

// Output returns every recorded contract of this task on its network.
func (t *Task) Output(ctx context.Context) (map[string]common.Address, error) {
	recs, err := t.store.List(ctx, t.Network, t.ID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]common.Address, len(recs))
	for _, rec := range recs {
		addr, err := registry.ParseAddress(rec.Address)
		if err != nil {
			return nil, fmt.Errorf("record %s/%s: %w", t.ID, rec.ContractName, err)
		}
		out[rec.ContractName] = addr
	}
	return out, nil
}

// DeployAndVerify deploys contract with the given constructor arguments unless a
// record for it exists. Verification failures are logged and do not fail the task.
func (t *Task) DeployAndVerify(ctx context.Context, contract string, args []interface{}, force bool) (common.Address, error) {
	if t.Mode == ModeReadOnly {
		return common.Address{}, fmt.Errorf("deploy %s: task is read-only", contract)
	}
	if !force {
		addr, ok, err := t.DeployedAddress(ctx, contract)
		if err != nil {
			return common.Address{}, err
		}
		if ok {
			t.logger.Info("contract already deployed", zap.String("contract", contract), zap.String("address", addr.Hex()))
			return addr, nil
		}
	}
	if t.sender == nil {
		return common.Address{}, fmt.Errorf("deploy %s: no sender configured", contract)
	}

	artifact, err := loadArtifact(t.dir, contract)
	if err != nil {
		return common.Address{}, err
	}
	initCode, err := contracts.DeployData(artifact.ABI, artifact.Bytecode, args...)
	if err != nil {
		return common.Address{}, fmt.Errorf("deploy %s: %w", contract, err)
	}

	addr, receipt, err := chain.Deploy(ctx, t.sender, initCode, "deploy "+contract)
	if err != nil {
		return common.Address{}, err
	}
	t.logger.Info("contract deployed",
		zap.String("contract", contract),
		zap.String("address", addr.Hex()),
		zap.String("tx_hash", receipt.TxHash.Hex()),
	)

	t.Verify(ctx, contract, addr, args)

	rec := t.record(contract, addr)
	rec.TxHash = receipt.TxHash.Hex()
	if receipt.BlockNumber != nil {
		rec.BlockNumber = receipt.BlockNumber.Uint64()
		if at, ok := t.blockTime(ctx, rec.BlockNumber); ok {
			rec.DeployedAt = at.UTC().Format(time.RFC3339)
		}
	}
	if err := t.store.Put(ctx, rec); err != nil {
		return addr, fmt.Errorf("save %s: %w", contract, err)
	}
	return addr, nil
}

// blockTimer dates mined blocks.
type blockTimer interface {
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
}

// blockTime returns the timestamp of a block when the caller can date it.
func (t *Task) blockTime(ctx context.Context, number uint64) (time.Time, bool) {
	bt, ok := t.caller.(blockTimer)
	if !ok {
		return time.Time{}, false
	}
	ts, err := bt.BlockTimestamp(ctx, number)
	if err != nil {
		t.logger.Debug("block timestamp unavailable", zap.Uint64("block", number), zap.Error(err))
		return time.Time{}, false
	}
	return time.Unix(int64(ts), 0), true
}

// Verify submits the source of a deployed contract. It never fails the task.
func (t *Task) Verify(ctx context.Context, contract string, addr common.Address, args []interface{}) {
	if t.verifier == nil {
		t.logger.Info("verification skipped", zap.String("contract", contract), zap.String("address", addr.Hex()))
		return
	}
	err := t.verify(ctx, contract, addr, args)
	if err != nil {
		t.logger.Warn("verification failed", zap.String("contract", contract), zap.String("address", addr.Hex()), zap.Error(err))
	}
}

func (t *Task) verify(ctx context.Context, contract string, addr common.Address, args []interface{}) error {
	artifact, err := loadArtifact(t.dir, contract)
	if err != nil {
		return err
	}
	ctorArgs, err := artifact.ABI.Pack("", args...)
	if err != nil {
		return fmt.Errorf("pack constructor: %w", err)
	}
	info, err := verify.LoadBuildInfo(filepath.Join(t.dir, "build-info", contract+".json"))
	if err != nil {
		return err
	}
	return t.verifier.Verify(ctx, verify.Request{
		Address:         addr,
		ContractName:    contract,
		BuildInfo:       info,
		ConstructorArgs: ctorArgs,
	})
}

// Save records addresses deployed outside DeployAndVerify.
func (t *Task) Save(ctx context.Context, deployed map[string]common.Address) error {
	if t.Mode == ModeReadOnly {
		return fmt.Errorf("save: task is read-only")
	}
	var errs error
	for contract, addr := range deployed {
		errs = multierr.Append(errs, t.store.Put(ctx, t.record(contract, addr)))
	}
	return errs
}

func (t *Task) record(contract string, addr common.Address) model.DeployedContractRecord {
	return model.DeployedContractRecord{
		Network:      t.Network,
		TaskID:       t.ID,
		ContractName: contract,
		Address:      addr.Hex(),
		DeployedAt:   t.now().UTC().Format(time.RFC3339),
	}
}
