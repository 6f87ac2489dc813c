package task

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"poolctl/internal/contracts"
	"poolctl/internal/relayer"
)

// Definition is one entry of the task catalog.
type Definition struct {
	ID       string
	ReadOnly bool
	NewInput func() Input
	Run      func(ctx context.Context, t *Task, force bool) error
}

// The Tarot factory predates versioned inputs; its versions are fixed.
const (
	tarotFactoryVersion = "2"
	tarotPoolVersion    = "2"
)

var catalog = map[string]Definition{}

func register(def Definition) {
	catalog[def.ID] = def
}

func init() {
	register(Definition{
		ID:       "20210418-vault",
		ReadOnly: true,
		NewInput: func() Input { return &NoInput{} },
		Run:      runVault,
	})
	register(Definition{
		ID:       "20221027-reaper-manual-rebalancer",
		NewInput: func() Input { return &ReaperManualRebalancerInput{} },
		Run: func(ctx context.Context, t *Task, force bool) error {
			in, err := inputAs[*ReaperManualRebalancerInput](ctx, t)
			if err != nil {
				return err
			}
			_, err = t.DeployAndVerify(ctx, "ReaperManualRebalancer", []interface{}{in.Vault.Address}, force)
			return err
		},
	})
	register(versionedLinearPool("20221114-yearn-linear-pool", "YearnLinearPoolFactory"))
	register(legacyLinearPool("20221205-boo-linear-pool-v2", "BooLinearPoolFactory", nil))
	register(legacyLinearPool("20221205-tarot-linear-pool", "TarotLinearPoolFactory", []interface{}{tarotFactoryVersion, tarotPoolVersion}))
	register(Definition{
		ID:       "20230320-weighted-pool-v4",
		NewInput: func() Input { return &WeightedPoolFactoryInput{} },
		Run: func(ctx context.Context, t *Task, force bool) error {
			in, err := inputAs[*WeightedPoolFactoryInput](ctx, t)
			if err != nil {
				return err
			}
			args := []interface{}{
				in.Vault.Address,
				in.ProtocolFeePercentagesProvider.Address,
				in.FactoryVersion,
				in.PoolVersion,
				new(big.Int).SetUint64(in.InitialPauseWindowDuration),
				new(big.Int).SetUint64(in.BufferPeriodDuration),
			}
			_, err = t.DeployAndVerify(ctx, "WeightedPoolFactory", args, force)
			return err
		},
	})
	register(Definition{
		ID:       "20230327-batch-relayer-v5",
		NewInput: func() Input { return &BatchRelayerInput{} },
		Run:      runBatchRelayer,
	})
	register(Definition{
		ID:       "20230327-pool-specific-protocol-fee-provider",
		NewInput: func() Input { return &FeeProviderInput{} },
		Run: func(ctx context.Context, t *Task, force bool) error {
			in, err := inputAs[*FeeProviderInput](ctx, t)
			if err != nil {
				return err
			}
			maxYield, maxAUM := in.maxValues()
			_, err = t.DeployAndVerify(ctx, "PoolSpecificProtocolFeePercentagesProvider", []interface{}{in.Vault.Address, maxYield, maxAUM}, force)
			return err
		},
	})
	register(Definition{
		ID:       "20230406-balancer-pool-manager",
		NewInput: func() Input { return &PoolManagerInput{} },
		Run: func(ctx context.Context, t *Task, force bool) error {
			in, err := inputAs[*PoolManagerInput](ctx, t)
			if err != nil {
				return err
			}
			_, err = t.DeployAndVerify(ctx, "BalancerPoolManager", []interface{}{in.Owner.Address}, force)
			return err
		},
	})
	register(versionedLinearPool("20230424-midas-linear-pool", "MidasLinearPoolFactory"))
}

// Lookup returns the catalog entry for a task id.
func Lookup(id string) (Definition, error) {
	def, ok := catalog[id]
	if !ok {
		return Definition{}, fmt.Errorf("unknown task %q (known: %s)", id, strings.Join(IDs(), ", "))
	}
	return def, nil
}

// IDs lists the catalog in chronological order.
func IDs() []string {
	ids := make([]string, 0, len(catalog))
	for id := range catalog {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func inputAs[T Input](ctx context.Context, t *Task) (T, error) {
	var zero T
	in, err := t.Input(ctx)
	if err != nil {
		return zero, err
	}
	typed, ok := in.(T)
	if !ok {
		return zero, fmt.Errorf("task %s: unexpected input type %T", t.ID, in)
	}
	return typed, nil
}

func versionedLinearPool(id, factory string) Definition {
	return Definition{
		ID:       id,
		NewInput: func() Input { return &LinearPoolFactoryInput{} },
		Run: func(ctx context.Context, t *Task, force bool) error {
			in, err := inputAs[*LinearPoolFactoryInput](ctx, t)
			if err != nil {
				return err
			}
			args := []interface{}{
				in.Vault.Address,
				in.ProtocolFeePercentagesProvider.Address,
				in.BalancerQueries.Address,
				in.FactoryVersion,
				in.PoolVersion,
				new(big.Int).SetUint64(in.InitialPauseWindowDuration),
				new(big.Int).SetUint64(in.BufferPeriodDuration),
			}
			_, err = t.DeployAndVerify(ctx, factory, args, force)
			return err
		},
	}
}

func legacyLinearPool(id, factory string, extra []interface{}) Definition {
	return Definition{
		ID:       id,
		NewInput: func() Input { return &LegacyLinearPoolFactoryInput{} },
		Run: func(ctx context.Context, t *Task, force bool) error {
			in, err := inputAs[*LegacyLinearPoolFactoryInput](ctx, t)
			if err != nil {
				return err
			}
			args := append([]interface{}{
				in.Vault.Address,
				in.ProtocolFeePercentagesProvider.Address,
				in.BalancerQueries.Address,
			}, extra...)
			_, err = t.DeployAndVerify(ctx, factory, args, force)
			return err
		},
	}
}

// runVault checks the recorded Vault. The Vault is never redeployed.
func runVault(ctx context.Context, t *Task, _ bool) error {
	addr, ok, err := t.DeployedAddress(ctx, "Vault")
	if err != nil {
		return err
	}
	if !ok {
		if addr, err = t.network.Contract("Vault"); err != nil {
			return fmt.Errorf("no Vault recorded for %s", t.Network)
		}
	}
	if t.caller == nil {
		return fmt.Errorf("no chain connection")
	}
	vault, err := contracts.NewVault(t.caller, addr)
	if err != nil {
		return err
	}
	authorizer, err := vault.Authorizer(ctx)
	if err != nil {
		return fmt.Errorf("vault %s: %w", addr.Hex(), err)
	}
	collector, err := vault.ProtocolFeesCollector(ctx)
	if err != nil {
		return fmt.Errorf("vault %s: %w", addr.Hex(), err)
	}
	t.logger.Info("vault",
		zap.String("address", addr.Hex()),
		zap.String("authorizer", authorizer.Hex()),
		zap.String("protocol_fees_collector", collector.Hex()),
	)
	return nil
}

// runBatchRelayer deploys the relayer library, which creates the relayer
// entrypoint in its constructor, then verifies and records the entrypoint.
func runBatchRelayer(ctx context.Context, t *Task, force bool) error {
	in, err := inputAs[*BatchRelayerInput](ctx, t)
	if err != nil {
		return err
	}
	libraryArgs := []interface{}{
		in.Vault.Address,
		in.MasterChef.Address,
		in.XBoo.Address,
		in.FBeets.Address,
		in.Reliquary.Address,
	}
	library, err := t.DeployAndVerify(ctx, "BatchRelayerLibrary", libraryArgs, force)
	if err != nil {
		return err
	}
	if t.caller == nil {
		return fmt.Errorf("no chain connection")
	}

	encoder, err := relayer.NewLibrary()
	if err != nil {
		return err
	}
	entrypoint, err := encoder.Entrypoint(ctx, t.caller, library)
	if err != nil {
		return fmt.Errorf("relayer entrypoint: %w", err)
	}
	if entrypoint == (common.Address{}) {
		return fmt.Errorf("library %s has no entrypoint", library.Hex())
	}

	t.Verify(ctx, "BalancerRelayer", entrypoint, []interface{}{in.Vault.Address, library})
	return t.Save(ctx, map[string]common.Address{"BalancerRelayer": entrypoint})
}
