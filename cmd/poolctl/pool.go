package main

import (
	"context"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"poolctl/internal/pools"
	"poolctl/internal/verify"
)

// Tasks whose build info covers the pools their factories create.
var poolBuildInfo = map[pools.Kind]struct{ task, contract string }{
	pools.KindWeighted: {task: "20230320-weighted-pool-v4", contract: "WeightedPool"},
}

func newPoolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Create pools through their factories",
	}

	createCmd := &cobra.Command{
		Use:   "create <request.yaml>",
		Short: "Create a weighted or stable pool and seed it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWith(cmd, func(ctx context.Context, a *app) error {
				return createPool(ctx, a, args[0])
			})
		},
	}

	cmd.AddCommand(createCmd)
	return cmd
}

func createPool(ctx context.Context, a *app, path string) error {
	req, err := pools.LoadRequest(path)
	if err != nil {
		return err
	}
	sender, err := a.sender(ctx)
	if err != nil {
		return err
	}

	creator := pools.NewCreator(a.client, sender, a.network, a.store, a.logger)
	verifier, err := a.verifier()
	if err != nil {
		return err
	}
	if verifier != nil {
		defer a.logVerifyStats(verifier)
		infos := make(map[pools.Kind]*verify.BuildInfo)
		for kind, src := range poolBuildInfo {
			info, err := verify.LoadBuildInfo(filepath.Join(a.cfg.TasksDir, src.task, "build-info", src.contract+".json"))
			if err != nil {
				a.logger.Debug("no pool build info", zap.String("kind", string(kind)), zap.Error(err))
				continue
			}
			infos[kind] = info
		}
		creator.WithVerifier(verifier, infos)
	}

	res, err := creator.Create(ctx, req)
	if err != nil {
		return err
	}

	table := a.table("Pool", "Pool ID", "Create tx", "Join tx")
	join := "-"
	if res.JoinTx != ([32]byte{}) {
		join = res.JoinTx.Hex()
	}
	table.Append([]string{res.Pool.Hex(), hexutil.Encode(res.PoolID[:]), res.CreateTx.Hex(), join})
	table.Render()
	return nil
}
