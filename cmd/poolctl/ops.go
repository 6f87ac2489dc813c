package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"poolctl/internal/model"
	"poolctl/internal/ops"
)

var scriptUsage = map[string]string{
	ops.ScriptUnwrapSwap: "Withdraw from a Yearn vault and swap the main token back in, in a loop",
	ops.ScriptSwap:       "Run one single swap through the Vault",
	ops.ScriptJoin:       "Approve tokens and join a pool",
	ops.ScriptRebalance:  "Rebalance a linear pool through its asset manager",
	ops.ScriptWrap:       "Wrap main tokens with the manual rebalancer",
	ops.ScriptUnwrap:     "Unwrap wrapped tokens with the manual rebalancer",
}

func newOpsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ops",
		Short: "Run operational scripts against deployed pools",
	}
	for _, kind := range []string{ops.ScriptUnwrapSwap, ops.ScriptSwap, ops.ScriptJoin, ops.ScriptRebalance, ops.ScriptWrap, ops.ScriptUnwrap} {
		cmd.AddCommand(newScriptCmd(kind))
	}
	return cmd
}

func newScriptCmd(kind string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   kind + " <script.yaml>",
		Short: scriptUsage[kind],
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			iterations, _ := cmd.Flags().GetInt("iterations")
			return runWith(cmd, func(ctx context.Context, a *app) error {
				return runScript(ctx, a, kind, args[0], iterations)
			})
		},
	}
	cmd.Flags().Int("iterations", 0, "override the script's iteration count")
	return cmd
}

func runScript(ctx context.Context, a *app, kind, path string, iterations int) error {
	script, err := ops.LoadScriptAs(path, kind)
	if err != nil {
		return err
	}
	if iterations < 0 {
		return fmt.Errorf("iterations must not be negative")
	}
	if iterations > 0 {
		script.Iterations = iterations
	}

	sender, err := a.sender(ctx)
	if err != nil {
		return err
	}
	plan, err := script.Plan(ctx, ops.Env{Network: a.network, Caller: a.client, Store: a.store})
	if err != nil {
		return err
	}

	a.logger.Info("script start",
		zap.String("script", plan.Name),
		zap.Int("iterations", plan.Iterations),
		zap.Int("steps", len(plan.Steps)),
		zap.String("from", sender.From().Hex()),
	)
	runner := ops.NewRunner(sender, a.journal, a.network.ChainID, a.logger)
	txs, runErr := runner.Run(ctx, plan)
	a.printTxs(txs)
	return runErr
}

func (a *app) printTxs(txs []model.TxRecord) {
	if len(txs) == 0 {
		return
	}
	table := a.table("Iteration", "Step", "Tx", "Block", "Gas", "Status")
	for _, tx := range txs {
		status := "ok"
		if !tx.Succeeded() {
			status = "reverted"
		}
		table.Append([]string{
			fmt.Sprint(tx.Iteration),
			tx.Step,
			tx.TxHash,
			fmt.Sprint(tx.BlockNumber),
			fmt.Sprint(tx.GasUsed),
			status,
		})
	}
	table.Render()
}
