package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"poolctl/internal/config"
	"poolctl/internal/contracts"
	"poolctl/internal/numbers"
	"poolctl/internal/records"
	"poolctl/internal/registry"
)

func newRecordsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Inspect deployment records",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded contracts on the selected network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			taskID, _ := cmd.Flags().GetString("task")
			return runWith(cmd, func(ctx context.Context, a *app) error {
				return listRecords(ctx, a, taskID)
			})
		},
	}
	listCmd.Flags().String("task", "", "only list records of this task")

	cmd.AddCommand(listCmd)
	return cmd
}

func listRecords(ctx context.Context, a *app, taskID string) error {
	recs, err := a.store.List(ctx, a.network.Name, taskID)
	if err != nil {
		return err
	}
	table := a.table("Task", "Contract", "Address", "Block", "Deployed at")
	for _, rec := range recs {
		block := "-"
		if rec.BlockNumber > 0 {
			block = fmt.Sprint(rec.BlockNumber)
		}
		table.Append([]string{rec.TaskID, rec.ContractName, rec.Address, block, rec.DeployedAt})
	}
	table.Render()
	a.logger.Debug("records listed", zap.String("network", a.network.Name), zap.Int("count", len(recs)))
	return nil
}

func newTokensCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Inspect the token registry",
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Compare registry decimals and symbols with the chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			holder, _ := cmd.Flags().GetString("holder")
			symbols, _ := cmd.Flags().GetStringSlice("symbols")
			return runWith(cmd, func(ctx context.Context, a *app) error {
				return checkTokens(ctx, a, holder, config.SplitList(symbols))
			})
		},
	}
	checkCmd.Flags().String("holder", "", "also show balances of this address or task:<id>/<Contract>")
	checkCmd.Flags().StringSlice("symbols", nil, "only check these registry symbols")

	cmd.AddCommand(checkCmd)
	return cmd
}

func checkTokens(ctx context.Context, a *app, holder string, symbols []string) error {
	tokens, err := selectTokens(a.network, symbols)
	if err != nil {
		return err
	}
	client, err := a.connect(ctx)
	if err != nil {
		return err
	}

	header := []string{"Symbol", "Address", "Decimals", "On-chain symbol", "Status"}
	var account common.Address
	if holder != "" {
		if account, err = records.ResolveAddress(ctx, a.store, a.network.Name, holder); err != nil {
			return fmt.Errorf("holder: %w", err)
		}
		header = append(header, "Balance")
	}
	table := a.table(header...)

	mismatched := 0
	for _, token := range tokens {
		row := []string{token.Symbol, token.Address.Hex(), fmt.Sprint(token.Decimals)}
		meta, err := contracts.FetchTokenMeta(ctx, client, token.Address, a.logger)
		switch {
		case err != nil:
			mismatched++
			row = append(row, "-", "error: "+err.Error())
		case meta.Decimals != token.Decimals:
			mismatched++
			row = append(row, meta.Symbol, fmt.Sprintf("decimals %d on chain", meta.Decimals))
		case !strings.EqualFold(meta.Symbol, token.Symbol):
			row = append(row, meta.Symbol, "symbol differs")
		default:
			row = append(row, meta.Symbol, "ok")
		}

		if holder != "" {
			balance := "-"
			if erc20, err := contracts.NewERC20(client, token.Address); err == nil {
				if bal, err := erc20.BalanceOf(ctx, account); err == nil {
					balance = numbers.FormatUnits(bal, token.Decimals)
				}
			}
			row = append(row, balance)
		}
		table.Append(row)
	}
	table.Render()

	if mismatched > 0 {
		return fmt.Errorf("%d of %d %s tokens do not match the chain", mismatched, len(tokens), a.network.Name)
	}
	return nil
}

func selectTokens(network *registry.Network, symbols []string) ([]registry.TokenDescriptor, error) {
	if len(symbols) == 0 {
		return network.Tokens(), nil
	}
	tokens := make([]registry.TokenDescriptor, 0, len(symbols))
	for _, symbol := range symbols {
		token, err := network.Token(symbol)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, nil
}
