package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"poolctl/internal/chain"
	"poolctl/internal/task"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Run and inspect deployment tasks",
	}

	runCmd := &cobra.Command{
		Use:   "run <task-id>",
		Short: "Run a deployment task on the selected network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWith(cmd, func(ctx context.Context, a *app) error {
				return runTask(ctx, cmd, a, args[0])
			})
		},
	}
	runCmd.Flags().Bool("force", false, "redeploy contracts that already have records")
	runCmd.Flags().String("mode", string(task.ModeLive), "task mode (live, test, read-only)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List known tasks and their recorded contracts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWith(cmd, listTasks)
		},
	}

	cmd.AddCommand(runCmd, listCmd)
	return cmd
}

func runTask(ctx context.Context, cmd *cobra.Command, a *app, id string) error {
	force, _ := cmd.Flags().GetBool("force")
	modeFlag, _ := cmd.Flags().GetString("mode")
	mode, err := task.ParseMode(modeFlag)
	if err != nil {
		return err
	}
	def, err := task.Lookup(id)
	if err != nil {
		return err
	}

	client, err := a.connect(ctx)
	if err != nil {
		return err
	}
	var sender chain.Sender
	if mode != task.ModeReadOnly && !def.ReadOnly {
		if sender, err = a.sender(ctx); err != nil {
			return err
		}
	}
	verifier, err := a.verifier()
	if err != nil {
		return err
	}
	defer a.logVerifyStats(verifier)

	tk, err := task.New(id, task.Config{
		Root:     a.cfg.TasksDir,
		Network:  a.network,
		Mode:     mode,
		Store:    a.store,
		Caller:   client,
		Sender:   sender,
		Verifier: verifier,
		Logger:   a.logger,
	})
	if err != nil {
		return err
	}
	if err := tk.Run(ctx, force); err != nil {
		return err
	}

	output, err := tk.Output(ctx)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(output))
	for name := range output {
		names = append(names, name)
	}
	sort.Strings(names)

	table := a.table("Contract", "Address")
	for _, name := range names {
		table.Append([]string{name, output[name].Hex()})
	}
	table.Render()
	return nil
}

func listTasks(ctx context.Context, a *app) error {
	table := a.table("Task", "Mode", "Contracts on "+a.network.Name)
	for _, id := range task.IDs() {
		def, err := task.Lookup(id)
		if err != nil {
			return err
		}
		recs, err := a.store.List(ctx, a.network.Name, id)
		if err != nil {
			return fmt.Errorf("list %s: %w", id, err)
		}
		names := make([]string, 0, len(recs))
		for _, rec := range recs {
			names = append(names, rec.ContractName)
		}
		mode := "deploy"
		if def.ReadOnly {
			mode = string(task.ModeReadOnly)
		}
		table.Append([]string{id, mode, strings.Join(names, ", ")})
	}
	table.Render()
	return nil
}
