package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"poolctl/internal/chain"
	"poolctl/internal/config"
	"poolctl/internal/records"
	"poolctl/internal/records/postgres"
	"poolctl/internal/registry"
	"poolctl/internal/storage"
	"poolctl/internal/task"
	"poolctl/internal/verify"
)

// app holds what one command invocation shares: config, logger, the selected
// network and its record store.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	network *registry.Network
	store   records.Store
	journal storage.Journal
	client  *chain.Client
	out     io.Writer

	closers []func()
}

// runWith loads the app, runs fn under a signal-aware context, and logs the
// returned error before handing it to cobra.
func runWith(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if err := fn(ctx, a); err != nil {
		a.logger.Error("command failed", zap.String("command", cmd.CommandPath()), zap.Error(err))
		return err
	}
	return nil
}

func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, out: cmd.OutOrStdout()}
	a.closers = append(a.closers, func() { _ = logger.Sync() })

	reg, err := loadRegistry(cfg.RegistryFile)
	if err != nil {
		a.close()
		return nil, err
	}
	if a.network, err = reg.Network(cfg.Network); err != nil {
		a.close()
		return nil, err
	}

	if cfg.PGDSN != "" {
		pg, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		if err := pg.EnsureSchema(ctx); err != nil {
			a.close()
			return nil, err
		}
		a.store, a.journal = pg, pg
	} else {
		a.store = records.NewFileStore(cfg.TasksDir)
		a.journal = storage.NewJsonlJournal(cfg.Journal)
	}

	return a, nil
}

func loadRegistry(path string) (*registry.Registry, error) {
	if path == "" {
		return registry.Default()
	}
	return registry.LoadFile(path)
}

// connect dials the RPC endpoint and checks it serves the selected network.
func (a *app) connect(ctx context.Context) (*chain.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	if err := a.cfg.RequireRPC(); err != nil {
		return nil, err
	}
	client, err := chain.NewClient(ctx, a.cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}
	a.closers = append(a.closers, client.Close)

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("get chain id: %w", err)
	}
	if chainID.Uint64() != a.network.ChainID {
		return nil, fmt.Errorf("rpc serves chain %s, network %s is chain %d", chainID, a.network.Name, a.network.ChainID)
	}
	a.client = client
	return client, nil
}

// sender returns a transactor signing with the configured key.
func (a *app) sender(ctx context.Context) (*chain.Transactor, error) {
	client, err := a.connect(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.cfg.RequireKey(); err != nil {
		return nil, err
	}
	key, err := chain.ParsePrivateKey(a.cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	transactor, err := chain.NewTransactor(ctx, client, key, a.logger)
	if err != nil {
		return nil, err
	}
	a.logger.Info("sender ready", zap.String("from", transactor.From().Hex()), zap.String("network", a.network.Name))
	return transactor, nil
}

// verifier returns nil when no explorer key is configured.
func (a *app) verifier() (task.ContractVerifier, error) {
	if a.cfg.EtherscanAPIKey == "" {
		return nil, nil
	}
	url := a.cfg.ExplorerURL
	if url == "" {
		url = a.network.ExplorerAPI
	}
	v, err := verify.NewVerifier(a.cfg.EtherscanAPIKey, url, a.logger)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// logVerifyStats reports what a verifier did during the command.
func (a *app) logVerifyStats(v task.ContractVerifier) {
	counter, ok := v.(interface{ Stats() (int, int, int) })
	if !ok {
		return
	}
	verified, skipped, failed := counter.Stats()
	a.logger.Info("verification summary",
		zap.String("network", a.network.Name),
		zap.Int("verified", verified),
		zap.Int("already_verified", skipped),
		zap.Int("failed", failed),
	)
}

func (a *app) table(header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(a.out)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
	table.SetCenterSeparator("|")
	return table
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
