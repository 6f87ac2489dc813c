package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "poolctl",
		Short:        "Deploy and operate AMM pool contracts",
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file path")
	flags.String("network", "fantom", "network name from the registry")
	flags.String("rpc", "", "JSON-RPC URL")
	flags.String("etherscan-api-key", "", "block explorer API key, enables source verification")
	flags.String("explorer-url", "", "explorer API URL (default: the network's)")
	flags.String("pg-dsn", "", "Postgres DSN; records and the tx journal use Postgres when set")
	flags.String("tasks-dir", "./tasks", "deployment tasks directory")
	flags.String("registry", "", "network registry YAML (default: built in)")
	flags.String("journal", "./data/txs.jsonl", "tx journal JSONL path")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		newTaskCmd(),
		newPoolCmd(),
		newOpsCmd(),
		newRecordsCmd(),
		newTokensCmd(),
	)
	return root
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
