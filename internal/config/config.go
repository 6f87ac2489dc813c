package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	Network         string
	RPCURL          string
	PrivateKey      string
	EtherscanAPIKey string
	ExplorerURL     string
	PGDSN           string
	TasksDir        string
	RegistryFile    string
	Journal         string
	LogLevel        string
}

// Load merges config file, environment variables, and flags into Config.
// Environment variables use the POOLCTL_ prefix.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("POOLCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("network", "fantom")
	v.SetDefault("tasks-dir", "./tasks")
	v.SetDefault("journal", "./data/txs.jsonl")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("poolctl")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		Network:         strings.TrimSpace(v.GetString("network")),
		RPCURL:          v.GetString("rpc"),
		PrivateKey:      v.GetString("private-key"),
		EtherscanAPIKey: v.GetString("etherscan-api-key"),
		ExplorerURL:     v.GetString("explorer-url"),
		PGDSN:           v.GetString("pg-dsn"),
		TasksDir:        v.GetString("tasks-dir"),
		RegistryFile:    v.GetString("registry"),
		Journal:         v.GetString("journal"),
		LogLevel:        v.GetString("log-level"),
	}

	return cfg, nil
}

// RequireRPC reports a missing RPC endpoint.
func (c Config) RequireRPC() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc url is required (--rpc or POOLCTL_RPC)")
	}
	return nil
}

// RequireKey reports a missing signing key.
func (c Config) RequireKey() error {
	if c.PrivateKey == "" {
		return fmt.Errorf("private key is required (POOLCTL_PRIVATE_KEY or private-key in the config file)")
	}
	return nil
}

// SplitList splits comma-separated flag values and drops blanks.
func SplitList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			out = append(out, part)
		}
	}
	return out
}
