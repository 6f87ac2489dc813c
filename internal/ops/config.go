package ops

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"poolctl/internal/chain"
	"poolctl/internal/contracts"
	"poolctl/internal/linear"
	"poolctl/internal/numbers"
	"poolctl/internal/records"
	"poolctl/internal/registry"
)

// Script describes one operational script. Tokens and pools accept registry
// names or literal values; contract addresses also accept task references.
// Amounts are decimal strings scaled by the token's decimals.
type Script struct {
	Kind       string   `yaml:"script"`
	Iterations int      `yaml:"iterations"`
	Pool       string   `yaml:"pool"`
	Vault      string   `yaml:"vault"`
	YearnVault string   `yaml:"yearn_vault"`
	MainToken  string   `yaml:"main_token"`
	TokenIn    string   `yaml:"token_in"`
	TokenOut   string   `yaml:"token_out"`
	Amount     string   `yaml:"amount"`
	MinOut     string   `yaml:"min_out"`
	Tokens     []string `yaml:"tokens"`
	Amounts    []string `yaml:"amounts"`
	JoinKind   string   `yaml:"join_kind"`
	Rebalancer string   `yaml:"rebalancer"`
	Recipient  string   `yaml:"recipient"`
	ExtraMain  string   `yaml:"extra_main"`
	Limit      string   `yaml:"limit"`
}

// Env is what a script needs to resolve its names.
type Env struct {
	Network *registry.Network
	Caller  chain.Caller
	Store   records.Store
}

// LoadScript reads and validates a script file.
func LoadScript(path string) (Script, error) {
	return LoadScriptAs(path, "")
}

// LoadScriptAs reads a script file run as kind. The file may omit the script
// field; naming another kind is an error.
func LoadScriptAs(path, kind string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, fmt.Errorf("read script: %w", err)
	}
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Script{}, fmt.Errorf("parse script %s: %w", path, err)
	}
	if kind != "" {
		if s.Kind != "" && s.Kind != kind {
			return Script{}, fmt.Errorf("%s: is a %s script, not %s", path, s.Kind, kind)
		}
		s.Kind = kind
	}
	if err := s.Validate(); err != nil {
		return Script{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Validate checks that the fields the script kind needs are present.
func (s Script) Validate() error {
	var errs error
	require := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			errs = multierr.Append(errs, fmt.Errorf("%s: %s is required", s.Kind, field))
		}
	}
	if s.Iterations < 0 {
		errs = multierr.Append(errs, fmt.Errorf("iterations must not be negative"))
	}

	switch s.Kind {
	case ScriptUnwrapSwap:
		require("pool", s.Pool)
		require("yearn_vault", s.YearnVault)
		require("main_token", s.MainToken)
	case ScriptSwap:
		require("pool", s.Pool)
		require("token_in", s.TokenIn)
		require("token_out", s.TokenOut)
	case ScriptJoin:
		require("pool", s.Pool)
		if len(s.Tokens) == 0 {
			errs = multierr.Append(errs, fmt.Errorf("join: tokens is required"))
		}
		if len(s.Amounts) != len(s.Tokens) {
			errs = multierr.Append(errs, fmt.Errorf("join: amounts has %d entries for %d tokens", len(s.Amounts), len(s.Tokens)))
		}
		if _, err := joinKind(s.JoinKind); err != nil {
			errs = multierr.Append(errs, err)
		}
	case ScriptRebalance:
		require("pool", s.Pool)
		if s.Rebalancer == "" || s.ExtraMain != "" {
			require("main_token", s.MainToken)
		}
	case ScriptWrap, ScriptUnwrap:
		require("pool", s.Pool)
		require("rebalancer", s.Rebalancer)
		require("main_token", s.MainToken)
		require("amount", s.Amount)
	case "":
		errs = multierr.Append(errs, fmt.Errorf("script is required"))
	default:
		errs = multierr.Append(errs, fmt.Errorf("unknown script %q", s.Kind))
	}
	return errs
}

// Plan resolves every name against the environment and builds the plan.
func (s Script) Plan(ctx context.Context, env Env) (Plan, error) {
	if err := s.Validate(); err != nil {
		return Plan{}, err
	}
	r := &resolver{ctx: ctx, env: env}

	var plan Plan
	switch s.Kind {
	case ScriptUnwrapSwap:
		main := r.token(s.MainToken)
		yearn, err := linear.NewYearnVault(env.Caller, r.tokenAddress(s.YearnVault))
		r.add(err)
		script := UnwrapSwap{Vault: r.vault(s.Vault), PoolID: r.pool(s.Pool), Yearn: yearn, Main: main.erc20, Iterations: s.iterations()}
		plan = script.Plan()

	case ScriptSwap:
		in := r.token(s.TokenIn)
		script := Swap{
			Vault:    r.vault(s.Vault),
			PoolID:   r.pool(s.Pool),
			TokenIn:  in.erc20,
			TokenOut: r.tokenAddress(s.TokenOut),
		}
		if s.Amount != "" && s.Amount != "all" {
			script.Amount = r.amount("amount", s.Amount, in.decimals)
		}
		if s.MinOut != "" {
			script.MinOut = r.amount("min_out", s.MinOut, r.token(s.TokenOut).decimals)
		}
		plan = script.Plan()
		plan.Iterations = s.iterations()

	case ScriptJoin:
		kind, _ := joinKind(s.JoinKind)
		script := Join{Vault: r.vault(s.Vault), PoolID: r.pool(s.Pool), Kind: kind}
		for i, symbol := range s.Tokens {
			token := r.token(symbol)
			script.Tokens = append(script.Tokens, token.erc20)
			script.Amounts = append(script.Amounts, r.amount("amounts["+symbol+"]", s.Amounts[i], token.decimals))
		}
		plan = script.Plan()

	case ScriptRebalance:
		script := Rebalance{Vault: r.vault(s.Vault), PoolID: r.pool(s.Pool)}
		var mainDecimals uint8
		if s.MainToken != "" {
			main := r.token(s.MainToken)
			script.Main, mainDecimals = main.erc20, main.decimals
		}
		if s.Rebalancer != "" {
			rebalancer, err := linear.NewRebalancer(r.contract(s.Rebalancer))
			r.add(err)
			script.Rebalancer = rebalancer
		}
		if s.Recipient != "" {
			recipient := r.contract(s.Recipient)
			script.Recipient = &recipient
		}
		if s.ExtraMain != "" {
			script.ExtraMain = r.amount("extra_main", s.ExtraMain, mainDecimals)
		}
		plan = script.Plan()

	default:
		manual, err := linear.NewManualRebalancer(r.contract(s.Rebalancer))
		r.add(err)
		script := Manual{
			Rebalancer: manual,
			Main:       r.token(s.MainToken).erc20,
			PoolID:     r.pool(s.Pool),
			Unwrap:     s.Kind == ScriptUnwrap,
			Amount:     r.amount("amount", s.Amount, 0),
			Iterations: s.iterations(),
		}
		if s.Limit != "" {
			script.Limit = r.amount("limit", s.Limit, 0)
		}
		plan = script.Plan()
	}

	if r.err != nil {
		return Plan{}, r.err
	}
	return plan, nil
}

func (s Script) iterations() int {
	if s.Iterations == 0 {
		return 1
	}
	return s.Iterations
}

func joinKind(input string) (int64, error) {
	switch strings.ToLower(input) {
	case "", "exact-tokens-in":
		return contracts.JoinKindExactTokensIn, nil
	case "init":
		return contracts.JoinKindInit, nil
	default:
		return 0, fmt.Errorf("unknown join_kind %q", input)
	}
}

type resolvedToken struct {
	decimals uint8
	erc20    *contracts.ERC20
}

// resolver collects every resolution failure instead of stopping at the first.
type resolver struct {
	ctx context.Context
	env Env
	err error
}

func (r *resolver) add(err error) {
	r.err = multierr.Append(r.err, err)
}

func (r *resolver) token(input string) resolvedToken {
	desc, known, err := r.env.Network.ResolveToken(input)
	if err != nil {
		r.add(err)
		return resolvedToken{}
	}
	erc20, err := contracts.NewERC20(r.env.Caller, desc.Address)
	if err != nil {
		r.add(err)
		return resolvedToken{}
	}
	if !known {
		if desc.Decimals, err = erc20.Decimals(r.ctx); err != nil {
			r.add(fmt.Errorf("decimals of %s: %w", input, err))
		}
	}
	return resolvedToken{decimals: desc.Decimals, erc20: erc20}
}

func (r *resolver) tokenAddress(input string) common.Address {
	desc, _, err := r.env.Network.ResolveToken(input)
	r.add(err)
	return desc.Address
}

func (r *resolver) pool(input string) [32]byte {
	pool, err := r.env.Network.Pool(input)
	r.add(err)
	return pool.ID
}

func (r *resolver) contract(input string) common.Address {
	if addr, err := r.env.Network.Contract(input); err == nil {
		return addr
	}
	addr, err := records.ResolveAddress(r.ctx, r.env.Store, r.env.Network.Name, input)
	r.add(err)
	return addr
}

func (r *resolver) vault(input string) *contracts.Vault {
	if input == "" {
		input = "Vault"
	}
	addr := r.contract(input)
	vault, err := contracts.NewVault(r.env.Caller, addr)
	r.add(err)
	return vault
}

func (r *resolver) amount(field, input string, decimals uint8) *big.Int {
	value, err := numbers.ParseUnits(input, decimals)
	if err != nil {
		r.add(fmt.Errorf("%s: %w", field, err))
		return new(big.Int)
	}
	return value
}
