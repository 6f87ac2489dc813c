package pools

import (
	"fmt"
	"os"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"poolctl/internal/numbers"
)

// Kind selects the factory a request is sent to.
type Kind string

const (
	KindWeighted Kind = "weighted"
	KindStable   Kind = "stable"
)

// CreationRequest describes a pool to create and seed. Tokens accept registry
// symbols or addresses; amounts are decimal strings scaled by each token's decimals.
type CreationRequest struct {
	Kind                   Kind     `yaml:"kind"`
	Factory                string   `yaml:"factory"`
	Name                   string   `yaml:"name"`
	Symbol                 string   `yaml:"symbol"`
	Tokens                 []string `yaml:"tokens"`
	Weights                []string `yaml:"weights"`
	RateProviders          []string `yaml:"rate_providers"`
	AmplificationParameter uint64   `yaml:"amplification_parameter"`
	InitialBalances        []string `yaml:"initial_balances"`
	SwapFeePercentage      string   `yaml:"swap_fee_percentage"`
	Owner                  string   `yaml:"owner"`
	Salt                   string   `yaml:"salt"`
}

// LoadRequest reads a creation request from a YAML file.
func LoadRequest(path string) (CreationRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CreationRequest{}, fmt.Errorf("read pool request: %w", err)
	}
	var req CreationRequest
	if err := yaml.Unmarshal(data, &req); err != nil {
		return CreationRequest{}, fmt.Errorf("parse pool request %s: %w", path, err)
	}
	if err := req.Validate(); err != nil {
		return CreationRequest{}, fmt.Errorf("%s: %w", path, err)
	}
	return req, nil
}

// Validate checks the shape of the request. Token ordering is not checked here.
func (r CreationRequest) Validate() error {
	var errs error
	if r.Name == "" {
		errs = multierr.Append(errs, fmt.Errorf("name is required"))
	}
	if r.Symbol == "" {
		errs = multierr.Append(errs, fmt.Errorf("symbol is required"))
	}
	if len(r.Tokens) < 2 {
		errs = multierr.Append(errs, fmt.Errorf("at least two tokens are required"))
	}
	if len(r.InitialBalances) > 0 && len(r.InitialBalances) != len(r.Tokens) {
		errs = multierr.Append(errs, fmt.Errorf("initial_balances has %d entries for %d tokens", len(r.InitialBalances), len(r.Tokens)))
	}
	if r.SwapFeePercentage == "" {
		errs = multierr.Append(errs, fmt.Errorf("swap_fee_percentage is required"))
	}

	switch r.Kind {
	case KindWeighted:
		if len(r.Tokens) > numbers.MaxWeightedTokens {
			errs = multierr.Append(errs, fmt.Errorf("weighted pools take at most %d tokens", numbers.MaxWeightedTokens))
		}
		if len(r.Weights) != len(r.Tokens) {
			errs = multierr.Append(errs, fmt.Errorf("weights has %d entries for %d tokens", len(r.Weights), len(r.Tokens)))
		}
		if len(r.RateProviders) > 0 && len(r.RateProviders) != len(r.Tokens) {
			errs = multierr.Append(errs, fmt.Errorf("rate_providers has %d entries for %d tokens", len(r.RateProviders), len(r.Tokens)))
		}
	case KindStable:
		if r.AmplificationParameter == 0 {
			errs = multierr.Append(errs, fmt.Errorf("amplification_parameter is required"))
		}
		if len(r.Weights) > 0 {
			errs = multierr.Append(errs, fmt.Errorf("stable pools take no weights"))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("unknown pool kind %q", r.Kind))
	}
	return errs
}
