package task

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"poolctl/internal/numbers"
)

// Ref is an address input: a literal address, a registry contract name, or a
// task reference "task:<id>/<Contract>". Address is set once the input is resolved.
type Ref struct {
	Raw     string
	Address common.Address
}

func (r *Ref) UnmarshalYAML(node *yaml.Node) error {
	return node.Decode(&r.Raw)
}

// Input is the decoded input of one task on one network.
type Input interface {
	refs() map[string]*Ref
	validate() error
}

// NoInput is the input of tasks that take none.
type NoInput struct{}

func (NoInput) refs() map[string]*Ref { return nil }
func (NoInput) validate() error       { return nil }

type ReaperManualRebalancerInput struct {
	Vault Ref `yaml:"Vault"`
}

func (in *ReaperManualRebalancerInput) refs() map[string]*Ref {
	return map[string]*Ref{"Vault": &in.Vault}
}
func (in *ReaperManualRebalancerInput) validate() error { return nil }

// LinearPoolFactoryInput configures the linear pool factories that take
// version strings and pause windows.
type LinearPoolFactoryInput struct {
	Vault                          Ref    `yaml:"Vault"`
	ProtocolFeePercentagesProvider Ref    `yaml:"ProtocolFeePercentagesProvider"`
	BalancerQueries                Ref    `yaml:"BalancerQueries"`
	FactoryVersion                 string `yaml:"FactoryVersion"`
	PoolVersion                    string `yaml:"PoolVersion"`
	InitialPauseWindowDuration     uint64 `yaml:"InitialPauseWindowDuration"`
	BufferPeriodDuration           uint64 `yaml:"BufferPeriodDuration"`
}

func (in *LinearPoolFactoryInput) refs() map[string]*Ref {
	return map[string]*Ref{
		"Vault":                          &in.Vault,
		"ProtocolFeePercentagesProvider": &in.ProtocolFeePercentagesProvider,
		"BalancerQueries":                &in.BalancerQueries,
	}
}

func (in *LinearPoolFactoryInput) validate() error {
	var errs error
	if in.FactoryVersion == "" {
		errs = multierr.Append(errs, fmt.Errorf("FactoryVersion is required"))
	}
	if in.PoolVersion == "" {
		errs = multierr.Append(errs, fmt.Errorf("PoolVersion is required"))
	}
	return errs
}

// LegacyLinearPoolFactoryInput configures factories built before versioning.
type LegacyLinearPoolFactoryInput struct {
	Vault                          Ref `yaml:"Vault"`
	ProtocolFeePercentagesProvider Ref `yaml:"ProtocolFeePercentagesProvider"`
	BalancerQueries                Ref `yaml:"BalancerQueries"`
}

func (in *LegacyLinearPoolFactoryInput) refs() map[string]*Ref {
	return map[string]*Ref{
		"Vault":                          &in.Vault,
		"ProtocolFeePercentagesProvider": &in.ProtocolFeePercentagesProvider,
		"BalancerQueries":                &in.BalancerQueries,
	}
}
func (in *LegacyLinearPoolFactoryInput) validate() error { return nil }

type WeightedPoolFactoryInput struct {
	Vault                          Ref    `yaml:"Vault"`
	ProtocolFeePercentagesProvider Ref    `yaml:"ProtocolFeePercentagesProvider"`
	FactoryVersion                 string `yaml:"FactoryVersion"`
	PoolVersion                    string `yaml:"PoolVersion"`
	InitialPauseWindowDuration     uint64 `yaml:"InitialPauseWindowDuration"`
	BufferPeriodDuration           uint64 `yaml:"BufferPeriodDuration"`
}

func (in *WeightedPoolFactoryInput) refs() map[string]*Ref {
	return map[string]*Ref{
		"Vault":                          &in.Vault,
		"ProtocolFeePercentagesProvider": &in.ProtocolFeePercentagesProvider,
	}
}

func (in *WeightedPoolFactoryInput) validate() error {
	var errs error
	if in.FactoryVersion == "" {
		errs = multierr.Append(errs, fmt.Errorf("FactoryVersion is required"))
	}
	if in.PoolVersion == "" {
		errs = multierr.Append(errs, fmt.Errorf("PoolVersion is required"))
	}
	return errs
}

// BatchRelayerInput lists the contracts the relayer library integrates with.
type BatchRelayerInput struct {
	Vault      Ref `yaml:"Vault"`
	MasterChef Ref `yaml:"MasterChef"`
	XBoo       Ref `yaml:"xBOO"`
	FBeets     Ref `yaml:"fBEETS"`
	Reliquary  Ref `yaml:"Reliquary"`
}

func (in *BatchRelayerInput) refs() map[string]*Ref {
	return map[string]*Ref{
		"Vault":      &in.Vault,
		"MasterChef": &in.MasterChef,
		"xBOO":       &in.XBoo,
		"fBEETS":     &in.FBeets,
		"Reliquary":  &in.Reliquary,
	}
}
func (in *BatchRelayerInput) validate() error { return nil }

// FeeProviderInput bounds the yield and AUM fees, as 18-decimal fractions.
type FeeProviderInput struct {
	Vault         Ref    `yaml:"Vault"`
	MaxYieldValue string `yaml:"maxYieldValue"`
	MaxAUMValue   string `yaml:"maxAUMValue"`
}

func (in *FeeProviderInput) refs() map[string]*Ref {
	return map[string]*Ref{"Vault": &in.Vault}
}

func (in *FeeProviderInput) validate() error {
	var errs error
	for field, value := range map[string]string{"maxYieldValue": in.MaxYieldValue, "maxAUMValue": in.MaxAUMValue} {
		v, err := numbers.FP(value)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", field, err))
			continue
		}
		if v.Sign() < 0 || v.Cmp(numbers.One) > 0 {
			errs = multierr.Append(errs, fmt.Errorf("%s must be between 0 and 1", field))
		}
	}
	return errs
}

func (in *FeeProviderInput) maxValues() (*big.Int, *big.Int) {
	return numbers.MustFP(in.MaxYieldValue), numbers.MustFP(in.MaxAUMValue)
}

type PoolManagerInput struct {
	Owner Ref `yaml:"Owner"`
}

func (in *PoolManagerInput) refs() map[string]*Ref {
	return map[string]*Ref{"Owner": &in.Owner}
}
func (in *PoolManagerInput) validate() error { return nil }

// decodeInput reads tasks/<id>/input.yaml and decodes the section for network.
// A "default" section applies to networks without their own.
func decodeInput(dir, network string, into Input) error {
	path := filepath.Join(dir, "input.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read task input: %w", err)
	}
	var sections map[string]yaml.Node
	if err := yaml.Unmarshal(data, &sections); err != nil {
		return fmt.Errorf("parse task input %s: %w", path, err)
	}
	node, ok := sections[network]
	if !ok {
		if node, ok = sections["default"]; !ok {
			return fmt.Errorf("%s: no input for network %s (have %s)", path, network, strings.Join(sectionNames(sections), ", "))
		}
	}

	var errs error
	if err := node.Decode(into); err != nil {
		return fmt.Errorf("%s: %s: %w", path, network, err)
	}
	for _, name := range sortedRefNames(into.refs()) {
		if strings.TrimSpace(into.refs()[name].Raw) == "" {
			errs = multierr.Append(errs, fmt.Errorf("%s is required", name))
		}
	}
	errs = multierr.Append(errs, into.validate())
	if errs != nil {
		return fmt.Errorf("%s: %s: %w", path, network, errs)
	}
	return nil
}

func sectionNames(sections map[string]yaml.Node) []string {
	names := make([]string, 0, len(sections))
	for name := range sections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedRefNames(refs map[string]*Ref) []string {
	names := make([]string, 0, len(refs))
	for name := range refs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
