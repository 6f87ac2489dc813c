// Package registry holds the per-network address tables: tokens, core contracts
// and known pools. It is loaded once and passed to the components that need it.
package registry

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

//go:embed networks.yaml
var defaultNetworks []byte

// TokenDescriptor identifies a token on one network.
type TokenDescriptor struct {
	Symbol   string
	Decimals uint8
	Address  common.Address
}

// PoolDescriptor identifies a registered pool. Address is the first 20 bytes of ID.
type PoolDescriptor struct {
	Name    string
	ID      [32]byte
	Address common.Address
}

// Network is the address table for one chain.
type Network struct {
	Name        string
	ChainID     uint64
	ExplorerAPI string

	contracts map[string]common.Address
	tokens    map[string]TokenDescriptor
	pools     map[string]PoolDescriptor
}

// Registry maps network names to their tables.
type Registry struct {
	networks map[string]*Network
}

type fileFormat struct {
	Networks map[string]networkEntry `yaml:"networks"`
}

type networkEntry struct {
	ChainID     uint64                `yaml:"chain_id"`
	ExplorerAPI string                `yaml:"explorer_api"`
	Contracts   map[string]string     `yaml:"contracts"`
	Tokens      map[string]tokenEntry `yaml:"tokens"`
	Pools       map[string]poolEntry  `yaml:"pools"`
}

type tokenEntry struct {
	Symbol   string `yaml:"symbol"`
	Decimals uint8  `yaml:"decimals"`
	Address  string `yaml:"address"`
}

type poolEntry struct {
	ID      string `yaml:"id"`
	Address string `yaml:"address"`
}

// Default returns the registry compiled into the binary.
func Default() (*Registry, error) {
	return Parse(defaultNetworks)
}

// LoadFile reads a registry file and layers it over the defaults. Networks in the
// file replace default networks of the same name.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	base, err := Default()
	if err != nil {
		return nil, err
	}
	override, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for name, network := range override.networks {
		base.networks[name] = network
	}
	return base, nil
}

// Parse decodes and validates a registry document. Every violation is reported.
func Parse(data []byte) (*Registry, error) {
	var file fileFormat
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}

	reg := &Registry{networks: make(map[string]*Network, len(file.Networks))}
	var errs error
	for _, name := range sortedKeys(file.Networks) {
		network, err := buildNetwork(name, file.Networks[name])
		errs = multierr.Append(errs, err)
		if err == nil {
			reg.networks[name] = network
		}
	}
	if errs != nil {
		return nil, errs
	}
	return reg, nil
}

func buildNetwork(name string, entry networkEntry) (*Network, error) {
	network := &Network{
		Name:        name,
		ChainID:     entry.ChainID,
		ExplorerAPI: entry.ExplorerAPI,
		contracts:   make(map[string]common.Address, len(entry.Contracts)),
		tokens:      make(map[string]TokenDescriptor, len(entry.Tokens)),
		pools:       make(map[string]PoolDescriptor, len(entry.Pools)),
	}

	var errs error
	if entry.ChainID == 0 {
		errs = multierr.Append(errs, fmt.Errorf("%s: chain_id is required", name))
	}

	for _, contract := range sortedKeys(entry.Contracts) {
		addr, err := ParseAddress(entry.Contracts[contract])
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: contract %s: %w", name, contract, err))
			continue
		}
		network.contracts[contract] = addr
	}

	seen := make(map[common.Address]string, len(entry.Tokens))
	for _, symbol := range sortedKeys(entry.Tokens) {
		token := entry.Tokens[symbol]
		if token.Symbol != "" && token.Symbol != symbol {
			errs = multierr.Append(errs, fmt.Errorf("%s: token %s: symbol field %q does not match key", name, symbol, token.Symbol))
			continue
		}
		addr, err := ParseAddress(token.Address)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: token %s: %w", name, symbol, err))
			continue
		}
		if other, dup := seen[addr]; dup {
			errs = multierr.Append(errs, fmt.Errorf("%s: token %s: address %s already used by %s", name, symbol, addr.Hex(), other))
			continue
		}
		seen[addr] = symbol
		network.tokens[symbol] = TokenDescriptor{Symbol: symbol, Decimals: token.Decimals, Address: addr}
	}

	for _, poolName := range sortedKeys(entry.Pools) {
		pool := entry.Pools[poolName]
		id, err := ParsePoolID(pool.ID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: pool %s: %w", name, poolName, err))
			continue
		}
		derived := common.BytesToAddress(id[:20])
		if pool.Address != "" {
			addr, err := ParseAddress(pool.Address)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: pool %s: %w", name, poolName, err))
				continue
			}
			if addr != derived {
				errs = multierr.Append(errs, fmt.Errorf("%s: pool %s: address %s does not match pool id", name, poolName, addr.Hex()))
				continue
			}
		}
		network.pools[poolName] = PoolDescriptor{Name: poolName, ID: id, Address: derived}
	}

	if errs != nil {
		return nil, errs
	}
	return network, nil
}

// ParseAddress accepts a hex address. Mixed-case input must carry a valid EIP-55 checksum.
func ParseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address: %q", input)
	}
	addr := common.HexToAddress(input)
	body := strings.TrimPrefix(strings.TrimPrefix(input, "0x"), "0X")
	if body != strings.ToLower(body) && body != strings.ToUpper(body) && "0x"+body != addr.Hex() {
		return common.Address{}, fmt.Errorf("bad checksum: %s", input)
	}
	return addr, nil
}

// ParsePoolID decodes a 32-byte hex pool id.
func ParsePoolID(input string) ([32]byte, error) {
	var id [32]byte
	data, err := hexutil.Decode(strings.TrimSpace(input))
	if err != nil {
		return id, fmt.Errorf("invalid pool id %q: %w", input, err)
	}
	if len(data) != 32 {
		return id, fmt.Errorf("invalid pool id length %d", len(data))
	}
	copy(id[:], data)
	return id, nil
}

// Network returns the table for a network name.
func (r *Registry) Network(name string) (*Network, error) {
	network, ok := r.networks[name]
	if !ok {
		return nil, fmt.Errorf("unknown network %q (known: %s)", name, strings.Join(r.Names(), ", "))
	}
	return network, nil
}

// Names lists the known networks.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.networks))
	for name := range r.networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Token looks up a token by symbol.
func (n *Network) Token(symbol string) (TokenDescriptor, error) {
	token, ok := n.tokens[symbol]
	if !ok {
		return TokenDescriptor{}, fmt.Errorf("%s: unknown token %q", n.Name, symbol)
	}
	return token, nil
}

// ResolveToken accepts a symbol or an address. Addresses that are not in the table
// resolve with known=false and zero decimals.
func (n *Network) ResolveToken(symbolOrAddress string) (token TokenDescriptor, known bool, err error) {
	if common.IsHexAddress(symbolOrAddress) {
		addr, err := ParseAddress(symbolOrAddress)
		if err != nil {
			return TokenDescriptor{}, false, err
		}
		for _, t := range n.tokens {
			if t.Address == addr {
				return t, true, nil
			}
		}
		return TokenDescriptor{Address: addr}, false, nil
	}
	token, err = n.Token(symbolOrAddress)
	if err != nil {
		return TokenDescriptor{}, false, err
	}
	return token, true, nil
}

// Tokens returns every token sorted by symbol.
func (n *Network) Tokens() []TokenDescriptor {
	out := make([]TokenDescriptor, 0, len(n.tokens))
	for _, symbol := range sortedKeys(n.tokens) {
		out = append(out, n.tokens[symbol])
	}
	return out
}

// Contract looks up a core contract by name.
func (n *Network) Contract(name string) (common.Address, error) {
	addr, ok := n.contracts[name]
	if !ok {
		return common.Address{}, fmt.Errorf("%s: unknown contract %q", n.Name, name)
	}
	return addr, nil
}

// Pool looks up a registered pool by name, or parses a literal pool id.
func (n *Network) Pool(nameOrID string) (PoolDescriptor, error) {
	if pool, ok := n.pools[nameOrID]; ok {
		return pool, nil
	}
	if strings.HasPrefix(nameOrID, "0x") {
		id, err := ParsePoolID(nameOrID)
		if err != nil {
			return PoolDescriptor{}, err
		}
		return PoolDescriptor{ID: id, Address: common.BytesToAddress(id[:20])}, nil
	}
	return PoolDescriptor{}, fmt.Errorf("%s: unknown pool %q", n.Name, nameOrID)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
