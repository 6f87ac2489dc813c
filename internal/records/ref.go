package records

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"poolctl/internal/registry"
)

const refPrefix = "task:"

// IsReference reports whether value has the task:<taskID>/<Contract> form.
func IsReference(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), refPrefix)
}

// ParseReference splits task:<taskID>/<Contract>.
func ParseReference(value string) (taskID, contract string, err error) {
	body := strings.TrimPrefix(strings.TrimSpace(value), refPrefix)
	taskID, contract, ok := strings.Cut(body, "/")
	if !ok || taskID == "" || contract == "" {
		return "", "", fmt.Errorf("invalid reference %q, want task:<id>/<contract>", value)
	}
	return taskID, contract, nil
}

// ResolveAddress returns a literal address, or the recorded address a reference
// points to on the network.
func ResolveAddress(ctx context.Context, store Store, network, value string) (common.Address, error) {
	if !IsReference(value) {
		return registry.ParseAddress(value)
	}
	taskID, contract, err := ParseReference(value)
	if err != nil {
		return common.Address{}, err
	}
	if store == nil {
		return common.Address{}, fmt.Errorf("resolve %s: no record store", value)
	}
	rec, ok, err := store.Get(ctx, network, taskID, contract)
	if err != nil {
		return common.Address{}, fmt.Errorf("resolve %s: %w", value, err)
	}
	if !ok {
		return common.Address{}, fmt.Errorf("resolve %s: %s has no record on %s", value, taskID, network)
	}
	addr, err := registry.ParseAddress(rec.Address)
	if err != nil {
		return common.Address{}, fmt.Errorf("resolve %s: %w", value, err)
	}
	return addr, nil
}
