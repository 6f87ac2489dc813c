package verify

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// BuildInfo is the subset of a hardhat build-info file needed to verify a contract.
type BuildInfo struct {
	SolcLongVersion string          `json:"solcLongVersion"`
	Input           json.RawMessage `json:"input"`
	Output          struct {
		Contracts map[string]map[string]json.RawMessage `json:"contracts"`
	} `json:"output"`
}

// LoadBuildInfo reads a build-info file.
func LoadBuildInfo(path string) (*BuildInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read build info: %w", err)
	}
	var info BuildInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse build info %s: %w", path, err)
	}
	if info.SolcLongVersion == "" || len(info.Input) == 0 {
		return nil, fmt.Errorf("build info %s has no compiler input", path)
	}
	return &info, nil
}

// QualifiedName returns "<source>:<contract>" for a contract compiled in this build.
func (b *BuildInfo) QualifiedName(contract string) (string, error) {
	var matches []string
	for source, contracts := range b.Output.Contracts {
		if _, ok := contracts[contract]; ok {
			matches = append(matches, source+":"+contract)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("contract %s not found in build info", contract)
	case 1:
		return matches[0], nil
	default:
		sort.Strings(matches)
		return "", fmt.Errorf("contract %s is ambiguous: %v", contract, matches)
	}
}

// CompilerVersion returns the explorer's compiler version string.
func (b *BuildInfo) CompilerVersion() string {
	return "v" + b.SolcLongVersion
}
