package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Artifact is the compiled output of one contract, as written to a task's
// artifact directory.
type Artifact struct {
	ContractName string
	ABI          abi.ABI
	Bytecode     []byte
}

type artifactFile struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     string          `json:"bytecode"`
}

func loadArtifact(dir, contract string) (*Artifact, error) {
	path := filepath.Join(dir, "artifact", contract+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", contract, err)
	}
	var file artifactFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse artifact %s: %w", path, err)
	}
	if file.ContractName != "" && file.ContractName != contract {
		return nil, fmt.Errorf("artifact %s holds contract %s", path, file.ContractName)
	}

	parsed, err := abi.JSON(strings.NewReader(string(file.ABI)))
	if err != nil {
		return nil, fmt.Errorf("parse artifact abi %s: %w", path, err)
	}
	bytecode, err := hexutil.Decode(file.Bytecode)
	if err != nil {
		return nil, fmt.Errorf("decode artifact bytecode %s: %w", path, err)
	}
	if len(bytecode) == 0 {
		return nil, fmt.Errorf("artifact %s has no bytecode", path)
	}
	return &Artifact{ContractName: contract, ABI: parsed, Bytecode: bytecode}, nil
}
