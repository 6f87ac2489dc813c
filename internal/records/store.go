// Package records persists the addresses produced by deployment tasks.
package records

import (
	"context"
	"fmt"
	"sort"

	"poolctl/internal/model"
)

// Store reads and writes deployment records keyed by network, task and contract.
type Store interface {
	Get(ctx context.Context, network, taskID, contract string) (model.DeployedContractRecord, bool, error)
	Put(ctx context.Context, rec model.DeployedContractRecord) error
	List(ctx context.Context, network, taskID string) ([]model.DeployedContractRecord, error)
}

func validate(rec model.DeployedContractRecord) error {
	switch {
	case rec.Network == "":
		return fmt.Errorf("record network is required")
	case rec.TaskID == "":
		return fmt.Errorf("record task id is required")
	case rec.ContractName == "":
		return fmt.Errorf("record contract name is required")
	case rec.Address == "":
		return fmt.Errorf("record %s/%s has no address", rec.TaskID, rec.ContractName)
	}
	return nil
}

func sortRecords(recs []model.DeployedContractRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].TaskID != recs[j].TaskID {
			return recs[i].TaskID < recs[j].TaskID
		}
		return recs[i].ContractName < recs[j].ContractName
	})
}
