package records

import (
	"context"
	"sync"

	"poolctl/internal/model"
)

type recordKey struct {
	network  string
	taskID   string
	contract string
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[recordKey]model.DeployedContractRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[recordKey]model.DeployedContractRecord)}
}

func (s *MemoryStore) Get(_ context.Context, network, taskID, contract string) (model.DeployedContractRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[recordKey{network, taskID, contract}]
	return rec, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, rec model.DeployedContractRecord) error {
	if err := validate(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[recordKey{rec.Network, rec.TaskID, rec.ContractName}] = rec
	return nil
}

func (s *MemoryStore) List(_ context.Context, network, taskID string) ([]model.DeployedContractRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.DeployedContractRecord
	for key, rec := range s.recs {
		if key.network != network {
			continue
		}
		if taskID != "" && key.taskID != taskID {
			continue
		}
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

// Overlay reads through to a base store and keeps every write in memory. Test
// mode tasks use it so fork deployments never touch the persisted records.
type Overlay struct {
	base  Store
	layer *MemoryStore
}

func NewOverlay(base Store) *Overlay {
	return &Overlay{base: base, layer: NewMemoryStore()}
}

func (o *Overlay) Get(ctx context.Context, network, taskID, contract string) (model.DeployedContractRecord, bool, error) {
	rec, ok, err := o.layer.Get(ctx, network, taskID, contract)
	if err != nil || ok {
		return rec, ok, err
	}
	return o.base.Get(ctx, network, taskID, contract)
}

func (o *Overlay) Put(ctx context.Context, rec model.DeployedContractRecord) error {
	return o.layer.Put(ctx, rec)
}

func (o *Overlay) List(ctx context.Context, network, taskID string) ([]model.DeployedContractRecord, error) {
	base, err := o.base.List(ctx, network, taskID)
	if err != nil {
		return nil, err
	}
	top, err := o.layer.List(ctx, network, taskID)
	if err != nil {
		return nil, err
	}

	merged := make(map[recordKey]model.DeployedContractRecord, len(base)+len(top))
	for _, rec := range base {
		merged[recordKey{rec.Network, rec.TaskID, rec.ContractName}] = rec
	}
	for _, rec := range top {
		merged[recordKey{rec.Network, rec.TaskID, rec.ContractName}] = rec
	}
	out := make([]model.DeployedContractRecord, 0, len(merged))
	for _, rec := range merged {
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*Overlay)(nil)
)
