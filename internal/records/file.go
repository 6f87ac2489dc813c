package records

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"poolctl/internal/model"
)

// FileStore keeps one JSON document per task and network at
// <root>/<taskID>/output/<network>.json, an object keyed by contract name.
type FileStore struct {
	root string
	mu   sync.Mutex
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

// Path returns the output file for a task on a network.
func (s *FileStore) Path(network, taskID string) string {
	return filepath.Join(s.root, taskID, "output", network+".json")
}

func (s *FileStore) Get(_ context.Context, network, taskID, contract string) (model.DeployedContractRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(network, taskID)
	if err != nil {
		return model.DeployedContractRecord{}, false, err
	}
	rec, ok := doc[contract]
	return rec, ok, nil
}

func (s *FileStore) Put(_ context.Context, rec model.DeployedContractRecord) error {
	if err := validate(rec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(rec.Network, rec.TaskID)
	if err != nil {
		return err
	}
	doc[rec.ContractName] = rec
	return s.write(rec.Network, rec.TaskID, doc)
}

func (s *FileStore) List(_ context.Context, network, taskID string) ([]model.DeployedContractRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	taskIDs := []string{taskID}
	if taskID == "" {
		entries, err := os.ReadDir(s.root)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("read records root: %w", err)
		}
		taskIDs = taskIDs[:0]
		for _, entry := range entries {
			if entry.IsDir() {
				taskIDs = append(taskIDs, entry.Name())
			}
		}
	}

	var out []model.DeployedContractRecord
	for _, id := range taskIDs {
		doc, err := s.load(network, id)
		if err != nil {
			return nil, err
		}
		for name, rec := range doc {
			// Older files carry only the address.
			if rec.ContractName == "" {
				rec.ContractName = name
			}
			if rec.TaskID == "" {
				rec.TaskID = id
			}
			if rec.Network == "" {
				rec.Network = network
			}
			out = append(out, rec)
		}
	}
	sortRecords(out)
	return out, nil
}

func (s *FileStore) load(network, taskID string) (map[string]model.DeployedContractRecord, error) {
	path := s.Path(network, taskID)
	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]model.DeployedContractRecord{}, nil
		}
		return nil, fmt.Errorf("stat records: %w", err)
	}
	if stat.IsDir() {
		return nil, fmt.Errorf("records path %s is a directory", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}

	doc := map[string]model.DeployedContractRecord{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse records %s: %w", path, err)
	}
	return doc, nil
}

func (s *FileStore) write(network, taskID string, doc map[string]model.DeployedContractRecord) error {
	path := s.Path(network, taskID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create records dir: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}
	data = append(data, '\n')

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write records tmp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename records: %w", err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
