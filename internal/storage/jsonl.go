package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"poolctl/internal/model"
)

// JsonlJournal appends tx records to a JSONL file, one record per line.
type JsonlJournal struct {
	path string
	mu   sync.Mutex
}

func NewJsonlJournal(path string) *JsonlJournal {
	return &JsonlJournal{path: path}
}

// PutTxBatch encodes the whole batch before touching the file, so a record that
// fails to encode leaves the journal unchanged.
func (j *JsonlJournal) PutTxBatch(_ context.Context, records []model.TxRecord) error {
	if len(records) == 0 {
		return nil
	}
	var batch bytes.Buffer
	enc := json.NewEncoder(&batch)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			return fmt.Errorf("encode %s tx %s: %w", records[i].Script, records[i].TxHash, err)
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}
	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	if _, err := file.Write(batch.Bytes()); err != nil {
		file.Close()
		return fmt.Errorf("append %d tx records: %w", len(records), err)
	}
	return file.Close()
}

// ReadJournal loads every record from a JSONL journal file.
func ReadJournal(path string) ([]model.TxRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	var out []model.TxRecord
	scanner := bufio.NewScanner(file)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec model.TxRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("journal line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}
	return out, nil
}

// MemoryJournal keeps records in process.
type MemoryJournal struct {
	mu      sync.Mutex
	records []model.TxRecord
}

func (m *MemoryJournal) PutTxBatch(_ context.Context, records []model.TxRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
	return nil
}

// Records returns a copy of everything journaled so far.
func (m *MemoryJournal) Records() []model.TxRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.TxRecord, len(m.records))
	copy(out, m.records)
	return out
}

var (
	_ Journal = (*JsonlJournal)(nil)
	_ Journal = (*MemoryJournal)(nil)
)
