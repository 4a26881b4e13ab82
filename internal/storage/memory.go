package storage

import (
	"fmt"
	"sync"

	"replicadb/internal/metrics"
	"replicadb/internal/types"
)

// Memory keeps the log and snapshot in process memory only.
type Memory struct {
	mu     sync.Mutex
	view   view
	closed bool
}

func NewMemory() *Memory {
	return &Memory{view: newView()}
}

func (m *Memory) WriteLog(rec types.Record) error {
	metrics.StorageOperationsTotal.WithLabelValues("write_log").Inc()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("write record %d: %w: %w", rec.ID, ErrPersistenceFailure, errClosed)
	}
	m.view.append(rec.Clone())
	return nil
}

func (m *Memory) ReadData(id types.RecordID) (types.Record, bool, error) {
	metrics.StorageOperationsTotal.WithLabelValues("read").Inc()

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.view.read(id)
	return rec, ok, nil
}

func (m *Memory) WriteSnapshot(records []types.Record) error {
	metrics.StorageOperationsTotal.WithLabelValues("write_snapshot").Inc()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("write snapshot: %w: %w", ErrPersistenceFailure, errClosed)
	}
	m.view.setSnapshot(records)
	return nil
}

func (m *Memory) ReadSnapshot() ([]types.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, ok := m.view.readSnapshot()
	return records, ok, nil
}

func (m *Memory) Log() []types.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view.copyLog()
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
