// Package storage holds a replica's append-only record log and its latest
// snapshot.
//
// Every backend keeps an in-memory view of the log that mirrors what has been
// durably appended (or replayed on open). Reads consult the view first and fall
// back to the snapshot; a record served from the snapshot is appended to the view
// so later reads see it without touching the snapshot again. The view is never
// written back to the durable log.
package storage

import (
	"errors"
	"slices"

	"replicadb/internal/types"
)

// ErrPersistenceFailure is returned when a write cannot be made durable.
var ErrPersistenceFailure = errors.New("persistence failure")

var errClosed = errors.New("storage closed")

type Storage interface {
	// WriteLog durably appends rec. Errors wrap ErrPersistenceFailure.
	WriteLog(rec types.Record) error
	ReadData(id types.RecordID) (types.Record, bool, error)
	// WriteSnapshot atomically replaces the snapshot with exactly records.
	WriteSnapshot(records []types.Record) error
	// ReadSnapshot reports ok=false if no snapshot was ever written.
	ReadSnapshot() ([]types.Record, bool, error)
	// Log returns the in-memory log view in append order.
	Log() []types.Record
	Close() error
}

type view struct {
	log   []types.Record
	index map[types.RecordID]int

	snapshot    []types.Record
	snapIndex   map[types.RecordID]int
	hasSnapshot bool
}

func newView() view {
	return view{index: make(map[types.RecordID]int)}
}

func (v *view) append(rec types.Record) {
	v.index[rec.ID] = len(v.log)
	v.log = append(v.log, rec)
}

func (v *view) read(id types.RecordID) (types.Record, bool) {
	if i, ok := v.index[id]; ok {
		return v.log[i].Clone(), true
	}
	if !v.hasSnapshot {
		return types.Record{}, false
	}
	i, ok := v.snapIndex[id]
	if !ok {
		return types.Record{}, false
	}
	rec := v.snapshot[i]
	v.append(rec)
	return rec.Clone(), true
}

func (v *view) setSnapshot(records []types.Record) {
	v.snapshot = cloneRecords(records)
	v.snapIndex = make(map[types.RecordID]int, len(records))
	for i, rec := range v.snapshot {
		v.snapIndex[rec.ID] = i
	}
	v.hasSnapshot = true
}

func (v *view) readSnapshot() ([]types.Record, bool) {
	if !v.hasSnapshot {
		return nil, false
	}
	return cloneRecords(v.snapshot), true
}

func (v *view) copyLog() []types.Record {
	return cloneRecords(v.log)
}

func cloneRecords(records []types.Record) []types.Record {
	out := slices.Clone(records)
	for i := range out {
		out[i] = out[i].Clone()
	}
	if out == nil {
		out = []types.Record{}
	}
	return out
}
