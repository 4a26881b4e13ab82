package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tidwall/wal"

	"replicadb/internal/metrics"
	"replicadb/internal/types"
)

const frameTypeRecord byte = 1

const (
	walFolder      = "wal"
	snapshotFolder = "snapshot"
	snapshotFile   = "current.snap"
)

// WAL persists the record log in tidwall/wal segments and the snapshot as a
// single file replaced by rename.
type WAL struct {
	mu sync.Mutex

	dir     string
	log     *wal.Log
	nextIdx uint64
	view    view
}

func OpenWAL(dir string, noSync bool) (*WAL, error) {
	if err := os.MkdirAll(filepath.Join(dir, snapshotFolder), 0o750); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}

	opts := *wal.DefaultOptions
	opts.NoSync = noSync
	log, err := wal.Open(filepath.Join(dir, walFolder), &opts)
	if err != nil {
		return nil, fmt.Errorf("wal.Open: %w", err)
	}

	s := &WAL{
		dir:     dir,
		log:     log,
		nextIdx: 1,
		view:    newView(),
	}

	if err := s.replay(); err != nil {
		_ = log.Close()
		return nil, err
	}

	return s, nil
}

func (s *WAL) replay() error {
	snap, ok, err := s.loadSnapshot()
	if err != nil {
		return err
	}
	if ok {
		s.view.setSnapshot(snap)
	}

	last, err := s.log.LastIndex()
	if err != nil {
		return fmt.Errorf("wal.LastIndex: %w", err)
	}
	if last == 0 {
		slog.Debug("empty WAL, nothing to replay", "dir", s.dir, "snapshot_records", len(snap))
		return nil
	}

	first, err := s.log.FirstIndex()
	if err != nil {
		return fmt.Errorf("wal.FirstIndex: %w", err)
	}

	for idx := first; idx <= last; idx++ {
		data, err := s.log.Read(idx)
		if err != nil {
			return fmt.Errorf("wal.Read(%d): %w", idx, err)
		}

		frameType, payload, err := decodeFrame(data)
		if err != nil {
			return fmt.Errorf("decode frame %d: %w", idx, err)
		}
		if frameType != frameTypeRecord {
			slog.Warn("skipping unknown WAL frame", "index", idx, "type", frameType)
			continue
		}

		rec, err := types.DecodeRecord(payload)
		if err != nil {
			return fmt.Errorf("frame %d: %w", idx, err)
		}
		s.view.append(rec)
	}
	s.nextIdx = last + 1

	slog.Info("replayed WAL",
		"dir", s.dir,
		"wal_first", first,
		"wal_last", last,
		"records", len(s.view.log),
		"snapshot_records", len(snap),
	)

	return nil
}

func (s *WAL) WriteLog(rec types.Record) error {
	metrics.StorageOperationsTotal.WithLabelValues("write_log").Inc()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.log == nil {
		return fmt.Errorf("write record %d: %w: %w", rec.ID, ErrPersistenceFailure, errClosed)
	}

	start := time.Now()
	data := encodeFrame(frameTypeRecord, types.EncodeRecord(rec))
	if err := s.log.Write(s.nextIdx, data); err != nil {
		return fmt.Errorf("wal.Write(%d): %w: %w", s.nextIdx, ErrPersistenceFailure, err)
	}
	metrics.WALWriteDuration.Observe(time.Since(start).Seconds())

	slog.Debug("appended record to WAL", "record_id", rec.ID, "index", s.nextIdx)
	s.nextIdx++
	s.view.append(rec.Clone())
	return nil
}

func (s *WAL) ReadData(id types.RecordID) (types.Record, bool, error) {
	metrics.StorageOperationsTotal.WithLabelValues("read").Inc()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.view.read(id)
	return rec, ok, nil
}

func (s *WAL) WriteSnapshot(records []types.Record) error {
	metrics.StorageOperationsTotal.WithLabelValues("write_snapshot").Inc()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.log == nil {
		return fmt.Errorf("write snapshot: %w: %w", ErrPersistenceFailure, errClosed)
	}

	data := types.EncodeRecords(records)
	if err := s.saveSnapshotFile(data); err != nil {
		return fmt.Errorf("save snapshot: %w: %w", ErrPersistenceFailure, err)
	}
	metrics.StorageSnapshotSize.Set(float64(len(data)))

	s.view.setSnapshot(records)

	slog.Info("saved snapshot", "dir", s.dir, "records", len(records), "bytes", len(data))
	return nil
}

func (s *WAL) ReadSnapshot() ([]types.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, ok := s.view.readSnapshot()
	return records, ok, nil
}

func (s *WAL) Log() []types.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view.copyLog()
}

func (s *WAL) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.log == nil {
		return nil
	}
	err := s.log.Close()
	s.log = nil
	return err
}

func (s *WAL) snapshotPath() string {
	return filepath.Join(s.dir, snapshotFolder, snapshotFile)
}

func (s *WAL) saveSnapshotFile(data []byte) error {
	path := s.snapshotPath()
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}

	dir, err := os.Open(filepath.Dir(path))
	if err != nil {
		return err
	}
	defer dir.Close()
	return dir.Sync()
}

func (s *WAL) loadSnapshot() ([]types.Record, bool, error) {
	data, err := os.ReadFile(s.snapshotPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read snapshot: %w", err)
	}

	records, err := types.DecodeRecords(data)
	if err != nil {
		return nil, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return records, true, nil
}

func encodeFrame(frameType byte, payload []byte) []byte {
	buf := make([]byte, 1+binary.MaxVarintLen64+len(payload))
	buf[0] = frameType
	n := binary.PutUvarint(buf[1:], uint64(len(payload)))
	copy(buf[1+n:], payload)
	return buf[:1+n+len(payload)]
}

func decodeFrame(data []byte) (byte, []byte, error) {
	if len(data) < 2 {
		return 0, nil, io.ErrUnexpectedEOF
	}
	length, n := binary.Uvarint(data[1:])
	if n <= 0 {
		return 0, nil, io.ErrUnexpectedEOF
	}
	start := 1 + n
	if length > uint64(len(data)-start) {
		return 0, nil, io.ErrUnexpectedEOF
	}
	return data[0], data[start : start+int(length)], nil
}
