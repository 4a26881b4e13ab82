// Package replica implements a single cluster member: leader awareness,
// heartbeat liveness, a record cache in front of storage, and full-state
// recovery from the current leader.
package replica

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"replicadb/internal/ports"
	"replicadb/internal/storage"
	"replicadb/internal/types"
)

const DefaultLivenessTimeout = 5 * time.Second

var (
	ErrNoLeaderKnown = errors.New("no leader known")

	ErrNoCluster = errors.New("replica is not attached to a cluster")

	ErrLeaderUnavailable = errors.New("leader unavailable")

	// ErrRecordExists rejects a write that reuses an id with a different payload.
	ErrRecordExists = errors.New("record already exists")
)

// Cluster is the replica's handle back to whoever owns the membership set. The
// replica never holds other members directly; it resolves them by id.
type Cluster interface {
	RemoveReplica(ctx context.Context, id types.ReplicaID) error
	Peer(id types.ReplicaID) (ports.Peer, bool)
}

type Config struct {
	LivenessTimeout time.Duration
	// Clock defaults to time.Now.
	Clock func() time.Time
}

type Replica struct {
	id              types.ReplicaID
	storage         storage.Storage
	livenessTimeout time.Duration
	now             func() time.Time

	// serializes ReplicateData so the existence check and the append agree
	writeMu sync.Mutex

	mu            sync.RWMutex
	cluster       Cluster
	leader        types.ReplicaID
	lastHeartbeat time.Time
	lastReceived  types.Record
	hasReceived   bool
	cache         map[types.RecordID]types.Record
}

func New(id types.ReplicaID, store storage.Storage, cfg Config) *Replica {
	if cfg.LivenessTimeout <= 0 {
		cfg.LivenessTimeout = DefaultLivenessTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Replica{
		id:              id,
		storage:         store,
		livenessTimeout: cfg.LivenessTimeout,
		now:             cfg.Clock,
		lastHeartbeat:   cfg.Clock(),
		cache:           make(map[types.RecordID]types.Record),
	}
}

// Open builds a replica whose cache is warmed from the storage snapshot and the
// log view, in that order.
func Open(id types.ReplicaID, store storage.Storage, cfg Config) (*Replica, error) {
	r := New(id, store, cfg)

	snap, ok, err := store.ReadSnapshot()
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if ok {
		for _, rec := range snap {
			r.cache[rec.ID] = rec
		}
	}
	for _, rec := range store.Log() {
		r.cache[rec.ID] = rec
	}

	slog.Info("replica opened", "replica_id", id, "cached_records", len(r.cache))
	return r, nil
}

// SetCluster binds the membership handle. It is set after construction because
// the coordinator is usually built from already-created replicas.
func (r *Replica) SetCluster(c Cluster) {
	r.mu.Lock()
	r.cluster = c
	r.mu.Unlock()
}

func (r *Replica) ID() types.ReplicaID {
	return r.id
}

func (r *Replica) CurrentLeader() (types.ReplicaID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.leader, r.leader != types.NoReplica
}

func (r *Replica) LastReceived() (types.Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastReceived.Clone(), r.hasReceived
}

func (r *Replica) NotifyLeader(_ context.Context, leader types.ReplicaID) error {
	r.mu.Lock()
	prev := r.leader
	r.leader = leader
	r.lastHeartbeat = r.now()
	r.mu.Unlock()

	if prev != leader {
		slog.Info("leader changed", "replica_id", r.id, "leader_id", leader, "previous", prev)
	}
	return nil
}

// CheckHeartbeat handles a liveness probe. A replica that has not heard from the
// cluster within the liveness timeout asks to be removed; otherwise the probe
// counts as contact.
func (r *Replica) CheckHeartbeat(ctx context.Context) error {
	r.mu.Lock()
	now := r.now()
	elapsed := now.Sub(r.lastHeartbeat)
	stale := elapsed > r.livenessTimeout
	if !stale {
		r.lastHeartbeat = now
	}
	cluster := r.cluster
	r.mu.Unlock()

	if !stale {
		return nil
	}

	slog.Warn("heartbeat window exceeded, requesting removal",
		"replica_id", r.id,
		"elapsed", elapsed,
		"timeout", r.livenessTimeout,
	)

	if cluster == nil {
		return nil
	}
	if err := cluster.RemoveReplica(ctx, r.id); err != nil {
		slog.Warn("self-removal request failed", "replica_id", r.id, "error", err)
	}
	return nil
}

// ReceiveData records the latest dispatched entry. Followers do not persist
// dispatched entries; only ReplicateData is durable.
func (r *Replica) ReceiveData(_ context.Context, rec types.Record) error {
	r.mu.Lock()
	r.lastReceived = rec.Clone()
	r.hasReceived = true
	r.lastHeartbeat = r.now()
	r.mu.Unlock()

	slog.Debug("record received", "replica_id", r.id, "record_id", rec.ID)
	return nil
}

// ReplicateData appends rec to storage and then caches it. Records are
// immutable: repeating an existing record is a no-op, reusing its id with a
// different payload fails with ErrRecordExists. The cache is left untouched
// when the append fails.
func (r *Replica) ReplicateData(ctx context.Context, rec types.Record) error {
	rec = rec.Clone()

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	existing, ok, err := r.GetData(ctx, rec.ID)
	if err != nil {
		return err
	}
	if ok {
		if !bytes.Equal(existing.Payload, rec.Payload) {
			return fmt.Errorf("replica %d record %d: %w", r.id, rec.ID, ErrRecordExists)
		}
		r.touch()
		slog.Debug("record already replicated", "replica_id", r.id, "record_id", rec.ID)
		return nil
	}

	if err := r.storage.WriteLog(rec); err != nil {
		slog.Error("failed to persist record", "replica_id", r.id, "record_id", rec.ID, "error", err)
		return fmt.Errorf("replica %d: %w", r.id, err)
	}

	r.mu.Lock()
	r.cache[rec.ID] = rec
	r.lastHeartbeat = r.now()
	r.mu.Unlock()

	slog.Debug("record replicated", "replica_id", r.id, "record_id", rec.ID)
	return nil
}

func (r *Replica) touch() {
	r.mu.Lock()
	r.lastHeartbeat = r.now()
	r.mu.Unlock()
}

func (r *Replica) GetData(_ context.Context, id types.RecordID) (types.Record, bool, error) {
	r.mu.RLock()
	rec, ok := r.cache[id]
	r.mu.RUnlock()
	if ok {
		return rec.Clone(), true, nil
	}

	rec, ok, err := r.storage.ReadData(id)
	if err != nil {
		return types.Record{}, false, fmt.Errorf("replica %d read %d: %w", r.id, id, err)
	}
	if !ok {
		return types.Record{}, false, nil
	}

	r.mu.Lock()
	r.cache[id] = rec
	r.mu.Unlock()

	return rec.Clone(), true, nil
}

// Records returns every cached record ordered by id.
func (r *Replica) Records(_ context.Context) ([]types.Record, error) {
	r.mu.RLock()
	out := make([]types.Record, 0, len(r.cache))
	for _, rec := range r.cache {
		out = append(out, rec.Clone())
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b types.Record) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// Recover replaces local state with the current leader's full data set. The
// fetched set is written as the local snapshot before the cache is swapped.
func (r *Replica) Recover(ctx context.Context) error {
	r.mu.RLock()
	leaderID := r.leader
	cluster := r.cluster
	r.mu.RUnlock()

	if leaderID == types.NoReplica {
		return ErrNoLeaderKnown
	}
	if cluster == nil {
		return ErrNoCluster
	}

	leader, ok := cluster.Peer(leaderID)
	if !ok {
		return fmt.Errorf("leader %d: %w", leaderID, ErrLeaderUnavailable)
	}

	records, err := leader.Records(ctx)
	if err != nil {
		return fmt.Errorf("fetch records from leader %d: %w", leaderID, err)
	}

	if err := r.storage.WriteSnapshot(records); err != nil {
		return fmt.Errorf("replica %d snapshot: %w", r.id, err)
	}

	cache := make(map[types.RecordID]types.Record, len(records))
	for _, rec := range records {
		cache[rec.ID] = rec.Clone()
	}

	r.mu.Lock()
	r.cache = cache
	r.lastHeartbeat = r.now()
	r.mu.Unlock()

	slog.Info("replica recovered from leader",
		"replica_id", r.id,
		"leader_id", leaderID,
		"records", len(records),
	)
	return nil
}
