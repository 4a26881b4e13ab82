package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"replicadb/internal/configuration"
	"replicadb/internal/metrics"
	"replicadb/internal/ports"
	"replicadb/internal/types"
)

const (
	DefaultHeartbeatInterval = time.Second
	DefaultDispatchInterval  = 100 * time.Millisecond
	DefaultProbeTimeout      = 500 * time.Millisecond
)

type Coordinator struct {
	reach ports.Reachability

	heartbeatInterval      time.Duration
	dispatchInterval       time.Duration
	probeTimeout           time.Duration
	probeLeader            bool
	partitionCheckInterval time.Duration

	mu      sync.Mutex
	members map[types.ReplicaID]ports.Peer
	leader  types.ReplicaID
	state   State

	queue         []pendingEntry
	nextSeq       uint64
	dispatchedSeq uint64
	acked         map[types.ReplicaID]uint64

	// serializes SendData so the leader's log order matches queue order
	writeMu sync.Mutex

	loopsOnce    sync.Once
	stopOnce     sync.Once
	stoppedWg    sync.WaitGroup
	shuttingDown atomic.Bool
	stopCtx      context.Context
	stopCancel   context.CancelFunc
}

type pendingEntry struct {
	seq    uint64
	record types.Record
}

type Config struct {
	HeartbeatInterval time.Duration
	DispatchInterval  time.Duration
	ProbeTimeout      time.Duration
	// ProbeLeader includes the leader in the heartbeat cycle.
	ProbeLeader bool
	// PartitionCheckInterval runs HandleNetworkPartition periodically; zero disables it.
	PartitionCheckInterval time.Duration
}

func NewConfigFromProperties(p *configuration.CoordinatorProperties) Config {
	return Config{
		HeartbeatInterval:      p.HeartbeatInterval,
		DispatchInterval:       p.DispatchInterval,
		ProbeTimeout:           p.ProbeTimeout,
		ProbeLeader:            p.ProbeLeader,
		PartitionCheckInterval: p.PartitionCheckInterval,
	}
}

// Status is a point-in-time view of coordinator state.
type Status struct {
	State        State
	Leader       types.ReplicaID
	Members      []types.ReplicaID
	PendingDepth int
}

// New creates a coordinator with an empty membership set. A nil reach treats
// all members as mutually reachable.
func New(reach ports.Reachability, cfg Config) *Coordinator {
	if reach == nil {
		reach = FullyConnected{}
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.DispatchInterval <= 0 {
		cfg.DispatchInterval = DefaultDispatchInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}

	stopCtx, stopCancel := context.WithCancel(context.Background())

	c := &Coordinator{
		reach: reach,

		heartbeatInterval:      cfg.HeartbeatInterval,
		dispatchInterval:       cfg.DispatchInterval,
		probeTimeout:           cfg.ProbeTimeout,
		probeLeader:            cfg.ProbeLeader,
		partitionCheckInterval: cfg.PartitionCheckInterval,

		members: make(map[types.ReplicaID]ports.Peer),
		acked:   make(map[types.ReplicaID]uint64),

		stopCtx:    stopCtx,
		stopCancel: stopCancel,
	}

	slog.Info("replication coordinator created",
		"heartbeatInterval", cfg.HeartbeatInterval,
		"dispatchInterval", cfg.DispatchInterval,
		"probeTimeout", cfg.ProbeTimeout,
		"probeLeader", cfg.ProbeLeader,
	)

	return c
}

// AddReplica inserts p into the membership set. Adding an id that is already a
// member is a no-op. Leadership is not affected. Id zero is reserved and
// rejected with ErrInvalidReplicaID.
func (c *Coordinator) AddReplica(p ports.Peer) error {
	if p.ID() == types.NoReplica {
		return fmt.Errorf("add replica: %w: %d", ErrInvalidReplicaID, p.ID())
	}

	c.mu.Lock()
	if _, ok := c.members[p.ID()]; ok {
		c.mu.Unlock()
		slog.Debug("replica already a member", "replica_id", p.ID())
		return nil
	}
	c.members[p.ID()] = p
	c.acked[p.ID()] = c.dispatchedSeq
	total := len(c.members)
	c.mu.Unlock()

	metrics.MembersTotal.Set(float64(total))
	slog.Info("replica added", "replica_id", p.ID(), "members", total)
	return nil
}

// Stop halts every background loop and waits for them to exit. Safe to call
// more than once.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		slog.Info("stopping replication coordinator")

		c.shuttingDown.Store(true)
		c.stopCancel()
		c.stoppedWg.Wait()

		c.mu.Lock()
		c.state = StateStopped
		c.mu.Unlock()

		slog.Info("replication coordinator stopped")
	})
}

func (c *Coordinator) Leader() (types.ReplicaID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leader, c.leader != types.NoReplica
}

// Members returns member ids in ascending order.
func (c *Coordinator) Members() []types.ReplicaID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sortedIDsLocked()
}

func (c *Coordinator) PendingDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:        c.state,
		Leader:       c.leader,
		Members:      c.sortedIDsLocked(),
		PendingDepth: len(c.queue),
	}
}

// Peer resolves a member by id.
func (c *Coordinator) Peer(id types.ReplicaID) (ports.Peer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.members[id]
	return p, ok
}

// Lag reports how many dispatched entries a member has not acknowledged. The
// leader holds every entry before it is queued, so its lag is always zero.
func (c *Coordinator) Lag(id types.ReplicaID) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	acked, ok := c.acked[id]
	if !ok {
		return 0, false
	}
	if id == c.leader {
		return 0, true
	}
	return c.dispatchedSeq - acked, true
}

// setStateLocked moves the state machine unless the coordinator has stopped.
func (c *Coordinator) setStateLocked(s State) {
	if c.shuttingDown.Load() || c.state == StateStopped {
		return
	}
	c.state = s
}

// installLeaderLocked makes id the leader and marks it caught up.
func (c *Coordinator) installLeaderLocked(id types.ReplicaID) {
	c.leader = id
	if _, ok := c.acked[id]; ok {
		c.acked[id] = c.dispatchedSeq
	}
}

func (c *Coordinator) sortedIDsLocked() []types.ReplicaID {
	ids := make([]types.ReplicaID, 0, len(c.members))
	for id := range c.members {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (c *Coordinator) peersLocked(ids []types.ReplicaID) []ports.Peer {
	out := make([]ports.Peer, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.members[id])
	}
	return out
}

// followersLocked returns every member except the leader, ordered by id.
func (c *Coordinator) followersLocked() []ports.Peer {
	ids := c.sortedIDsLocked()
	out := make([]ports.Peer, 0, len(ids))
	for _, id := range ids {
		if id == c.leader {
			continue
		}
		out = append(out, c.members[id])
	}
	return out
}

func replicaLabel(id types.ReplicaID) string {
	return strconv.FormatUint(uint64(id), 10)
}
