package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replicadb/internal/ports"
	"replicadb/internal/replica"
	"replicadb/internal/storage"
	"replicadb/internal/types"
)

// idleConfig keeps the background loops quiet so tests drive ticks directly.
func idleConfig() Config {
	return Config{
		HeartbeatInterval: time.Hour,
		DispatchInterval:  time.Hour,
		ProbeTimeout:      time.Second,
	}
}

func newTestCoordinator(t *testing.T, cfg Config, peers ...ports.Peer) *Coordinator {
	t.Helper()
	c := New(nil, cfg)
	for _, p := range peers {
		require.NoError(t, c.AddReplica(p))
	}
	t.Cleanup(c.Stop)
	return c
}

func rec(id types.RecordID, payload string) types.Record {
	return types.Record{ID: id, Payload: []byte(payload)}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestElectLeader_PicksLowestIDAndBroadcasts(t *testing.T) {
	p3, p1, p2 := newFakePeer(3), newFakePeer(1), newFakePeer(2)
	c := newTestCoordinator(t, idleConfig(), p3, p1, p2)

	assert.Equal(t, StateUninitialized, c.State())

	require.NoError(t, c.ElectLeader(context.Background()))

	leader, ok := c.Leader()
	require.True(t, ok)
	assert.Equal(t, types.ReplicaID(1), leader)
	assert.Equal(t, StateStable, c.State())

	for _, p := range []*fakePeer{p1, p2, p3} {
		assert.Equal(t, types.ReplicaID(1), p.Leader(), "replica %d", p.ID())
	}
}

func TestElectLeader_EmptyMembership(t *testing.T) {
	c := newTestCoordinator(t, idleConfig())

	err := c.ElectLeader(context.Background())
	require.ErrorIs(t, err, ErrNoAvailableLeader)

	_, ok := c.Leader()
	assert.False(t, ok)
}

func TestAddReplica_DuplicateIsNoop(t *testing.T) {
	p := newFakePeer(1)
	c := newTestCoordinator(t, idleConfig(), p, newFakePeer(1))

	assert.Equal(t, []types.ReplicaID{1}, c.Members())
	peer, ok := c.Peer(1)
	require.True(t, ok)
	assert.Same(t, p, peer)
}

func TestSendData_NoLeader(t *testing.T) {
	c := newTestCoordinator(t, idleConfig(), newFakePeer(1))

	err := c.SendData(context.Background(), rec(1, "x"))
	require.ErrorIs(t, err, ErrNoLeader)
	assert.Zero(t, c.PendingDepth())
}

func TestSendData_LeaderLogKeepsSubmissionOrder(t *testing.T) {
	ctx := context.Background()
	leaderStore := storage.NewMemory()
	leader := replica.New(1, leaderStore, replica.Config{})
	follower := replica.New(2, storage.NewMemory(), replica.Config{})

	c := newTestCoordinator(t, idleConfig(), leader, follower)
	require.NoError(t, c.ElectLeader(ctx))

	for i := 1; i <= 5; i++ {
		require.NoError(t, c.SendData(ctx, rec(types.RecordID(i), "v")))
	}

	log := leaderStore.Log()
	require.Len(t, log, 5)
	for i, r := range log {
		assert.Equal(t, types.RecordID(i+1), r.ID)
	}
	assert.Equal(t, 5, c.PendingDepth())
}

func TestSendData_PersistenceFailureIsSurfaced(t *testing.T) {
	ctx := context.Background()
	leader := newFakePeer(1)
	leader.replicateErr = storage.ErrPersistenceFailure

	c := newTestCoordinator(t, idleConfig(), leader, newFakePeer(2))
	require.NoError(t, c.ElectLeader(ctx))

	err := c.SendData(ctx, rec(1, "x"))
	require.ErrorIs(t, err, storage.ErrPersistenceFailure)
	assert.Zero(t, c.PendingDepth(), "unacknowledged write must not be queued")
}

func TestSendData_AfterStop(t *testing.T) {
	c := newTestCoordinator(t, idleConfig(), newFakePeer(1))
	require.NoError(t, c.ElectLeader(context.Background()))

	c.Stop()

	require.ErrorIs(t, c.SendData(context.Background(), rec(1, "x")), ErrShuttingDown)
	assert.Equal(t, StateStopped, c.State())
}

func TestDispatch_FansOutToFollowersInOrder(t *testing.T) {
	ctx := context.Background()
	p1, p2, p3 := newFakePeer(1), newFakePeer(2), newFakePeer(3)
	c := newTestCoordinator(t, idleConfig(), p1, p2, p3)
	require.NoError(t, c.ElectLeader(ctx))

	require.NoError(t, c.SendData(ctx, rec(1, "a")))
	require.NoError(t, c.SendData(ctx, rec(2, "b")))

	c.dispatchNext(ctx)
	c.dispatchNext(ctx)
	c.dispatchNext(ctx)

	assert.Zero(t, c.PendingDepth())
	assert.Empty(t, p1.Received(), "leader is not a dispatch target")
	for _, p := range []*fakePeer{p2, p3} {
		got := p.Received()
		require.Len(t, got, 2)
		assert.Equal(t, types.RecordID(1), got[0].ID)
		assert.Equal(t, types.RecordID(2), got[1].ID)

		lag, ok := c.Lag(p.ID())
		require.True(t, ok)
		assert.Zero(t, lag)
	}
}

func TestDispatch_FailedFollowerDoesNotBlockOthers(t *testing.T) {
	ctx := context.Background()
	p1, p2, p3 := newFakePeer(1), newFakePeer(2), newFakePeer(3)
	p2.receiveErr = errors.New("connection refused")
	c := newTestCoordinator(t, idleConfig(), p1, p2, p3)
	require.NoError(t, c.ElectLeader(ctx))

	require.NoError(t, c.SendData(ctx, rec(1, "a")))
	c.dispatchNext(ctx)

	assert.Zero(t, c.PendingDepth(), "entry leaves the queue once every follower was attempted")
	assert.Len(t, p3.Received(), 1)
	assert.Empty(t, p2.Received())

	lag, ok := c.Lag(2)
	require.True(t, ok)
	assert.Equal(t, uint64(1), lag)
	lag, _ = c.Lag(3)
	assert.Zero(t, lag)
}

func TestRemoveReplica_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, idleConfig(), newFakePeer(1), newFakePeer(2), newFakePeer(3))
	require.NoError(t, c.ElectLeader(ctx))

	require.NoError(t, c.RemoveReplica(ctx, 3))
	require.NoError(t, c.RemoveReplica(ctx, 3))

	assert.Equal(t, []types.ReplicaID{1, 2}, c.Members())
	leader, _ := c.Leader()
	assert.Equal(t, types.ReplicaID(1), leader)
}

func TestRemoveReplica_LeaderTriggersElection(t *testing.T) {
	ctx := context.Background()
	p1, p2, p3 := newFakePeer(1), newFakePeer(2), newFakePeer(3)
	c := newTestCoordinator(t, idleConfig(), p1, p2, p3)
	require.NoError(t, c.ElectLeader(ctx))

	require.NoError(t, c.RemoveReplica(ctx, 1))

	leader, ok := c.Leader()
	require.True(t, ok)
	assert.Equal(t, types.ReplicaID(2), leader)
	assert.Equal(t, types.ReplicaID(2), p3.Leader())
}

func TestRemoveReplica_LastMemberLeavesNoLeader(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, idleConfig(), newFakePeer(1))
	require.NoError(t, c.ElectLeader(ctx))

	err := c.RemoveReplica(ctx, 1)
	require.ErrorIs(t, err, ErrNoAvailableLeader)

	_, ok := c.Leader()
	assert.False(t, ok)
	require.ErrorIs(t, c.SendData(ctx, rec(1, "x")), ErrNoLeader)
}

func TestStaleLeaderSelfCheckElectsNext(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	cfg := replica.Config{Clock: clock.Now}

	r1 := replica.New(1, storage.NewMemory(), cfg)
	r2 := replica.New(2, storage.NewMemory(), cfg)
	r3 := replica.New(3, storage.NewMemory(), cfg)

	c := newTestCoordinator(t, idleConfig(), r1, r2, r3)
	for _, r := range []*replica.Replica{r1, r2, r3} {
		r.SetCluster(c)
	}
	require.NoError(t, c.ElectLeader(ctx))

	clock.Advance(replica.DefaultLivenessTimeout + time.Second)
	require.NoError(t, r1.CheckHeartbeat(ctx))

	leader, ok := c.Leader()
	require.True(t, ok)
	assert.Equal(t, types.ReplicaID(2), leader)
	assert.Equal(t, []types.ReplicaID{2, 3}, c.Members())

	got, ok := r3.CurrentLeader()
	require.True(t, ok)
	assert.Equal(t, types.ReplicaID(2), got)
}

func TestHeartbeat_ProbeFailureEvictsFollower(t *testing.T) {
	ctx := context.Background()
	p1, p2, p3 := newFakePeer(1), newFakePeer(2), newFakePeer(3)
	c := newTestCoordinator(t, idleConfig(), p1, p2, p3)
	require.NoError(t, c.ElectLeader(ctx))

	p3.SetHeartbeatErr(ports.ErrProbeFailure)
	c.heartbeatTick(ctx)

	assert.Equal(t, []types.ReplicaID{1, 2}, c.Members())
	assert.Zero(t, p1.Probes(), "leader is not probed by default")
	assert.Equal(t, 1, p2.Probes())
}

func TestHeartbeat_ProbeLeaderEvictsFailedLeader(t *testing.T) {
	ctx := context.Background()
	cfg := idleConfig()
	cfg.ProbeLeader = true
	p1, p2 := newFakePeer(1), newFakePeer(2)
	c := newTestCoordinator(t, cfg, p1, p2)
	require.NoError(t, c.ElectLeader(ctx))

	p1.SetHeartbeatErr(context.DeadlineExceeded)
	c.heartbeatTick(ctx)

	leader, ok := c.Leader()
	require.True(t, ok)
	assert.Equal(t, types.ReplicaID(2), leader)
}

func TestBackgroundLoopsProbeAndDispatch(t *testing.T) {
	ctx := context.Background()
	p1, p2 := newFakePeer(1), newFakePeer(2)
	c := newTestCoordinator(t, Config{
		HeartbeatInterval: 10 * time.Millisecond,
		DispatchInterval:  10 * time.Millisecond,
		ProbeTimeout:      time.Second,
	}, p1, p2)
	require.NoError(t, c.ElectLeader(ctx))
	require.NoError(t, c.SendData(ctx, rec(1, "a")))

	require.Eventually(t, func() bool {
		return len(p2.Received()) == 1 && p2.Probes() > 0
	}, 2*time.Second, 10*time.Millisecond)

	c.Stop()
	c.Stop()

	probes := p2.Probes()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, probes, p2.Probes(), "no probes after Stop")
}

func TestStatusSnapshot(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, idleConfig(), newFakePeer(2), newFakePeer(1))
	require.NoError(t, c.ElectLeader(ctx))
	require.NoError(t, c.SendData(ctx, rec(1, "a")))

	st := c.Status()
	assert.Equal(t, StateStable, st.State)
	assert.Equal(t, types.ReplicaID(1), st.Leader)
	assert.Equal(t, []types.ReplicaID{1, 2}, st.Members)
	assert.Equal(t, 1, st.PendingDepth)
	assert.Equal(t, "STABLE", st.State.String())
}

func TestAddReplica_RejectsReservedID(t *testing.T) {
	c := newTestCoordinator(t, idleConfig(), newFakePeer(2))

	err := c.AddReplica(newFakePeer(types.NoReplica))
	require.ErrorIs(t, err, ErrInvalidReplicaID)
	assert.Equal(t, []types.ReplicaID{2}, c.Members())

	require.NoError(t, c.ElectLeader(context.Background()))
	leader, ok := c.Leader()
	require.True(t, ok)
	assert.Equal(t, types.ReplicaID(2), leader)
}

func TestSendData_ReusedRecordIDIsRejected(t *testing.T) {
	ctx := context.Background()
	leader := replica.New(1, storage.NewMemory(), replica.Config{})
	c := newTestCoordinator(t, idleConfig(), leader, newFakePeer(2))
	require.NoError(t, c.ElectLeader(ctx))

	require.NoError(t, c.SendData(ctx, rec(7, "first")))
	err := c.SendData(ctx, rec(7, "second"))
	require.ErrorIs(t, err, replica.ErrRecordExists)
	assert.Equal(t, 1, c.PendingDepth())

	got, ok, err := leader.GetData(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", string(got.Payload))
}

func TestLag_LeaderIsAlwaysCaughtUp(t *testing.T) {
	ctx := context.Background()
	p1, p2, p3 := newFakePeer(1), newFakePeer(2), newFakePeer(3)
	p3.receiveErr = errors.New("connection refused")
	c := newTestCoordinator(t, idleConfig(), p1, p2, p3)
	require.NoError(t, c.ElectLeader(ctx))

	for i := 1; i <= 3; i++ {
		require.NoError(t, c.SendData(ctx, rec(types.RecordID(i), "v")))
		c.dispatchNext(ctx)
	}

	lag, ok := c.Lag(1)
	require.True(t, ok)
	assert.Zero(t, lag)
	lag, _ = c.Lag(3)
	assert.Equal(t, uint64(3), lag)

	require.NoError(t, c.RemoveReplica(ctx, 1))
	lag, ok = c.Lag(2)
	require.True(t, ok)
	assert.Zero(t, lag, "new leader starts caught up")
}

func TestStop_StateStaysStopped(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, idleConfig(), newFakePeer(1), newFakePeer(2), newFakePeer(3))
	require.NoError(t, c.ElectLeader(ctx))

	c.Stop()

	require.NoError(t, c.RemoveReplica(ctx, 1))
	assert.Equal(t, StateStopped, c.State())

	_, err := c.HandleNetworkPartition(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateStopped, c.State())
}
