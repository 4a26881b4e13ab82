package coordinator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replicadb/internal/types"
)

func TestGroupByReachability(t *testing.T) {
	tests := []struct {
		name  string
		ids   []types.ReplicaID
		split splitReachability
		want  [][]types.ReplicaID
	}{
		{
			name:  "fully connected",
			ids:   []types.ReplicaID{1, 2, 3},
			split: splitReachability{1: 0, 2: 0, 3: 0},
			want:  [][]types.ReplicaID{{1, 2, 3}},
		},
		{
			name:  "two and one",
			ids:   []types.ReplicaID{1, 2, 3},
			split: splitReachability{1: 0, 2: 0, 3: 1},
			want:  [][]types.ReplicaID{{1, 2}, {3}},
		},
		{
			name:  "all isolated",
			ids:   []types.ReplicaID{1, 2, 3},
			split: splitReachability{1: 0, 2: 1, 3: 2},
			want:  [][]types.ReplicaID{{1}, {2}, {3}},
		},
		{
			name:  "interleaved",
			ids:   []types.ReplicaID{1, 2, 3, 4},
			split: splitReachability{1: 0, 2: 1, 3: 0, 4: 1},
			want:  [][]types.ReplicaID{{1, 3}, {2, 4}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, groupByReachability(tt.ids, tt.split))
		})
	}
}

func TestGroupByReachability_Transitive(t *testing.T) {
	// 1-2 and 2-3 reachable, 1-3 not
	chain := ReachabilityFunc(func(a, b types.ReplicaID) bool {
		if a > b {
			a, b = b, a
		}
		return b-a == 1
	})

	groups := groupByReachability([]types.ReplicaID{1, 2, 3}, chain)
	assert.Equal(t, [][]types.ReplicaID{{1, 2, 3}}, groups)
}

func TestLargestGroup_TieKeepsFirst(t *testing.T) {
	got := largestGroup([][]types.ReplicaID{{1, 3}, {2, 4}, {5}})
	assert.Equal(t, []types.ReplicaID{1, 3}, got)
}

func TestHandleNetworkPartition_MajorityGroupLeads(t *testing.T) {
	ctx := context.Background()
	p1, p2, p3 := newFakePeer(1), newFakePeer(2), newFakePeer(3)

	c := New(splitReachability{1: 0, 2: 0, 3: 1}, idleConfig())
	t.Cleanup(c.Stop)
	for _, p := range []*fakePeer{p3, p1, p2} {
		require.NoError(t, c.AddReplica(p))
	}

	leader, err := c.HandleNetworkPartition(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.ReplicaID(1), leader)
	assert.Equal(t, []types.ReplicaID{1, 2, 3}, c.Members(), "partition handling never evicts")
	assert.Equal(t, types.ReplicaID(1), p2.Leader())
}

func TestHandleNetworkPartition_MovesLeaderToLargerGroup(t *testing.T) {
	ctx := context.Background()
	split := splitReachability{1: 0, 2: 0, 3: 0}
	p1, p2, p3 := newFakePeer(1), newFakePeer(2), newFakePeer(3)

	c := New(split, idleConfig())
	t.Cleanup(c.Stop)
	for _, p := range []*fakePeer{p1, p2, p3} {
		require.NoError(t, c.AddReplica(p))
	}
	require.NoError(t, c.ElectLeader(ctx))

	split[1] = 1

	leader, err := c.HandleNetworkPartition(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.ReplicaID(2), leader)
	assert.Equal(t, types.ReplicaID(2), p3.Leader())
	assert.Len(t, c.Members(), 3)
}

func TestHandleNetworkPartition_UnchangedLeaderSkipsBroadcast(t *testing.T) {
	ctx := context.Background()
	p1, p2 := newFakePeer(1), newFakePeer(2)
	c := newTestCoordinator(t, idleConfig(), p1, p2)
	require.NoError(t, c.ElectLeader(ctx))

	leader, err := c.HandleNetworkPartition(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.ReplicaID(1), leader)

	p2.mu.Lock()
	calls := p2.notifyCalls
	p2.mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestHandleNetworkPartition_Empty(t *testing.T) {
	c := newTestCoordinator(t, idleConfig())

	_, err := c.HandleNetworkPartition(context.Background())
	require.ErrorIs(t, err, ErrNoAvailableLeader)
}
