package coordinator

import (
	"context"
	"log/slog"

	"go.etcd.io/raft/v3/quorum"

	"replicadb/internal/metrics"
	"replicadb/internal/ports"
	"replicadb/internal/types"
)

// HandleNetworkPartition groups members by reachability, picks the largest
// group and makes its lowest-id member the leader. Members outside the chosen
// group stay in the membership set. It returns the leader in effect afterwards.
func (c *Coordinator) HandleNetworkPartition(ctx context.Context) (types.ReplicaID, error) {
	c.mu.Lock()
	ids := c.sortedIDsLocked()
	c.mu.Unlock()

	if len(ids) == 0 {
		return types.NoReplica, ErrNoAvailableLeader
	}

	// reachability may call out to the network, so grouping runs unlocked
	groups := groupByReachability(ids, c.reach)
	chosen := largestGroup(groups)
	metrics.PartitionGroups.Set(float64(len(groups)))

	if len(groups) > 1 {
		slog.Warn("network partition detected", "groups", len(groups), "chosen_size", len(chosen))
		reportMinority(ids, chosen)
	}

	candidate := chosen[0]

	c.mu.Lock()
	if _, ok := c.members[candidate]; !ok {
		c.mu.Unlock()
		// membership moved while grouping; fall back to a plain election
		slog.Warn("partition candidate no longer a member", "replica_id", candidate)
		if err := c.electLeader(ctx, "partition"); err != nil {
			return types.NoReplica, err
		}
		leader, _ := c.Leader()
		return leader, nil
	}
	if c.leader == candidate {
		c.mu.Unlock()
		return candidate, nil
	}

	previous := c.leader
	c.installLeaderLocked(candidate)
	c.setStateLocked(StateStable)
	targets := c.peersLocked(c.sortedIDsLocked())
	c.mu.Unlock()

	metrics.ElectionsTotal.WithLabelValues("partition").Inc()
	metrics.LeaderID.Set(float64(candidate))
	slog.Info("leader changed after partition", "leader_id", candidate, "previous", previous)

	c.broadcastLeader(ctx, candidate, targets)
	c.startLoops()

	return candidate, nil
}

// groupByReachability splits ids into disjoint groups of transitively
// reachable members. Traversal follows the order of ids, so the first member
// of each group is its lowest id when ids is sorted.
func groupByReachability(ids []types.ReplicaID, reach ports.Reachability) [][]types.ReplicaID {
	visited := make(map[types.ReplicaID]bool, len(ids))
	var groups [][]types.ReplicaID

	var visit func(id types.ReplicaID, group []types.ReplicaID) []types.ReplicaID
	visit = func(id types.ReplicaID, group []types.ReplicaID) []types.ReplicaID {
		visited[id] = true
		group = append(group, id)
		for _, other := range ids {
			if visited[other] || !reach.CanCommunicate(id, other) {
				continue
			}
			group = visit(other, group)
		}
		return group
	}

	for _, id := range ids {
		if visited[id] {
			continue
		}
		groups = append(groups, visit(id, nil))
	}
	return groups
}

// largestGroup returns the biggest group; on a tie the earlier one wins.
func largestGroup(groups [][]types.ReplicaID) []types.ReplicaID {
	var best []types.ReplicaID
	for _, g := range groups {
		if len(g) > len(best) {
			best = g
		}
	}
	return best
}

// reportMinority warns when the chosen group could not win a majority of the
// full membership. Leadership is installed regardless.
func reportMinority(all, chosen []types.ReplicaID) {
	cfg := quorum.MajorityConfig{}
	for _, id := range all {
		cfg[uint64(id)] = struct{}{}
	}
	votes := make(map[uint64]bool, len(all))
	for _, id := range all {
		votes[uint64(id)] = false
	}
	for _, id := range chosen {
		votes[uint64(id)] = true
	}

	if cfg.VoteResult(votes) == quorum.VoteWon {
		return
	}
	metrics.MinorityLeaderTotal.Inc()
	slog.Warn("leader group holds no majority, split-brain possible",
		"group_size", len(chosen),
		"members", cfg.String(),
	)
}
