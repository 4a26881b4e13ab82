package coordinator

import (
	"context"
	"log/slog"
	"sync"

	"replicadb/internal/metrics"
	"replicadb/internal/ports"
	"replicadb/internal/types"
)

// ElectLeader installs the member with the lowest id as leader, tells every
// member about it and makes sure the heartbeat and dispatch cycles are running.
//
// Members that fail to acknowledge the new leader are only logged; eviction is
// left to the heartbeat cycle. If the chosen leader is removed while the
// broadcast is in flight, the election runs again.
func (c *Coordinator) ElectLeader(ctx context.Context) error {
	return c.electLeader(ctx, "election")
}

func (c *Coordinator) electLeader(ctx context.Context, reason string) error {
	for {
		c.mu.Lock()
		if len(c.members) == 0 {
			c.leader = types.NoReplica
			c.setStateLocked(StateElectingLeader)
			c.mu.Unlock()

			metrics.LeaderID.Set(0)
			slog.Warn("no replicas available for election")
			return ErrNoAvailableLeader
		}

		c.setStateLocked(StateElectingLeader)
		ids := c.sortedIDsLocked()
		leaderID := ids[0]
		c.installLeaderLocked(leaderID)
		targets := c.peersLocked(ids)
		c.mu.Unlock()

		metrics.ElectionsTotal.WithLabelValues(reason).Inc()
		metrics.LeaderID.Set(float64(leaderID))
		slog.Info("leader elected", "leader_id", leaderID, "members", len(ids), "reason", reason)

		c.broadcastLeader(ctx, leaderID, targets)

		c.mu.Lock()
		_, present := c.members[leaderID]
		if present {
			if c.leader == leaderID {
				c.setStateLocked(StateStable)
			}
			c.mu.Unlock()
			break
		}
		c.mu.Unlock()

		slog.Warn("elected leader removed during broadcast, re-electing", "leader_id", leaderID)
		reason = "reelection"
	}

	c.startLoops()
	return nil
}

// broadcastLeader notifies every target concurrently. Failures are logged only.
func (c *Coordinator) broadcastLeader(ctx context.Context, leaderID types.ReplicaID, targets []ports.Peer) {
	var wg sync.WaitGroup
	for _, p := range targets {
		wg.Add(1)
		go func(p ports.Peer) {
			defer wg.Done()

			callCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
			defer cancel()

			if err := p.NotifyLeader(callCtx, leaderID); err != nil {
				slog.Warn("failed to notify replica of leader",
					"replica_id", p.ID(),
					"leader_id", leaderID,
					"error", err,
				)
			}
		}(p)
	}
	wg.Wait()
}

// RemoveReplica drops id from the membership set. Removing the leader triggers
// a new election. Removing an absent member does nothing.
func (c *Coordinator) RemoveReplica(ctx context.Context, id types.ReplicaID) error {
	c.mu.Lock()
	if _, ok := c.members[id]; !ok {
		c.mu.Unlock()
		slog.Debug("replica not a member, nothing to remove", "replica_id", id)
		return nil
	}

	delete(c.members, id)
	delete(c.acked, id)
	wasLeader := c.leader == id
	if wasLeader {
		c.leader = types.NoReplica
		c.setStateLocked(StateElectingLeader)
	}
	remaining := len(c.members)
	c.mu.Unlock()

	metrics.EvictionsTotal.Inc()
	metrics.MembersTotal.Set(float64(remaining))
	metrics.FollowerLag.DeleteLabelValues(replicaLabel(id))

	slog.Info("replica removed", "replica_id", id, "was_leader", wasLeader, "remaining", remaining)

	if !wasLeader {
		return nil
	}
	metrics.LeaderID.Set(0)
	return c.electLeader(ctx, "leader_lost")
}
