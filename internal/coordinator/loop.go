package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"replicadb/internal/metrics"
	"replicadb/internal/ports"
)

// startLoops launches the background cycles the first time a leader is
// installed. Later calls, and calls after Stop, do nothing.
func (c *Coordinator) startLoops() {
	if c.shuttingDown.Load() {
		return
	}
	c.loopsOnce.Do(func() {
		c.stoppedWg.Add(2)
		go c.runHeartbeatLoop()
		go c.runDispatchLoop()

		if c.partitionCheckInterval > 0 {
			c.stoppedWg.Add(1)
			go c.runPartitionLoop()
		}

		slog.Info("coordinator loops started")
	})
}

func (c *Coordinator) runHeartbeatLoop() {
	defer c.stoppedWg.Done()

	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCtx.Done():
			slog.Debug("heartbeat loop stopped")
			return
		case <-ticker.C:
			c.heartbeatTick(c.stopCtx)
		}
	}
}

func (c *Coordinator) runDispatchLoop() {
	defer c.stoppedWg.Done()

	ticker := time.NewTicker(c.dispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCtx.Done():
			slog.Debug("dispatch loop stopped")
			return
		case <-ticker.C:
			c.dispatchNext(c.stopCtx)
		}
	}
}

func (c *Coordinator) runPartitionLoop() {
	defer c.stoppedWg.Done()

	ticker := time.NewTicker(c.partitionCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCtx.Done():
			slog.Debug("partition loop stopped")
			return
		case <-ticker.C:
			if _, err := c.HandleNetworkPartition(c.stopCtx); err != nil && !errors.Is(err, ErrNoAvailableLeader) {
				slog.Warn("partition check failed", "error", err)
			}
		}
	}
}

// heartbeatTick probes every follower, and the leader when configured,
// concurrently. The target set is snapshotted before any probe is sent.
func (c *Coordinator) heartbeatTick(ctx context.Context) {
	c.mu.Lock()
	targets := c.followersLocked()
	if c.probeLeader {
		if leader, ok := c.members[c.leader]; ok {
			targets = append(targets, leader)
		}
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range targets {
		wg.Add(1)
		go func(p ports.Peer) {
			defer wg.Done()
			c.sendHeartbeat(ctx, p)
		}(p)
	}
	wg.Wait()
}

// sendHeartbeat probes one member. A member that cannot be reached is evicted
// unless the coordinator is shutting down.
func (c *Coordinator) sendHeartbeat(ctx context.Context, p ports.Peer) {
	callCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	err := p.CheckHeartbeat(callCtx)
	if err == nil {
		metrics.HeartbeatProbesTotal.WithLabelValues("ok").Inc()
		return
	}

	if c.stopCtx.Err() != nil {
		return
	}

	metrics.HeartbeatProbesTotal.WithLabelValues("failed").Inc()
	slog.Warn("heartbeat probe failed, evicting replica", "replica_id", p.ID(), "error", err)

	if err := c.RemoveReplica(ctx, p.ID()); err != nil {
		slog.Warn("eviction after failed probe did not complete", "replica_id", p.ID(), "error", err)
	}
}
