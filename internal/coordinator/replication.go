package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"replicadb/internal/metrics"
	"replicadb/internal/ports"
	"replicadb/internal/types"
)

// SendData hands rec to the current leader for durable storage and, once the
// leader has accepted it, queues it for fan-out to followers. A leader-side
// failure is returned and the record is not queued.
func (c *Coordinator) SendData(ctx context.Context, rec types.Record) error {
	if c.shuttingDown.Load() {
		return ErrShuttingDown
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	leader, ok := c.members[c.leader]
	c.mu.Unlock()

	if !ok {
		metrics.WritesTotal.WithLabelValues("no_leader").Inc()
		return ErrNoLeader
	}

	start := time.Now()
	if err := leader.ReplicateData(ctx, rec); err != nil {
		metrics.WritesTotal.WithLabelValues("failed").Inc()
		slog.Error("leader failed to replicate record",
			"leader_id", leader.ID(),
			"record_id", rec.ID,
			"error", err,
		)
		return fmt.Errorf("replicate record %d on leader %d: %w", rec.ID, leader.ID(), err)
	}
	metrics.WriteDuration.Observe(time.Since(start).Seconds())

	c.mu.Lock()
	c.nextSeq++
	c.queue = append(c.queue, pendingEntry{seq: c.nextSeq, record: rec.Clone()})
	depth := len(c.queue)
	c.mu.Unlock()

	metrics.WritesTotal.WithLabelValues("ok").Inc()
	metrics.PendingQueueDepth.Set(float64(depth))

	slog.Debug("record queued for dispatch", "record_id", rec.ID, "leader_id", leader.ID(), "depth", depth)
	return nil
}

// dispatchNext delivers the oldest queued entry to every follower. The entry
// and the follower set are read together under the lock; delivery happens
// without it. The entry leaves the queue only after every follower has been
// attempted once.
func (c *Coordinator) dispatchNext(ctx context.Context) {
	c.mu.Lock()
	if c.leader == types.NoReplica || len(c.queue) == 0 {
		c.mu.Unlock()
		return
	}
	entry := c.queue[0]
	leaderID := c.leader
	followers := c.followersLocked()
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range followers {
		wg.Add(1)
		go func(p ports.Peer) {
			defer wg.Done()

			callCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
			defer cancel()

			if err := p.ReceiveData(callCtx, entry.record); err != nil {
				metrics.DispatchTotal.WithLabelValues("failed").Inc()
				slog.Warn("failed to dispatch record",
					"replica_id", p.ID(),
					"record_id", entry.record.ID,
					"error", err,
				)
				return
			}
			metrics.DispatchTotal.WithLabelValues("ok").Inc()
			c.ack(p.ID(), entry.seq)
		}(p)
	}
	wg.Wait()

	c.mu.Lock()
	if len(c.queue) > 0 && c.queue[0].seq == entry.seq {
		c.queue = c.queue[1:]
	}
	c.dispatchedSeq = entry.seq
	if _, ok := c.acked[c.leader]; ok {
		c.acked[c.leader] = c.dispatchedSeq
	}
	depth := len(c.queue)
	lags := make(map[types.ReplicaID]uint64, len(c.acked))
	for id, acked := range c.acked {
		if id == leaderID {
			continue
		}
		lags[id] = c.dispatchedSeq - acked
	}
	c.mu.Unlock()

	metrics.PendingQueueDepth.Set(float64(depth))
	for id, lag := range lags {
		metrics.FollowerLag.WithLabelValues(replicaLabel(id)).Set(float64(lag))
	}

	slog.Debug("record dispatched",
		"record_id", entry.record.ID,
		"followers", len(followers),
		"depth", depth,
	)
}

func (c *Coordinator) ack(id types.ReplicaID, seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if acked, ok := c.acked[id]; ok && seq > acked {
		c.acked[id] = seq
	}
}
