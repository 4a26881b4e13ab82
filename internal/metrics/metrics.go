package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LeaderID = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "replicadb",
		Subsystem: "coordinator",
		Name:      "leader_id",
		Help:      "Id of the current leader (0 when none is elected)",
	})

	MembersTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "replicadb",
		Subsystem: "coordinator",
		Name:      "members_total",
		Help:      "Number of replicas in the membership set",
	})

	ElectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replicadb",
		Subsystem: "coordinator",
		Name:      "elections_total",
		Help:      "Leader installations by trigger",
	}, []string{"reason"})

	EvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "replicadb",
		Subsystem: "coordinator",
		Name:      "evictions_total",
		Help:      "Replicas removed from the membership set",
	})

	PendingQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "replicadb",
		Subsystem: "coordinator",
		Name:      "pending_queue_depth",
		Help:      "Records waiting to be dispatched to followers",
	})

	HeartbeatProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replicadb",
		Subsystem: "heartbeat",
		Name:      "probes_total",
		Help:      "Heartbeat probes sent by the coordinator",
	}, []string{"result"})

	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replicadb",
		Subsystem: "dispatch",
		Name:      "deliveries_total",
		Help:      "Per-follower record deliveries attempted by the dispatch cycle",
	}, []string{"result"})

	FollowerLag = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "replicadb",
		Subsystem: "dispatch",
		Name:      "follower_lag_entries",
		Help:      "Dispatched entries a follower has not acknowledged",
	}, []string{"replica_id"})

	PartitionGroups = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "replicadb",
		Subsystem: "partition",
		Name:      "groups",
		Help:      "Reachability groups found by the last partition evaluation",
	})

	MinorityLeaderTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "replicadb",
		Subsystem: "partition",
		Name:      "minority_leader_total",
		Help:      "Partition evaluations whose chosen group lacked a majority of members",
	})

	WritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replicadb",
		Subsystem: "write",
		Name:      "total",
		Help:      "Client writes submitted to the coordinator",
	}, []string{"status"})

	WriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "replicadb",
		Subsystem: "write",
		Name:      "duration_seconds",
		Help:      "Time for the leader to durably accept a write",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 20),
	})

	StorageOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replicadb",
		Subsystem: "storage",
		Name:      "operations_total",
		Help:      "Total storage operations",
	}, []string{"operation"})

	StorageSnapshotSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "replicadb",
		Subsystem: "storage",
		Name:      "snapshot_size_bytes",
		Help:      "Size of last snapshot in bytes",
	})

	WALWriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "replicadb",
		Subsystem: "wal",
		Name:      "write_duration_seconds",
		Help:      "WAL write duration",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 20),
	})

	GRPCRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replicadb",
		Subsystem: "grpc",
		Name:      "requests_total",
		Help:      "Total gRPC requests",
	}, []string{"service", "method", "code"})

	GRPCRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "replicadb",
		Subsystem: "grpc",
		Name:      "request_duration_seconds",
		Help:      "gRPC request duration",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 20),
	}, []string{"service", "method"})
)
