package configuration

import (
	"net"
	"path/filepath"
	"strconv"
	"time"

	"replicadb/internal/types"
)

type Properties struct {
	App         AppProperties         `yaml:"app"`
	Node        NodeProperties        `yaml:"node"`
	Coordinator CoordinatorProperties `yaml:"coordinator"`
	Replica     ReplicaProperties     `yaml:"replica"`
	Storage     StorageProperties     `yaml:"storage"`
	Transport   TransportProperties   `yaml:"transport"`
	HTTP        HTTPProperties        `yaml:"http"`
	Metrics     MetricsProperties     `yaml:"metrics"`
	Cluster     ClusterProperties     `yaml:"cluster"`
}

type AppProperties struct {
	Profile  string `yaml:"profile"`
	LogLevel string `yaml:"log-level"`
}

type NodeProperties struct {
	ReplicaID uint64 `yaml:"replica-id"`
	// Coordinator makes this process host the replication coordinator.
	Coordinator     bool   `yaml:"coordinator"`
	CoordinatorAddr string `yaml:"coordinator-addr"`
}

type CoordinatorProperties struct {
	HeartbeatInterval      time.Duration `yaml:"heartbeat-interval"`
	DispatchInterval       time.Duration `yaml:"dispatch-interval"`
	ProbeTimeout           time.Duration `yaml:"probe-timeout"`
	ProbeLeader            bool          `yaml:"probe-leader"`
	PartitionCheckInterval time.Duration `yaml:"partition-check-interval"`
	WriteTimeout           time.Duration `yaml:"write-timeout"`
}

type ReplicaProperties struct {
	LivenessTimeout time.Duration `yaml:"liveness-timeout"`
}

const (
	StorageBackendMemory = "memory"
	StorageBackendWAL    = "wal"
)

type StorageProperties struct {
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
	NoSync  bool   `yaml:"no-sync"`
}

type TransportProperties struct {
	Address     string        `yaml:"address"`
	Port        string        `yaml:"port"`
	DialTimeout time.Duration `yaml:"dial-timeout"`
}

type HTTPProperties struct {
	Address string `yaml:"address"`
}

type MetricsProperties struct {
	Address string `yaml:"address"`
}

type ClusterProperties struct {
	// Peers maps replica id to gRPC address and includes this node.
	Peers map[uint64]string `yaml:"peers"`
}

func (t *TransportProperties) ListenAddr() string {
	return net.JoinHostPort(t.Address, t.Port)
}

func (n *NodeProperties) ID() types.ReplicaID {
	return types.ReplicaID(n.ReplicaID)
}

// StorageDir is the per-replica directory under the configured storage dir.
func (p *Properties) StorageDir() string {
	return filepath.Join(p.Storage.Dir, "replica-"+strconv.FormatUint(p.Node.ReplicaID, 10))
}
