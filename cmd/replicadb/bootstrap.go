package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"replicadb/internal/configuration"
	"replicadb/internal/coordinator"
	"replicadb/internal/httpapi"
	"replicadb/internal/metrics"
	"replicadb/internal/replica"
	"replicadb/internal/storage"
	"replicadb/internal/transport"
	"replicadb/internal/types"
)

// Node is everything one process hosts: a local replica, optionally the
// coordinator, and the servers in front of them.
type Node struct {
	cfg *configuration.Properties

	store   storage.Storage
	replica *replica.Replica

	coordinator *coordinator.Coordinator
	peers       []*transport.Client
	api         *httpapi.Listener

	coordClient *transport.CoordinatorClient
	directory   *transport.Directory

	grpc    *transport.Server
	metrics *metrics.Server
}

func NewNode(cfg *configuration.Properties) (*Node, error) {
	store, err := openStorage(cfg)
	if err != nil {
		return nil, err
	}

	r, err := replica.Open(cfg.Node.ID(), store, replica.Config{
		LivenessTimeout: cfg.Replica.LivenessTimeout,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open replica: %w", err)
	}

	n := &Node{
		cfg:     cfg,
		store:   store,
		replica: r,
		grpc:    transport.NewServer(),
		metrics: metrics.NewServer(cfg.Metrics.Address),
	}
	n.grpc.RegisterReplica(r)

	if cfg.Node.Coordinator {
		err = n.buildCoordinator()
	} else {
		err = n.buildReplicaOnly()
	}
	if err != nil {
		n.Stop(context.Background())
		return nil, err
	}
	return n, nil
}

func openStorage(cfg *configuration.Properties) (storage.Storage, error) {
	switch cfg.Storage.Backend {
	case configuration.StorageBackendMemory:
		return storage.NewMemory(), nil
	case configuration.StorageBackendWAL:
		s, err := storage.OpenWAL(cfg.StorageDir(), cfg.Storage.NoSync)
		if err != nil {
			return nil, fmt.Errorf("open wal storage: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", configuration.ErrUnknownBackend, cfg.Storage.Backend)
	}
}

func (n *Node) buildCoordinator() error {
	n.coordinator = coordinator.New(nil, coordinator.NewConfigFromProperties(&n.cfg.Coordinator))
	if err := n.coordinator.AddReplica(n.replica); err != nil {
		return err
	}
	n.replica.SetCluster(n.coordinator)

	for id, addr := range n.cfg.Cluster.Peers {
		if types.ReplicaID(id) == n.cfg.Node.ID() {
			continue
		}
		client, err := transport.Dial(types.ReplicaID(id), addr, transport.ConnectTimeout(n.cfg.Transport.DialTimeout))
		if err != nil {
			return fmt.Errorf("dial replica %d at %s: %w", id, addr, err)
		}
		n.peers = append(n.peers, client)
		if err := n.coordinator.AddReplica(client); err != nil {
			return err
		}
	}

	n.grpc.RegisterCoordinator(n.coordinator)
	if n.cfg.HTTP.Address != "" {
		n.api = httpapi.NewListener(n.cfg.HTTP.Address, httpapi.New(n.coordinator, n.cfg.Coordinator.WriteTimeout))
	}
	return nil
}

func (n *Node) buildReplicaOnly() error {
	connect := transport.ConnectTimeout(n.cfg.Transport.DialTimeout)
	client, err := transport.DialCoordinator(n.cfg.Node.CoordinatorAddr, connect)
	if err != nil {
		return fmt.Errorf("dial coordinator at %s: %w", n.cfg.Node.CoordinatorAddr, err)
	}
	n.coordClient = client

	addrs := make(map[types.ReplicaID]string, len(n.cfg.Cluster.Peers))
	for id, addr := range n.cfg.Cluster.Peers {
		if types.ReplicaID(id) != n.cfg.Node.ID() {
			addrs[types.ReplicaID(id)] = addr
		}
	}
	n.directory = transport.NewDirectory(client, addrs, connect)
	n.replica.SetCluster(n.directory)
	return nil
}

func (n *Node) Start(ctx context.Context) error {
	n.metrics.Start()

	if _, err := n.grpc.Listen("tcp", n.cfg.Transport.ListenAddr()); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}

	if n.coordinator == nil {
		return nil
	}

	if err := n.coordinator.ElectLeader(ctx); err != nil {
		return fmt.Errorf("initial election: %w", err)
	}
	if n.api != nil {
		n.api.Start()
	}
	return nil
}

// Stop tears down in reverse dependency order. Safe on a partially built node.
func (n *Node) Stop(ctx context.Context) {
	if n.api != nil {
		n.api.Stop(ctx)
	}
	if n.coordinator != nil {
		n.coordinator.Stop()
	}
	if n.grpc != nil {
		n.grpc.Stop()
	}

	var errs []error
	for _, p := range n.peers {
		errs = append(errs, p.Close())
	}
	if n.directory != nil {
		errs = append(errs, n.directory.Close())
	}
	if n.coordClient != nil {
		errs = append(errs, n.coordClient.Close())
	}
	if n.store != nil {
		errs = append(errs, n.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		slog.Error("errors while closing node resources", "error", err)
	}

	if n.metrics != nil {
		n.metrics.Stop(ctx)
	}
	slog.Info("node stopped", "replica_id", n.cfg.Node.ReplicaID)
}
