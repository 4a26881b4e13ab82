package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"google.golang.org/grpc"

	"replicadb/internal/ports"
	"replicadb/internal/replica"
	"replicadb/internal/types"
)

// Directory is the cluster handle of a replica hosted apart from the
// coordinator. Removal requests go to the coordinator; peers are resolved
// from a static address book and dialled on first use.
type Directory struct {
	coordinator *CoordinatorClient
	addrs       map[types.ReplicaID]string
	opts        []grpc.DialOption

	mu      sync.Mutex
	clients map[types.ReplicaID]*Client
}

var _ replica.Cluster = (*Directory)(nil)

func NewDirectory(coordinator *CoordinatorClient, addrs map[types.ReplicaID]string, opts ...grpc.DialOption) *Directory {
	return &Directory{
		coordinator: coordinator,
		addrs:       addrs,
		opts:        opts,
		clients:     make(map[types.ReplicaID]*Client),
	}
}

func (d *Directory) RemoveReplica(ctx context.Context, id types.ReplicaID) error {
	return d.coordinator.RemoveReplica(ctx, id)
}

func (d *Directory) Peer(id types.ReplicaID) (ports.Peer, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.clients[id]; ok {
		return c, true
	}
	addr, ok := d.addrs[id]
	if !ok {
		return nil, false
	}

	c, err := Dial(id, addr, d.opts...)
	if err != nil {
		slog.Warn("failed to dial peer", "replica_id", id, "addr", addr, "error", err)
		return nil, false
	}
	d.clients[id] = c
	return c, true
}

func (d *Directory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for id, c := range d.clients {
		errs = append(errs, c.Close())
		delete(d.clients, id)
	}
	return errors.Join(errs...)
}
