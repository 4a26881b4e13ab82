package ports

import (
	"context"
	"errors"

	"replicadb/internal/types"
)

// ErrProbeFailure marks a remote call that did not complete: timeout, connection
// error or cancelled transport. It is distinct from a call that completed with a
// negative answer.
var ErrProbeFailure = errors.New("probe failure")

// Peer is a cluster member as seen by the coordinator. Local replicas and
// transport clients both satisfy it.
type Peer interface {
	ID() types.ReplicaID
	NotifyLeader(ctx context.Context, leader types.ReplicaID) error
	CheckHeartbeat(ctx context.Context) error
	ReceiveData(ctx context.Context, rec types.Record) error
	ReplicateData(ctx context.Context, rec types.Record) error
	GetData(ctx context.Context, id types.RecordID) (types.Record, bool, error)
	Records(ctx context.Context) ([]types.Record, error)
}

// Reachability reports whether two members can currently talk to each other.
// Implementations must be symmetric for the duration of one evaluation.
type Reachability interface {
	CanCommunicate(a, b types.ReplicaID) bool
}
