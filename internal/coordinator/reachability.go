package coordinator

import "replicadb/internal/types"

// FullyConnected treats every pair of members as reachable.
type FullyConnected struct{}

func (FullyConnected) CanCommunicate(types.ReplicaID, types.ReplicaID) bool { return true }

// ReachabilityFunc adapts a function to ports.Reachability.
type ReachabilityFunc func(a, b types.ReplicaID) bool

func (f ReachabilityFunc) CanCommunicate(a, b types.ReplicaID) bool { return f(a, b) }
