package coordinator

import "errors"

var (
	ErrNoLeader = errors.New("no leader")

	ErrNoAvailableLeader = errors.New("no available leader")

	ErrShuttingDown = errors.New("shutting down")

	// ErrInvalidReplicaID rejects the id reserved for "no replica".
	ErrInvalidReplicaID = errors.New("invalid replica id")
)
