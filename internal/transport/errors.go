package transport

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"replicadb/internal/ports"
	"replicadb/internal/replica"
	"replicadb/internal/storage"
)

var errNotFound = errors.New("not found")

// toStatus converts a domain error into a gRPC status error. nil stays nil.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, storage.ErrPersistenceFailure):
		return status.Error(codes.DataLoss, err.Error())
	case errors.Is(err, replica.ErrRecordExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, replica.ErrNoLeaderKnown), errors.Is(err, replica.ErrLeaderUnavailable):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ports.ErrProbeFailure):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// fromStatus maps a failed call back into the domain taxonomy. Calls that
// never completed become ports.ErrProbeFailure.
func fromStatus(method string, err error) error {
	if err == nil {
		return nil
	}

	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%s: %w: %w", method, ports.ErrProbeFailure, err)
	}

	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return fmt.Errorf("%s: %w: %w", method, ports.ErrProbeFailure, err)
	case codes.DataLoss:
		return fmt.Errorf("%s: %w: %s", method, storage.ErrPersistenceFailure, st.Message())
	case codes.NotFound:
		return fmt.Errorf("%s: %w", method, errNotFound)
	case codes.AlreadyExists:
		return fmt.Errorf("%s: %w: %s", method, replica.ErrRecordExists, st.Message())
	case codes.FailedPrecondition:
		return fmt.Errorf("%s: %w: %s", method, replica.ErrNoLeaderKnown, st.Message())
	default:
		return fmt.Errorf("%s: %w", method, err)
	}
}
