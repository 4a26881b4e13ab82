package transport

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"replicadb/internal/ports"
	"replicadb/internal/types"
)

func defaultDialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}
}

// ConnectTimeout bounds each connection attempt.
func ConnectTimeout(d time.Duration) grpc.DialOption {
	return grpc.WithConnectParams(grpc.ConnectParams{
		Backoff:           backoff.DefaultConfig,
		MinConnectTimeout: d,
	})
}

func dial(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr, append(defaultDialOptions(), opts...)...)
}

// Client is a remote replica. It satisfies ports.Peer.
type Client struct {
	id   types.ReplicaID
	conn *grpc.ClientConn
}

var _ ports.Peer = (*Client)(nil)

// Dial creates a lazily connecting client for the replica at addr.
func Dial(id types.ReplicaID, addr string, opts ...grpc.DialOption) (*Client, error) {
	conn, err := dial(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{id: id, conn: conn}, nil
}

func (c *Client) ID() types.ReplicaID {
	return c.id
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	return fromStatus(method, c.conn.Invoke(ctx, fullMethod(ReplicaServiceName, method), in, out))
}

func (c *Client) NotifyLeader(ctx context.Context, leader types.ReplicaID) error {
	return c.invoke(ctx, "NotifyLeader", wrapperspb.UInt64(uint64(leader)), &emptypb.Empty{})
}

func (c *Client) CheckHeartbeat(ctx context.Context) error {
	return c.invoke(ctx, "CheckHeartbeat", &emptypb.Empty{}, &emptypb.Empty{})
}

func (c *Client) ReceiveData(ctx context.Context, rec types.Record) error {
	return c.invoke(ctx, "ReceiveData", wrapperspb.Bytes(types.EncodeRecord(rec)), &emptypb.Empty{})
}

func (c *Client) ReplicateData(ctx context.Context, rec types.Record) error {
	return c.invoke(ctx, "ReplicateData", wrapperspb.Bytes(types.EncodeRecord(rec)), &emptypb.Empty{})
}

func (c *Client) GetData(ctx context.Context, id types.RecordID) (types.Record, bool, error) {
	out := &wrapperspb.BytesValue{}
	if err := c.invoke(ctx, "GetData", wrapperspb.UInt64(uint64(id)), out); err != nil {
		if errors.Is(err, errNotFound) {
			return types.Record{}, false, nil
		}
		return types.Record{}, false, err
	}
	rec, err := types.DecodeRecord(out.GetValue())
	if err != nil {
		return types.Record{}, false, err
	}
	return rec, true, nil
}

func (c *Client) Records(ctx context.Context) ([]types.Record, error) {
	out := &wrapperspb.BytesValue{}
	if err := c.invoke(ctx, "Records", &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return types.DecodeRecords(out.GetValue())
}

// CoordinatorClient is the replica-side handle to a remote coordinator.
type CoordinatorClient struct {
	conn *grpc.ClientConn
}

func DialCoordinator(addr string, opts ...grpc.DialOption) (*CoordinatorClient, error) {
	conn, err := dial(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &CoordinatorClient{conn: conn}, nil
}

func (c *CoordinatorClient) Close() error {
	return c.conn.Close()
}

func (c *CoordinatorClient) RemoveReplica(ctx context.Context, id types.ReplicaID) error {
	err := c.conn.Invoke(ctx, fullMethod(CoordinatorServiceName, "RemoveReplica"), wrapperspb.UInt64(uint64(id)), &emptypb.Empty{})
	return fromStatus("RemoveReplica", err)
}

func (c *CoordinatorClient) Leader(ctx context.Context) (types.ReplicaID, bool, error) {
	out := &wrapperspb.UInt64Value{}
	err := c.conn.Invoke(ctx, fullMethod(CoordinatorServiceName, "Leader"), &emptypb.Empty{}, out)
	if err != nil {
		return types.NoReplica, false, fromStatus("Leader", err)
	}
	id := types.ReplicaID(out.GetValue())
	return id, id != types.NoReplica, nil
}
