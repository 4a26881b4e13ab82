// Package transport exposes replicas and the coordinator over gRPC and
// provides clients that satisfy the same interfaces remotely.
//
// Messages are protobuf well-known types; records travel as their protowire
// encoding inside BytesValue.
package transport

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"replicadb/internal/ports"
	"replicadb/internal/types"
)

const (
	ReplicaServiceName     = "replicadb.v1.Replica"
	CoordinatorServiceName = "replicadb.v1.Coordinator"
)

// CoordinatorBackend is the part of the coordinator reachable by replicas.
type CoordinatorBackend interface {
	RemoveReplica(ctx context.Context, id types.ReplicaID) error
	Leader() (types.ReplicaID, bool)
}

func fullMethod(service, method string) string {
	return "/" + service + "/" + method
}

// unary builds a method descriptor around a typed handler.
func unary[S any, Req any, Resp any](service, method string, fn func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(service, method)}
			handler := func(ctx context.Context, req any) (any, error) {
				return fn(srv.(S), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var replicaServiceDesc = grpc.ServiceDesc{
	ServiceName: ReplicaServiceName,
	HandlerType: (*ports.Peer)(nil),
	Methods: []grpc.MethodDesc{
		unary(ReplicaServiceName, "NotifyLeader",
			func(p ports.Peer, ctx context.Context, in *wrapperspb.UInt64Value) (*emptypb.Empty, error) {
				return &emptypb.Empty{}, toStatus(p.NotifyLeader(ctx, types.ReplicaID(in.GetValue())))
			}),
		unary(ReplicaServiceName, "CheckHeartbeat",
			func(p ports.Peer, ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
				return &emptypb.Empty{}, toStatus(p.CheckHeartbeat(ctx))
			}),
		unary(ReplicaServiceName, "ReceiveData",
			func(p ports.Peer, ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
				rec, err := types.DecodeRecord(in.GetValue())
				if err != nil {
					return nil, status.Error(codes.InvalidArgument, err.Error())
				}
				return &emptypb.Empty{}, toStatus(p.ReceiveData(ctx, rec))
			}),
		unary(ReplicaServiceName, "ReplicateData",
			func(p ports.Peer, ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
				rec, err := types.DecodeRecord(in.GetValue())
				if err != nil {
					return nil, status.Error(codes.InvalidArgument, err.Error())
				}
				return &emptypb.Empty{}, toStatus(p.ReplicateData(ctx, rec))
			}),
		unary(ReplicaServiceName, "GetData",
			func(p ports.Peer, ctx context.Context, in *wrapperspb.UInt64Value) (*wrapperspb.BytesValue, error) {
				rec, ok, err := p.GetData(ctx, types.RecordID(in.GetValue()))
				if err != nil {
					return nil, toStatus(err)
				}
				if !ok {
					return nil, status.Errorf(codes.NotFound, "record %d not found", in.GetValue())
				}
				return wrapperspb.Bytes(types.EncodeRecord(rec)), nil
			}),
		unary(ReplicaServiceName, "Records",
			func(p ports.Peer, ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BytesValue, error) {
				records, err := p.Records(ctx)
				if err != nil {
					return nil, toStatus(err)
				}
				return wrapperspb.Bytes(types.EncodeRecords(records)), nil
			}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "replicadb/v1/replica.proto",
}

var coordinatorServiceDesc = grpc.ServiceDesc{
	ServiceName: CoordinatorServiceName,
	HandlerType: (*CoordinatorBackend)(nil),
	Methods: []grpc.MethodDesc{
		unary(CoordinatorServiceName, "RemoveReplica",
			func(c CoordinatorBackend, ctx context.Context, in *wrapperspb.UInt64Value) (*emptypb.Empty, error) {
				return &emptypb.Empty{}, toStatus(c.RemoveReplica(ctx, types.ReplicaID(in.GetValue())))
			}),
		unary(CoordinatorServiceName, "Leader",
			func(c CoordinatorBackend, _ context.Context, _ *emptypb.Empty) (*wrapperspb.UInt64Value, error) {
				id, _ := c.Leader()
				return wrapperspb.UInt64(uint64(id)), nil
			}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "replicadb/v1/coordinator.proto",
}
