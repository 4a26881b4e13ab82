package transport

import (
	"errors"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"replicadb/internal/metrics"
	"replicadb/internal/ports"
)

type Server struct {
	grpc *grpc.Server
}

func NewServer(opts ...grpc.ServerOption) *Server {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(metrics.UnaryServerInterceptor())}, opts...)
	s := grpc.NewServer(opts...)
	reflection.Register(s)
	return &Server{grpc: s}
}

func (s *Server) RegisterReplica(p ports.Peer) {
	s.grpc.RegisterService(&replicaServiceDesc, p)
}

func (s *Server) RegisterCoordinator(c CoordinatorBackend) {
	s.grpc.RegisterService(&coordinatorServiceDesc, c)
}

// Listen binds addr and serves in the background.
func (s *Server) Listen(network, addr string) (net.Listener, error) {
	lis, err := net.Listen(network, addr)
	if err != nil {
		return nil, err
	}
	s.Serve(lis)
	return lis, nil
}

// Serve runs the server on lis in the background.
func (s *Server) Serve(lis net.Listener) {
	slog.Info("transport listening", "addr", lis.Addr().String())
	go func() {
		if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			slog.Error("transport server stopped", "error", err)
		}
	}()
}

func (s *Server) Stop() {
	s.grpc.GracefulStop()
}
