package server

import (
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCServer wraps a gRPC server, its listener and the standard health service.
type GRPCServer struct {
	Server   *grpc.Server
	Listener net.Listener
	Health   *health.Server
}

func NewGRPCServer(addr string) (*GRPCServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s)

	return &GRPCServer{Server: s, Listener: ln, Health: hs}, nil
}

func (s *GRPCServer) Serve() error {
	return s.Server.Serve(s.Listener)
}

// Stop marks every service as not serving and drains in-flight RPCs.
func (s *GRPCServer) Stop() {
	s.Health.Shutdown()
	s.Server.GracefulStop()
}
