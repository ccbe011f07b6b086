package grpcsvc

import (
	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Server: gRPC-сервер администратора с health-сервисом и reflection.
type Server struct {
	GRPC   *grpc.Server
	Health *health.Server
}

// NewServer собирает сервер. serverMetrics может быть nil.
func NewServer(admin AdminServer, serverMetrics *promgrpc.ServerMetrics) *Server {
	interceptors := []grpc.UnaryServerInterceptor{}
	if serverMetrics != nil {
		interceptors = append(interceptors, serverMetrics.UnaryServerInterceptor())
	}
	interceptors = append(interceptors, RequireAdmin())

	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...))
	RegisterAdminServer(srv, admin)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, healthServer)

	reflection.Register(srv)

	if serverMetrics != nil {
		serverMetrics.InitializeMetrics(srv)
	}
	return &Server{GRPC: srv, Health: healthServer}
}

// MarkNotServing переводит health-статус в NOT_SERVING перед остановкой.
func (s *Server) MarkNotServing() {
	s.Health.Shutdown()
}
