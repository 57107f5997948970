// Package grpcapi exposes the gRPC health service so orchestrators can probe
// the bridge the same way as other gRPC services.
package grpcapi

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"speech-stream-bridge/internal/observability"
	"speech-stream-bridge/internal/observability/logging"
)

// ServiceName is the health service name reported alongside the overall status.
const ServiceName = "speech.bridge.StreamService"

// Server wraps a grpc.Server carrying health and reflection.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	ready  func() bool
	log    zerolog.Logger

	addr         string
	pollInterval time.Duration
	done         chan struct{}
	stopOnce     sync.Once
}

// NewServer builds the server. ready is polled to keep ServiceName's status
// in step with the HTTP readiness probe.
func NewServer(addr string, ready func() bool) *Server {
	g := grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor()),
	)

	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(g, hs)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(g)

	return &Server{
		grpc:         g,
		health:       hs,
		ready:        ready,
		log:          logging.WithComponent("api.grpc"),
		addr:         addr,
		pollInterval: time.Second,
		done:         make(chan struct{}),
	}
}

// Addr returns the listen address, resolved once Start has run.
func (s *Server) Addr() string { return s.addr }

// Start listens and serves in a goroutine.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.addr = lis.Addr().String()

	go func() {
		s.log.Info().Str("addr", s.addr).Msg("Starting gRPC server")
		if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.log.Error().Err(err).Msg("gRPC serve failed")
		}
	}()
	if s.ready != nil {
		go s.watchReadiness(s.pollInterval)
	}
	return nil
}

func (s *Server) watchReadiness(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := grpc_health_v1.HealthCheckResponse_SERVING
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		status := grpc_health_v1.HealthCheckResponse_SERVING
		if !s.ready() {
			status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		}
		if status != last {
			s.health.SetServingStatus(ServiceName, status)
			last = status
		}
	}
}

// Shutdown marks the server NOT_SERVING and stops it gracefully, forcing a
// stop when ctx expires first.
func (s *Server) Shutdown(ctx context.Context) {
	s.stopOnce.Do(func() { close(s.done) })
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.log.Warn().Msg("Graceful stop timed out, forcing")
		s.grpc.Stop()
	}
}
