package grpcapi

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

func startServer(t *testing.T, ready func() bool) (*Server, grpc_health_v1.HealthClient) {
	t.Helper()
	s := NewServer("127.0.0.1:0", ready)
	s.pollInterval = 10 * time.Millisecond
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})

	conn, err := grpc.NewClient(s.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return s, grpc_health_v1.NewHealthClient(conn)
}

func check(t *testing.T, c grpc_health_v1.HealthClient, service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.GetStatus()
}

func TestServer_HealthServing(t *testing.T) {
	_, client := startServer(t, nil)

	for _, svc := range []string{"", ServiceName} {
		if got := check(t, client, svc); got != grpc_health_v1.HealthCheckResponse_SERVING {
			t.Errorf("Check(%q) = %v, want SERVING", svc, got)
		}
	}
}

func TestServer_ReadinessFollowsCallback(t *testing.T) {
	var ready atomic.Bool
	ready.Store(true)
	_, client := startServer(t, ready.Load)

	ready.Store(false)
	waitStatus(t, client, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	ready.Store(true)
	waitStatus(t, client, grpc_health_v1.HealthCheckResponse_SERVING)

	// the overall status is not tied to readiness
	if got := check(t, client, ""); got != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Errorf("overall status = %v, want SERVING", got)
	}
}

func waitStatus(t *testing.T, c grpc_health_v1.HealthClient, want grpc_health_v1.HealthCheckResponse_ServingStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := check(t, c, ServiceName)
		if got == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("status = %v, want %v", got, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServer_ShutdownIdempotent(t *testing.T) {
	s := NewServer("127.0.0.1:0", nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Shutdown(ctx)
	s.Shutdown(ctx)
}
