package api

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/fleettrack/internal/stream"
	"github.com/banshee-data/fleettrack/internal/testutil"
	"github.com/banshee-data/fleettrack/internal/timeutil"
)

type stubStatus struct {
	mu    sync.Mutex
	state stream.State
}

func (s *stubStatus) set(st stream.State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *stubStatus) Status() stream.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return stream.Status{State: s.state}
}

func check(t *testing.T, h *Health, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := h.HealthServer().Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealth_TracksStreamState(t *testing.T) {
	src := &stubStatus{state: stream.StateConnecting}
	clock := timeutil.NewMockClock(testutil.Epoch)
	h := NewHealth(src, clock, time.Second)

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, h, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, h, StreamService))

	h.Run()
	src.set(stream.StateReceiving)
	clock.Advance(999 * time.Millisecond)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, h, StreamService))
	clock.Advance(time.Millisecond)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, h, StreamService))

	src.set(stream.StatePolling)
	clock.Advance(time.Second)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, h, StreamService))

	h.Stop()
	assert.Zero(t, clock.Pending())
}

func TestHealth_ServeOverGRPC(t *testing.T) {
	src := &stubStatus{state: stream.StateReceiving}
	h := NewHealth(src, timeutil.NewMockClock(testutil.Epoch), time.Second)
	require.NoError(t, h.Serve("127.0.0.1:0"))
	t.Cleanup(h.Stop)
	require.NotNil(t, h.Addr())

	conn, err := grpc.NewClient(h.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: StreamService})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
