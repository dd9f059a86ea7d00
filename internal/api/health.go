package api

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/fleettrack/internal/stream"
	"github.com/banshee-data/fleettrack/internal/timeutil"
)

// StreamService is the gRPC health service name tracking the live stream.
const StreamService = "fleettrack.stream"

// StatusSource reports the live stream state.
type StatusSource interface {
	Status() stream.Status
}

// Health publishes the stream state over the standard gRPC health protocol.
// The overall server ("") is always SERVING; StreamService is SERVING only
// while push batches are arriving.
type Health struct {
	src    StatusSource
	clock  timeutil.Clock
	every  time.Duration
	health *health.Server

	mu       sync.Mutex
	timer    timeutil.Timer
	server   *grpc.Server
	listener net.Listener
	running  atomic.Bool
	wg       sync.WaitGroup
}

// NewHealth returns a publisher that re-reads src every interval.
func NewHealth(src StatusSource, clock timeutil.Clock, interval time.Duration) *Health {
	if interval <= 0 {
		interval = time.Second
	}
	h := &Health{src: src, clock: clock, every: interval, health: health.NewServer()}
	h.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.Update()
	return h
}

// HealthServer returns the underlying health service.
func (h *Health) HealthServer() *health.Server { return h.health }

// Update copies the current stream state into the health service.
func (h *Health) Update() healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if h.src.Status().State == stream.StateReceiving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(StreamService, status)
	return status
}

// Run keeps the health service current until Stop.
func (h *Health) Run() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		return
	}
	h.running.Store(true)
	h.timer = h.clock.AfterFunc(h.every, h.tick)
}

func (h *Health) tick() {
	if !h.running.Load() {
		return
	}
	h.Update()
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running.Load() {
		h.timer = h.clock.AfterFunc(h.every, h.tick)
	}
}

// Serve binds addr and serves the health service on it.
func (h *Health) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, h.health)

	h.mu.Lock()
	h.server, h.listener = srv, lis
	h.mu.Unlock()
	h.Run()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		logf("gRPC health listening on %s", lis.Addr())
		if err := srv.Serve(lis); err != nil && h.running.Load() {
			logf("gRPC health server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Serve.
func (h *Health) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Stop marks every service NOT_SERVING and stops the gRPC server.
func (h *Health) Stop() {
	h.running.Store(false)
	h.health.Shutdown()

	h.mu.Lock()
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	srv := h.server
	h.server = nil
	h.mu.Unlock()

	if srv != nil {
		srv.GracefulStop()
	}
	h.wg.Wait()
}
