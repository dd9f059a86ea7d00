// Package source holds the position sources the stream processor consumes:
// push channels (WebSocket, Kafka, NMEA serial) and poll fetchers (REST,
// GTFS-Realtime).
package source

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/fleettrack/internal/position"
)

// Source is a push channel of position batches. Batches may be empty or
// arbitrarily large.
type Source interface {
	Subscribe(onBatch func([]position.Report)) (unsubscribe func())
	IsConnected() bool
	Connect(ctx context.Context) error
	Disconnect() error
}

// Fetcher pulls the full current state, used while the push channel is quiet.
type Fetcher interface {
	FetchAllCurrentPositions(ctx context.Context) ([]position.Report, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context) ([]position.Report, error)

// FetchAllCurrentPositions calls f.
func (f FetcherFunc) FetchAllCurrentPositions(ctx context.Context) ([]position.Report, error) {
	return f(ctx)
}

// Hub fans batches out to subscribers and tracks connection state. Push
// sources embed it.
type Hub struct {
	mu        sync.Mutex
	next      int
	subs      map[int]func([]position.Report)
	connected atomic.Bool
}

// Subscribe registers onBatch. The returned function is idempotent.
func (h *Hub) Subscribe(onBatch func([]position.Report)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = make(map[int]func([]position.Report))
	}
	id := h.next
	h.next++
	h.subs[id] = onBatch

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// Publish delivers batch to every subscriber in subscription order. It never
// holds the hub lock while calling out.
func (h *Hub) Publish(batch []position.Report) {
	h.mu.Lock()
	ids := make([]int, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	fns := make([]func([]position.Report), 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		fns = append(fns, h.subs[id])
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(batch)
	}
}

// Subscribers returns the number of registered subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// IsConnected reports the last connection state set by the source.
func (h *Hub) IsConnected() bool { return h.connected.Load() }

// SetConnected records the connection state.
func (h *Hub) SetConnected(v bool) { h.connected.Store(v) }
