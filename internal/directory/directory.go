// Package directory lists the tracked entities and their descriptive
// attributes (name, category, blocked flag) used for rendering.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/banshee-data/fleettrack/internal/httputil"
)

// Entity describes one tracked vehicle.
type Entity struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Blocked  bool   `json:"blocked"`
}

// Directory lists entities.
type Directory interface {
	ListEntities(ctx context.Context) ([]Entity, error)
}

// Static is an in-memory directory.
type Static []Entity

// ListEntities returns a copy of the static list.
func (s Static) ListEntities(context.Context) ([]Entity, error) {
	out := make([]Entity, len(s))
	copy(out, s)
	return out, nil
}

// HTTP reads GET {BaseURL}/api/devices from a Traccar-style server.
type HTTP struct {
	BaseURL string
	Header  http.Header
	Client  httputil.HTTPClient
}

type device struct {
	ID       flexID `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Disabled bool   `json:"disabled"`
}

// flexID accepts numeric and string ids.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("entity id %s: %w", b, err)
	}
	*f = flexID(n.String())
	return nil
}

// ListEntities implements Directory.
func (h *HTTP) ListEntities(ctx context.Context) ([]Entity, error) {
	var devices []device
	url := strings.TrimRight(h.BaseURL, "/") + "/api/devices"
	if err := httputil.FetchJSON(ctx, h.Client, url, h.Header.Clone(), &devices); err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	out := make([]Entity, 0, len(devices))
	for _, d := range devices {
		out = append(out, Entity{
			ID:       string(d.ID),
			Name:     d.Name,
			Category: d.Category,
			Blocked:  d.Disabled,
		})
	}
	return out, nil
}

// Index caches a directory listing by entity id.
type Index struct {
	mu       sync.RWMutex
	entities map[string]Entity
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{entities: make(map[string]Entity)}
}

// Refresh replaces the index with the directory's current listing. On error
// the previous contents are kept.
func (x *Index) Refresh(ctx context.Context, d Directory) error {
	list, err := d.ListEntities(ctx)
	if err != nil {
		return err
	}
	m := make(map[string]Entity, len(list))
	for _, e := range list {
		m[e.ID] = e
	}
	x.mu.Lock()
	x.entities = m
	x.mu.Unlock()
	return nil
}

// Lookup returns the entity for id. Unknown ids yield a zero Entity with
// only the id set.
func (x *Index) Lookup(id string) (Entity, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e, ok := x.entities[id]
	if !ok {
		return Entity{ID: id}, false
	}
	return e, true
}

// All returns the indexed entities ordered by id.
func (x *Index) All() []Entity {
	x.mu.RLock()
	out := make([]Entity, 0, len(x.entities))
	for _, e := range x.entities {
		out = append(out, e)
	}
	x.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
