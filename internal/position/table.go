package position

import (
	"sort"
	"sync"
)

// Entry is one row of the latest-position table.
type Entry struct {
	Report           Report  `json:"report"`
	RecentDistanceKm float64 `json:"recentDistanceKm"`
}

// Table is the shared latest-position table keyed by entity id. The stream
// processor's flush is its only writer; everything else reads snapshots.
type Table struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[string]Entry)}
}

// Upsert replaces the row for the report's entity.
func (t *Table) Upsert(r Report, recentDistanceKm float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[r.EntityID] = Entry{Report: r, RecentDistanceKm: recentDistanceKm}
}

// Get returns the row for entityID.
func (t *Table) Get(entityID string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[entityID]
	return e, ok
}

// Len returns the number of entities in the table.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Snapshot returns all rows ordered by entity id.
func (t *Table) Snapshot() []Entry {
	t.mu.RLock()
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Report.EntityID < out[j].Report.EntityID })
	return out
}
