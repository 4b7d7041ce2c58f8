// Package meta is the cache-backed column lookup the paginator uses to
// elect a cursor column. The actual introspection plumbing lives outside
// this layer; anything satisfying Provider can feed it.
package meta

import (
	"context"
	"sync"
	"time"

	"github.com/omnigrid/omnigrid.go/pkg/constants"
)

// Column describes one column of a table as far as this layer cares:
// whether it is part of the primary key and whether the backend can sort
// on it.
type Column struct {
	Name       string
	Type       string
	PrimaryKey bool
	Sortable   bool
}

// Provider supplies column metadata for a table.
type Provider interface {
	Columns(ctx context.Context, table string) ([]Column, error)
}

// Static is a fixed in-memory Provider, handy for tests and for callers
// that already know their schema.
type Static map[string][]Column

func (s Static) Columns(_ context.Context, table string) ([]Column, error) {
	cols, ok := s[table]
	if !ok || len(cols) == 0 {
		return nil, constants.ErrNoColumns
	}
	return cols, nil
}

type cacheEntry struct {
	cols    []Column
	fetched time.Time
}

// Cache wraps a Provider with a TTL cache so cursor-column election does
// not hit the backend on every page.
type Cache struct {
	provider Provider
	ttl      time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

func NewCache(p Provider, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{provider: p, ttl: ttl, entries: map[string]cacheEntry{}}
}

func (c *Cache) Columns(ctx context.Context, table string) ([]Column, error) {
	c.mu.RLock()
	e, ok := c.entries[table]
	c.mu.RUnlock()
	if ok && time.Since(e.fetched) < c.ttl {
		return e.cols, nil
	}

	cols, err := c.provider.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.entries[table] = cacheEntry{cols: cols, fetched: time.Now()}
	c.mu.Unlock()
	return cols, nil
}

// Invalidate drops the cached entry for a table, forcing a refetch.
func (c *Cache) Invalidate(table string) {
	c.mu.Lock()
	delete(c.entries, table)
	c.mu.Unlock()
}

// PrimaryKeyColumns returns the primary-key column names in declaration
// order.
func PrimaryKeyColumns(cols []Column) []string {
	var out []string
	for _, c := range cols {
		if c.PrimaryKey {
			out = append(out, c.Name)
		}
	}
	return out
}
