package auth

import (
	"context"
	"sync"
	"time"
)

// PropertyCache holds recently read properties. Entries must be dropped
// with Invalidate as soon as a write to the property is acknowledged.
type PropertyCache interface {
	Get(ctx context.Context, id string) (*Property, bool, error)
	Set(ctx context.Context, property *Property) error
	Invalidate(ctx context.Context, ids ...string) error
}

type memoryEntry struct {
	property  *Property
	expiresAt time.Time
}

// MemoryPropertyCache is an in-process PropertyCache with a fixed TTL.
type MemoryPropertyCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

// NewMemoryPropertyCache returns a cache keeping entries for ttl. A zero ttl
// keeps entries until invalidated.
func NewMemoryPropertyCache(ttl time.Duration) *MemoryPropertyCache {
	return &MemoryPropertyCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

// WithClock replaces the clock used for expiry.
func (c *MemoryPropertyCache) WithClock(clock func() time.Time) *MemoryPropertyCache {
	if clock != nil {
		c.now = clock
	}
	return c
}

func (c *MemoryPropertyCache) Get(_ context.Context, id string) (*Property, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		c.mu.Lock()
		if current, ok := c.entries[id]; ok && current.expiresAt.Equal(entry.expiresAt) {
			delete(c.entries, id)
		}
		c.mu.Unlock()
		return nil, false, nil
	}

	return entry.property.Clone(), true, nil
}

func (c *MemoryPropertyCache) Set(_ context.Context, property *Property) error {
	if property == nil {
		return nil
	}

	entry := memoryEntry{property: property.Clone()}
	if c.ttl > 0 {
		entry.expiresAt = c.now().Add(c.ttl)
	}

	c.mu.Lock()
	c.entries[property.ID.String()] = entry
	c.mu.Unlock()
	return nil
}

func (c *MemoryPropertyCache) Invalidate(_ context.Context, ids ...string) error {
	c.mu.Lock()
	for _, id := range ids {
		delete(c.entries, id)
	}
	c.mu.Unlock()
	return nil
}

// Len returns the number of entries, expired ones included.
func (c *MemoryPropertyCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

type noopPropertyCache struct{}

func (noopPropertyCache) Get(context.Context, string) (*Property, bool, error) {
	return nil, false, nil
}
func (noopPropertyCache) Set(context.Context, *Property) error        { return nil }
func (noopPropertyCache) Invalidate(context.Context, ...string) error { return nil }
