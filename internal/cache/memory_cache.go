package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryReportCache is the in-process cache used when no redis is configured.
// Values go through JSON like the redis implementation, so callers see the
// same decoding behaviour either way.
type MemoryReportCache struct {
	mu         sync.Mutex
	generation int64
	entries    map[string]memoryEntry
	now        func() time.Time
}

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

func NewMemoryReportCache() *MemoryReportCache {
	return &MemoryReportCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryReportCache) Get(_ context.Context, key string, dest any) (bool, error) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(entry.payload, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *MemoryReportCache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	entry := memoryEntry{payload: payload}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return nil
}

func (c *MemoryReportCache) Generation(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation, nil
}

// Invalidate also drops stored entries, since nothing else would reclaim them
// before they expire.
func (c *MemoryReportCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	c.generation++
	c.entries = make(map[string]memoryEntry)
	c.mu.Unlock()
	return nil
}
