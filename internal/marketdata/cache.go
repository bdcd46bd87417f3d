package marketdata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ttlCache is a small read-mostly cache keyed by endpoint + normalized
// arguments. A zero TTL means the entry never expires (historical lookups).
type ttlCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry

	// durableDir, when set, persists never-expiring entries across restarts.
	durableDir string
}

type cacheEntry struct {
	value     interface{}
	expiresAt time.Time // zero = never
}

func newTTLCache(durableDir string) *ttlCache {
	return &ttlCache{
		entries:    make(map[string]cacheEntry),
		durableDir: durableDir,
	}
}

func (c *ttlCache) get(key string) (interface{}, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

func (c *ttlCache) set(key string, value interface{}, ttl time.Duration) {
	e := cacheEntry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
}

// durable entries (historical quotes) survive restarts as JSON files.

func (c *ttlCache) durablePath(key string) string {
	safe := strings.NewReplacer("/", "_", ":", "_", " ", "_").Replace(key)
	return filepath.Join(c.durableDir, safe+".json")
}

func (c *ttlCache) getDurable(key string, out interface{}) bool {
	if v, ok := c.get(key); ok {
		data, err := json.Marshal(v)
		if err == nil && json.Unmarshal(data, out) == nil {
			return true
		}
	}
	if c.durableDir == "" {
		return false
	}
	data, err := os.ReadFile(c.durablePath(key)) // #nosec G304 -- cache-derived path
	if err != nil {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false
	}
	c.set(key, out, 0)
	return true
}

func (c *ttlCache) setDurable(key string, value interface{}) error {
	c.set(key, value, 0)
	if c.durableDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.durableDir, 0o755); err != nil {
		return fmt.Errorf("cache dir: %w", err)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	path := c.durablePath(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("cache write: %w", err)
	}
	return os.Rename(tmp, path)
}
