package courier

import (
	"encoding/json"
	"sync"
)

// CreateConfig is the exact parameters of one creation attempt, cached
// under its correlation id so a failed submission can be replayed
// verbatim without caller involvement.
type CreateConfig struct {
	Inventory  json.RawMessage
	Render     bool
	UUID       string
	OnProgress func(float64)
}

// configCache holds at most one live CreateConfig per in-flight
// correlation id. Entries are deleted exactly once, on terminal
// resolution, so the cache cannot grow without bound.
type configCache struct {
	mu      sync.RWMutex
	entries map[string]*CreateConfig
}

func newConfigCache() *configCache {
	return &configCache{entries: make(map[string]*CreateConfig)}
}

func (c *configCache) put(cfg *CreateConfig) {
	c.mu.Lock()
	c.entries[cfg.UUID] = cfg
	c.mu.Unlock()
}

func (c *configCache) get(uuid string) (*CreateConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cfg, ok := c.entries[uuid]
	return cfg, ok
}

func (c *configCache) delete(uuid string) {
	c.mu.Lock()
	delete(c.entries, uuid)
	c.mu.Unlock()
}

func (c *configCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
