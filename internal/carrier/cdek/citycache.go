package cdek

import (
	"strings"
	"sync"
)

// cityCache memoizes city-name → city-code lookups per client. City codes are
// stable, so no eviction.
type cityCache struct {
	mu    sync.RWMutex
	codes map[string]int
}

func newCityCache() *cityCache {
	return &cityCache{codes: make(map[string]int)}
}

func (c *cityCache) Get(city string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	code, ok := c.codes[normalizeCity(city)]
	return code, ok
}

func (c *cityCache) Set(city string, code int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes[normalizeCity(city)] = code
}

func normalizeCity(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}
