package cost

import (
	"sync"
	"time"
)

// CacheTTL is how long a fetched CostData stays fresh.
const CacheTTL = 300 * time.Second

// Cache is a single-slot, time-bounded cache for CostData.
// Safe for concurrent use.
type Cache struct {
	mu    sync.Mutex
	at    time.Time
	value *Data
	ttl   time.Duration
	now   func() time.Time
}

// NewCache creates an empty cache with the default TTL.
func NewCache() *Cache {
	return &Cache{ttl: CacheTTL, now: time.Now}
}

// Get returns the cached value if one was set less than CacheTTL ago.
func (c *Cache) Get() (Data, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value == nil {
		return Data{}, false
	}
	if c.now().Sub(c.at) >= c.ttl {
		return Data{}, false
	}
	return *c.value, true
}

// Set overwrites the slot with data captured now.
func (c *Cache) Set(data Data) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.now()
	c.value = &data
}
