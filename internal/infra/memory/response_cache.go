package memory

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// ResponseCache keeps remote responses with a TTL. A zero TTL keeps them until invalidated.
type ResponseCache struct {
	ttl   time.Duration
	clock func() time.Time
	rnd   *rand.Rand

	mu      sync.RWMutex
	rndMu   sync.Mutex
	entries map[string]cachedResponse
}

type cachedResponse struct {
	value     []byte
	expiresAt time.Time
}

func NewResponseCache(ttl time.Duration) *ResponseCache {
	return &ResponseCache{
		ttl:     ttl,
		clock:   time.Now,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
		entries: make(map[string]cachedResponse),
	}
}

func (c *ResponseCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	now := c.clock()
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok || (!entry.expiresAt.IsZero() && !entry.expiresAt.After(now)) {
		return nil, false, nil
	}
	return append([]byte(nil), entry.value...), true, nil
}

func (c *ResponseCache) Set(_ context.Context, key string, value []byte) error {
	entry := cachedResponse{value: append([]byte(nil), value...)}
	if ttl := c.ttlWithJitter(); ttl > 0 {
		entry.expiresAt = c.clock().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return nil
}

func (c *ResponseCache) InvalidatePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *ResponseCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *ResponseCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
