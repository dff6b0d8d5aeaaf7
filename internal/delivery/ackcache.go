package delivery

import (
	"hash/fnv"
	"sync"
	"time"
)

// ackCache remembers payloads that verified as delivered recently, keyed by
// payload hash. The stuck scanner consults it so an acknowledged payload is
// never re-delivered within the same process lifetime. Entries expire after
// the TTL; the cache is process-local and empties on restart.
type ackCache struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[uint64]time.Time
	now  func() time.Time
}

func newAckCache(ttl time.Duration) *ackCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &ackCache{
		ttl:  ttl,
		seen: make(map[uint64]time.Time),
		now:  time.Now,
	}
}

func (c *ackCache) mark(payload string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()
	c.seen[payloadHash(payload)] = c.now()
}

func (c *ackCache) acked(payload string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.seen[payloadHash(payload)]
	if !ok {
		return false
	}
	if c.now().Sub(at) > c.ttl {
		delete(c.seen, payloadHash(payload))
		return false
	}
	return true
}

func (c *ackCache) pruneLocked() {
	cutoff := c.now().Add(-c.ttl)
	for h, at := range c.seen {
		if at.Before(cutoff) {
			delete(c.seen, h)
		}
	}
}

func payloadHash(payload string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(payload))
	return h.Sum64()
}
