package fieldarchive

import (
	"sync"

	"github.com/meigma/fieldarchive/internal/fatype"
)

// PayloadCache keeps the most recently decompressed payload of each kind,
// keyed by entry identity. It is safe for concurrent use and may be shared
// between catalogs.
type PayloadCache struct {
	mu     sync.Mutex
	slots  [fatype.PayloadKindCount]cacheSlot
	hits   uint64
	misses uint64
}

type cacheSlot struct {
	owner *Entry
	data  []byte
}

// NewPayloadCache returns an empty cache.
func NewPayloadCache() *PayloadCache {
	return &PayloadCache{}
}

// Get returns the cached payload of kind if it belongs to e.
func (c *PayloadCache) Get(e *Entry, kind PayloadKind) ([]byte, bool) {
	if kind >= fatype.PayloadKindCount {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.slots[kind]
	if s.owner == nil || s.owner != e {
		c.misses++
		return nil, false
	}
	c.hits++
	return s.data, true
}

// Put stores data as the payload of kind for e, evicting the previous one.
func (c *PayloadCache) Put(e *Entry, kind PayloadKind, data []byte) {
	if kind >= fatype.PayloadKindCount {
		return
	}
	c.mu.Lock()
	c.slots[kind] = cacheSlot{owner: e, data: data}
	c.mu.Unlock()
}

// Forget drops every slot owned by e.
func (c *PayloadCache) Forget(e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.slots {
		if c.slots[i].owner == e {
			c.slots[i] = cacheSlot{}
		}
	}
}

// Invalidate empties every slot.
func (c *PayloadCache) Invalidate() {
	c.mu.Lock()
	c.slots = [fatype.PayloadKindCount]cacheSlot{}
	c.mu.Unlock()
}

// Stats returns the hit and miss counts.
func (c *PayloadCache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
