// Package cache provides the byte-capped LRU used for decoded documents.
// It sits strictly on the read path: the offset map and the ANN index are
// never cached here, so eviction can only cost a re-decode.
package cache

import (
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/piramidhq/piramid/document"
)

// DocCache caches decoded documents up to a byte budget.
type DocCache struct {
	mu       sync.Mutex
	lru      *lru.Cache[uuid.UUID, entry]
	capBytes int64
	used     int64
}

type entry struct {
	doc  document.Document
	size int64
}

// docSize estimates the resident size of a decoded document.
func docSize(d document.Document) int64 {
	size := int64(16 + len(d.Text) + 4*len(d.Vector))
	for k, v := range d.Metadata {
		size += int64(len(k)) + int64(len(v.S)) + 32
	}
	return size
}

// New creates a cache bounded by capBytes. A non-positive cap disables
// caching entirely.
func New(capBytes int64) (*DocCache, error) {
	if capBytes <= 0 {
		return &DocCache{}, nil
	}

	c := &DocCache{capBytes: capBytes}
	// Entry count is bounded separately; the byte budget is enforced on Add.
	l, err := lru.NewWithEvict[uuid.UUID, entry](1<<17, func(_ uuid.UUID, e entry) {
		c.used -= e.size
	})
	if err != nil {
		return nil, err
	}
	c.lru = l
	return c, nil
}

// Get returns the cached document for id.
func (c *DocCache) Get(id uuid.UUID) (document.Document, bool) {
	if c == nil || c.lru == nil {
		return document.Document{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Get(id)
	if !ok {
		return document.Document{}, false
	}
	return e.doc, true
}

// Add caches doc, evicting least-recently-used entries past the byte cap.
// Documents larger than the whole budget are not cached.
func (c *DocCache) Add(doc document.Document) {
	if c == nil || c.lru == nil {
		return
	}
	size := docSize(doc)
	if size > c.capBytes {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Remove fires the eviction callback, which settles the byte account.
	c.lru.Remove(doc.ID)

	c.lru.Add(doc.ID, entry{doc: doc, size: size})
	c.used += size

	for c.used > c.capBytes {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			break
		}
	}
}

// Remove drops id from the cache (called on update/delete).
func (c *DocCache) Remove(id uuid.UUID) {
	if c == nil || c.lru == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(id)
}

// Purge empties the cache.
func (c *DocCache) Purge() {
	if c == nil || c.lru == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.used = 0
}

// Bytes returns the current resident size.
func (c *DocCache) Bytes() int64 {
	if c == nil || c.lru == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}
