package vectorstore

import (
	"container/list"
	"sync"

	"github.com/arcvector/vectordb/segment"
)

// segmentCache bounds the number of concurrently open segment file
// descriptors, evicting and closing the least-recently-used segment
// once capacity is exceeded. Specialized to *segment.Segment so
// eviction can close the underlying mapping instead of just dropping
// a value.
type segmentCache struct {
	mu sync.Mutex

	capacity int
	items    map[string]*list.Element
	order    *list.List // front = most recently used
}

type cacheEntry struct {
	name    string
	segment *segment.Segment
}

func newSegmentCache(capacity int) *segmentCache {
	if capacity < 1 {
		capacity = 1
	}
	return &segmentCache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// get returns a cached, already-open segment and marks it
// most-recently-used, or ok=false if not cached.
func (c *segmentCache) get(name string) (*segment.Segment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[name]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).segment, true
}

// put inserts a freshly opened segment into the cache, evicting (and
// closing) the least-recently-used entry if the cache is at capacity.
// Returns the evicted segment's close error, if any, so the caller can
// decide how to surface it (it does not invalidate the put).
func (c *segmentCache) put(name string, seg *segment.Segment) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[name]; ok {
		el.Value.(*cacheEntry).segment = seg
		c.order.MoveToFront(el)
		return nil
	}

	el := c.order.PushFront(&cacheEntry{name: name, segment: seg})
	c.items[name] = el

	if c.order.Len() <= c.capacity {
		return nil
	}

	back := c.order.Back()
	evicted := back.Value.(*cacheEntry)
	c.order.Remove(back)
	delete(c.items, evicted.name)
	return evicted.segment.Close()
}

// remove drops name from the cache without closing it — used when the
// caller has already taken ownership of closing the segment itself
// (segment compaction unlinks the source segments directly).
func (c *segmentCache) remove(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[name]
	if !ok {
		return
	}
	c.order.Remove(el)
	delete(c.items, name)
}

// closeAll closes every cached segment, for use during store Close.
func (c *segmentCache) closeAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for el := c.order.Front(); el != nil; el = el.Next() {
		if err := el.Value.(*cacheEntry).segment.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.items = make(map[string]*list.Element)
	c.order = list.New()
	return firstErr
}
