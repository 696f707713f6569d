package sheets

import (
	"container/list"
	"sync"
	"time"
)

// tabCache keeps recently read tab matrices for a short TTL, with LRU
// eviction. A refresh pass reads the Budgets tab once per month; the cache
// turns those into a single API call.
type tabCache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	items   map[string]*list.Element
	lru     *list.List
	now     func() time.Time
}

type tabEntry struct {
	key       string
	values    [][]interface{}
	expiresAt time.Time
}

func newTabCache(maxSize int, ttl time.Duration) *tabCache {
	return &tabCache{
		maxSize: maxSize,
		ttl:     ttl,
		items:   make(map[string]*list.Element),
		lru:     list.New(),
		now:     time.Now,
	}
}

func (c *tabCache) get(key string) ([][]interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*tabEntry)
	if c.now().After(entry.expiresAt) {
		c.remove(elem)
		return nil, false
	}
	c.lru.MoveToFront(elem)
	return entry.values, true
}

func (c *tabCache) set(key string, values [][]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &tabEntry{key: key, values: values, expiresAt: c.now().Add(c.ttl)}
	if elem, ok := c.items[key]; ok {
		elem.Value = entry
		c.lru.MoveToFront(elem)
		return
	}
	c.items[key] = c.lru.PushFront(entry)
	if c.lru.Len() > c.maxSize {
		if oldest := c.lru.Back(); oldest != nil {
			c.remove(oldest)
		}
	}
}

// purge drops every entry.
func (c *tabCache) purge() {
	c.mu.Lock()
	c.items = make(map[string]*list.Element)
	c.lru.Init()
	c.mu.Unlock()
}

func (c *tabCache) remove(elem *list.Element) {
	delete(c.items, elem.Value.(*tabEntry).key)
	c.lru.Remove(elem)
}

func (c *tabCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
