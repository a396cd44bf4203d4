package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// LRU is a thread-safe, capacity-bounded cache whose entries also expire
// after a fixed TTL. Values are stored as given; callers that share them
// across goroutines must treat them as immutable.
type LRU[V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	now      func() time.Time
	items    map[string]*list.Element
	order    *list.List
	onEvict  func(key string, value V)
}

type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// NewLRU creates a cache holding at most capacity entries for ttl each.
// A non-positive capacity disables caching.
func NewLRU[V any](capacity int, ttl time.Duration) *LRU[V] {
	return &LRU[V]{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		items:    make(map[string]*list.Element, max(capacity, 0)),
		order:    list.New(),
	}
}

// OnEvict registers fn to be called for every entry dropped because it
// expired or fell off the end. fn runs after the cache lock is released.
// Purge and Drain do not call it.
func (c *LRU[V]) OnEvict(fn func(key string, value V)) *LRU[V] {
	c.mu.Lock()
	c.onEvict = fn
	c.mu.Unlock()
	return c
}

// Get returns the live value for key and marks it most recently used.
func (c *LRU[V]) Get(key string) (V, bool) {
	var zero V
	c.mu.Lock()

	elem, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return zero, false
	}
	ent := elem.Value.(*entry[V])
	if c.now().After(ent.expiresAt) {
		c.removeLocked(elem)
		fn := c.onEvict
		c.mu.Unlock()
		if fn != nil {
			fn(ent.key, ent.value)
		}
		return zero, false
	}
	c.order.MoveToFront(elem)
	c.mu.Unlock()
	return ent.value, true
}

// Add stores value under key unless a live entry already exists, in which
// case the existing value is returned. Entries are never overwritten.
func (c *LRU[V]) Add(key string, value V) (V, bool) {
	c.mu.Lock()

	if c.capacity <= 0 {
		c.mu.Unlock()
		return value, false
	}

	var evicted []*entry[V]
	now := c.now()
	if elem, ok := c.items[key]; ok {
		ent := elem.Value.(*entry[V])
		if !now.After(ent.expiresAt) {
			c.order.MoveToFront(elem)
			c.mu.Unlock()
			return ent.value, true
		}
		c.removeLocked(elem)
		evicted = append(evicted, ent)
	}

	c.items[key] = c.order.PushFront(&entry[V]{key: key, value: value, expiresAt: now.Add(c.ttl)})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.removeLocked(oldest)
		evicted = append(evicted, oldest.Value.(*entry[V]))
	}
	fn := c.onEvict
	c.mu.Unlock()

	if fn != nil {
		for _, ent := range evicted {
			fn(ent.key, ent.value)
		}
	}
	return value, false
}

func (c *LRU[V]) removeLocked(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*entry[V]).key)
}

// Len returns the number of entries, including ones not yet found expired.
func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Purge drops every entry.
func (c *LRU[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element, max(c.capacity, 0))
	c.order.Init()
}

// Drain empties the cache and returns what it held, most recent first,
// expired entries included.
func (c *LRU[V]) Drain() []V {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]V, 0, c.order.Len())
	for e := c.order.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*entry[V]).value)
	}
	c.items = make(map[string]*list.Element, max(c.capacity, 0))
	c.order.Init()
	return out
}

// HashBytes is the content address used as cache key.
func HashBytes(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}
