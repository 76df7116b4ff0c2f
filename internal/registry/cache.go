package registry

import (
	"sync"
	"sync/atomic"
	"time"
)

// templateCache holds compiled templates with LRU eviction and an optional
// TTL. Templates are immutable, so the lock only guards the map and the
// recency list.
type templateCache struct {
	entries  map[string]*cacheEntry
	mutex    sync.Mutex
	capacity int
	ttl      time.Duration
	now      func() time.Time
	onEvict  func(name string, reason string)
	// LRU implementation
	head *cacheEntry
	tail *cacheEntry
	// Statistics tracking
	hits      int64
	misses    int64
	evictions int64
}

// cacheEntry wraps a compiled template with its LRU bookkeeping.
type cacheEntry struct {
	tmpl       *Template
	insertedAt time.Time
	accessedAt time.Time
	// LRU doubly-linked list pointers
	prev *cacheEntry
	next *cacheEntry
}

const (
	evictCapacity = "capacity"
	evictExpired  = "expired"
)

// newTemplateCache creates a cache holding at most capacity templates. A
// capacity <= 0 disables the bound; a ttl <= 0 disables expiry.
func newTemplateCache(capacity int, ttl time.Duration, now func() time.Time) *templateCache {
	if now == nil {
		now = time.Now
	}
	c := &templateCache{
		entries:  make(map[string]*cacheEntry),
		capacity: capacity,
		ttl:      ttl,
		now:      now,
	}

	// Initialize LRU doubly-linked list with dummy head and tail
	c.head = &cacheEntry{}
	c.tail = &cacheEntry{}
	c.head.next = c.tail
	c.tail.prev = c.head

	return c
}

// get returns the cached template for name, marking it recently used.
// Expired entries are dropped and reported as misses.
func (c *templateCache) get(name string) (*Template, bool) {
	c.mutex.Lock()

	entry, exists := c.entries[name]
	if !exists {
		c.mutex.Unlock()
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	now := c.now()
	if c.expired(entry, now) {
		c.remove(entry)
		c.mutex.Unlock()
		atomic.AddInt64(&c.misses, 1)
		c.evicted(name, evictExpired)
		return nil, false
	}

	c.moveToFront(entry)
	entry.accessedAt = now
	found := entry.tmpl
	c.mutex.Unlock()
	atomic.AddInt64(&c.hits, 1)

	return found, true
}

// peek returns the cached template without touching recency or stats.
func (c *templateCache) peek(name string) (*Template, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, exists := c.entries[name]
	if !exists || c.expired(entry, c.now()) {
		return nil, false
	}

	return entry.tmpl, true
}

// put inserts or replaces the template stored under its name.
func (c *templateCache) put(tmpl *Template) {
	var evicted []string

	c.mutex.Lock()
	now := c.now()
	entry := &cacheEntry{tmpl: tmpl, insertedAt: now, accessedAt: now}
	if existing, exists := c.entries[tmpl.Name]; exists {
		// tmpl is never rewritten in place; swap in a fresh entry.
		c.remove(existing)
	}
	c.entries[tmpl.Name] = entry
	c.addToFront(entry)

	// Efficient LRU eviction - remove from tail (least recently used)
	for c.capacity > 0 && len(c.entries) > c.capacity && c.tail.prev != c.head {
		lru := c.tail.prev
		c.remove(lru)
		evicted = append(evicted, lru.tmpl.Name)
	}
	c.mutex.Unlock()

	for _, name := range evicted {
		c.evicted(name, evictCapacity)
	}
}

// delete removes name and reports whether it was present.
func (c *templateCache) delete(name string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, exists := c.entries[name]
	if exists {
		c.remove(entry)
	}

	return exists
}

// clear drops every entry. Statistics are kept.
func (c *templateCache) clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.head.next = c.tail
	c.tail.prev = c.head
}

// snapshot returns the live templates, most recently used first.
func (c *templateCache) snapshot() []*Template {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	out := make([]*Template, 0, len(c.entries))
	for e := c.head.next; e != c.tail; e = e.next {
		if !c.expired(e, now) {
			out = append(out, e.tmpl)
		}
	}

	return out
}

func (c *templateCache) len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return len(c.entries)
}

func (c *templateCache) expired(e *cacheEntry, now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.insertedAt) > c.ttl
}

func (c *templateCache) evicted(name, reason string) {
	atomic.AddInt64(&c.evictions, 1)
	if c.onEvict != nil {
		c.onEvict(name, reason)
	}
}

// remove unlinks entry and deletes it from the map. Callers hold the lock.
func (c *templateCache) remove(entry *cacheEntry) {
	c.removeFromList(entry)
	delete(c.entries, entry.tmpl.Name)
}

// LRU doubly-linked list operations
func (c *templateCache) addToFront(entry *cacheEntry) {
	entry.prev = c.head
	entry.next = c.head.next
	c.head.next.prev = entry
	c.head.next = entry
}

func (c *templateCache) removeFromList(entry *cacheEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
}

func (c *templateCache) moveToFront(entry *cacheEntry) {
	c.removeFromList(entry)
	c.addToFront(entry)
}
