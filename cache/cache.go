// Package cache implements the proxy's bounded, byte-budgeted response
// cache: a doubly linked list ordered MRA (most recently added, head) to
// LRA (least recently added, tail), approximating LRU by eviction order
// alone — a cache hit never promotes an object's position, per spec.md §3
// and §4.2.
//
// The package itself does not decide who holds which lock when: per
// spec.md §4.2/§5, a single readers-writer lock "external to the cache"
// guards it. Find assumes the caller already holds the read lock (and
// keeps holding it for as long as it uses the returned *Object, since a
// concurrent writer may otherwise evict it from under a dropped lock).
// Insert manages its own write lock for the whole evict+insert sequence,
// since nothing needs to outlive that call. This mirrors the shape of the
// teacher's common.cacheLimiter (atomic byte budget, try-then-commit) and
// common.LFUCache (one mutex-guarded structure, eviction triggered from the
// insert path) — see DESIGN.md.
package cache

import "sync"

const (
	// MaxObjectSize is the largest response admitted to the cache.
	MaxObjectSize = 102400
	// MaxCacheSize is the default total budget for a Cache.
	MaxCacheSize = 1049000
)

// Object is one cached response: the exact request-line bytes as its key,
// the response bytes as its value, and its size. Objects thread a doubly
// linked list through prev/next, maintained only by Cache.
type Object struct {
	Key   string
	Value []byte
	Size  int64

	prev, next *Object
}

// Cache is a bounded MRA/LRA object cache guarded by an external
// readers-writer lock (see RLock/RUnlock).
type Cache struct {
	mu sync.RWMutex

	maxBytes  int64
	bytesLeft int64
	mra       *Object // head: most recently added
	lra       *Object // tail: least recently added
}

// New returns an empty Cache with the given total byte budget.
func New(maxBytes int64) *Cache {
	return &Cache{maxBytes: maxBytes, bytesLeft: maxBytes}
}

// RLock and RUnlock expose the cache's reader lock so a caller can hold it
// across both the Find call and its subsequent use of the returned
// *Object — per spec.md §5, the lock must span any use of a pointer
// returned by Find, because a later writer may evict it.
func (c *Cache) RLock()   { c.mu.RLock() }
func (c *Cache) RUnlock() { c.mu.RUnlock() }

// Find performs a linear scan from MRA for an object with the exact given
// key. The caller MUST already hold the read lock (via RLock) and must not
// release it until done with the returned *Object.
func (c *Cache) Find(key string) (*Object, bool) {
	for o := c.mra; o != nil; o = o.next {
		if o.Key == key {
			return o, true
		}
	}
	return nil, false
}

// Insert admits a new object keyed by key, evicting from the LRA end until
// there is room, then prepending it at the MRA end. It takes the write
// lock for the entire evict+insert sequence. Objects larger than
// MaxObjectSize are rejected outright (the admission policy of spec.md
// §4.2); Insert reports whether the object was admitted.
func (c *Cache) Insert(key string, value []byte) bool {
	size := int64(len(value))
	if size > MaxObjectSize {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for c.bytesLeft < size && c.lra != nil {
		c.evictLocked(c.lra)
	}
	if c.bytesLeft < size {
		// Precondition violation per spec.md §7: size > maxBytes with an
		// empty cache. Admission policy above should make this
		// unreachable in practice; refuse rather than go negative.
		return false
	}

	o := &Object{Key: key, Value: value, Size: size}
	c.prependLocked(o)
	c.bytesLeft -= size
	return true
}

// Remove unlinks o from the list, returns its size to the budget, and
// clears o's Value. It takes the write lock itself, like Insert.
func (c *Cache) Remove(o *Object) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(o)
}

func (c *Cache) evictLocked(o *Object) {
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		c.mra = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else {
		c.lra = o.prev
	}
	o.prev, o.next = nil, nil
	c.bytesLeft += o.Size

	o.Value = nil
}

func (c *Cache) prependLocked(o *Object) {
	o.prev = nil
	o.next = c.mra
	if c.mra != nil {
		c.mra.prev = o
	}
	c.mra = o
	if c.lra == nil {
		c.lra = o
	}
}

// BytesLeft reports the remaining capacity. Testable property 7 of
// spec.md §8 requires sum(object.size)+BytesLeft == MaxBytes at every
// observation point; callers taking a consistent snapshot should hold
// RLock.
func (c *Cache) BytesLeft() int64 { return c.bytesLeft }

// MaxBytes reports the cache's fixed total budget.
func (c *Cache) MaxBytes() int64 { return c.maxBytes }
