// ABOUTME: TTL-bounded idempotency key registry for chat requests
// ABOUTME: Claims keys atomically so a replayed request never runs the pipeline twice

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

const cleanupInterval = time.Minute

type claim struct {
	at      time.Time
	element *list.Element
}

// Cache records claimed idempotency keys for ttl, holding at most maxSize
// keys. When full, the oldest claim is evicted.
type Cache struct {
	mu      sync.Mutex
	claims  map[string]*claim
	order   *list.List // keys, oldest claim at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache and starts its background expiry sweep.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		claims:  make(map[string]*claim),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Key scopes an idempotency key to the caller that sent it.
func Key(owner, idempotencyKey string) string {
	return owner + "\x00" + idempotencyKey
}

// Claim marks key as in use. It returns false if key was already claimed
// within the ttl, in which case the request is a replay.
func (c *Cache) Claim(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if cl, ok := c.claims[key]; ok {
		if now.Sub(cl.at) < c.ttl {
			return false
		}
		cl.at = now
		c.order.MoveToBack(cl.element)
		return true
	}

	if len(c.claims) >= c.maxSize {
		c.evictOldest()
	}
	c.claims[key] = &claim{at: now, element: c.order.PushBack(key)}
	return true
}

// Release forgets key so the same request can be retried. Used when the
// request was rejected before any work happened.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cl, ok := c.claims[key]; ok {
		c.order.Remove(cl.element)
		delete(c.claims, key)
	}
}

// Claimed reports whether key is currently claimed.
func (c *Cache) Claimed(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cl, ok := c.claims[key]
	return ok && c.now().Sub(cl.at) < c.ttl
}

// Len returns the number of tracked keys, including expired ones not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.claims)
}

// evictOldest must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.claims, key)
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep drops expired claims. The order list is claim-time ordered, so it
// stops at the first live entry.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for e := c.order.Front(); e != nil; {
		key, _ := e.Value.(string)
		if now.Sub(c.claims[key].at) < c.ttl {
			return
		}
		next := e.Next()
		c.order.Remove(e)
		delete(c.claims, key)
		e = next
	}
}

// Close stops the background sweep. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
