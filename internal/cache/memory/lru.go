// Package memory provides an in-process LRU cache.Store with TTL.
package memory

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// LRU evicts the least recently used entry beyond its capacity. Expired
// entries are dropped on read.
type LRU struct {
	mu       sync.Mutex
	capacity int
	now      func() time.Time
	order    *list.List
	entries  map[string]*list.Element
}

type entry struct {
	key     string
	value   string
	expires time.Time
}

// New creates an LRU holding at most capacity entries.
func New(capacity int) *LRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &LRU{
		capacity: capacity,
		now:      time.Now,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

// Get returns the value for key if present and unexpired.
func (c *LRU) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", false, nil
	}
	it := e.Value.(entry)
	if !it.expires.IsZero() && !c.now().Before(it.expires) {
		c.order.Remove(e)
		delete(c.entries, key)
		return "", false, nil
	}
	c.order.MoveToFront(e)
	return it.value, true, nil
}

// Set stores value under key. A ttl <= 0 never expires.
func (c *LRU) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var expires time.Time
	if ttl > 0 {
		expires = c.now().Add(ttl)
	}
	it := entry{key: key, value: value, expires: expires}
	if e, ok := c.entries[key]; ok {
		e.Value = it
		c.order.MoveToFront(e)
		return nil
	}
	c.entries[key] = c.order.PushFront(it)
	for c.order.Len() > c.capacity {
		back := c.order.Back()
		c.order.Remove(back)
		delete(c.entries, back.Value.(entry).key)
	}
	return nil
}

// Len returns the number of live and not yet collected entries.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
