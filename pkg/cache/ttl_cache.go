// Package cache provides a generic in-memory cache with per-entry expiry.
//
// TTLCache holds values for a fixed time to live. Every entry records when
// it expires; a Get after that point is a miss even if the entry has not
// been swept yet. A background sweeper removes expired entries so the map
// does not grow with keys that are never read again.
//
// The chat service uses it for membership checks. Every chat route asks
// whether the caller belongs to the chat, and membership changes far less
// often than it is read.
//
// All methods are safe for concurrent use. Reads share a sync.RWMutex, and
// writes and sweeps take it exclusively.
package cache

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache maps K to V; entries stop being returned ttl after they were set.
// Expired entries are removed by a background sweep every cleanupInterval.
//
//	members := cache.New[string, bool](30*time.Second, 5*time.Minute)
//	members.Set(chatID+":"+userID, true)
type TTLCache[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]entry[V]
	ttl     time.Duration
	clk     clock.Clock

	stopCleanup chan struct{}
	closeOnce   sync.Once
}

// New creates a cache using the wall clock and starts its sweeper.
func New[K comparable, V any](ttl, cleanupInterval time.Duration) *TTLCache[K, V] {
	return NewWithClock[K, V](ttl, cleanupInterval, clock.New())
}

// NewWithClock creates a cache driven by clk.
func NewWithClock[K comparable, V any](ttl, cleanupInterval time.Duration, clk clock.Clock) *TTLCache[K, V] {
	c := &TTLCache[K, V]{
		entries:     make(map[K]entry[V]),
		ttl:         ttl,
		clk:         clk,
		stopCleanup: make(chan struct{}),
	}

	ticker := clk.Ticker(cleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.evictExpired()
			case <-c.stopCleanup:
				return
			}
		}
	}()

	return c
}

// Get returns the value for key if present and not expired.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || c.clk.Now().After(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key for one ttl.
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry[V]{
		value:     value,
		expiresAt: c.clk.Now().Add(c.ttl),
	}
}

// Delete removes key.
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
}

// DeleteFunc removes every key for which predicate returns true.
func (c *TTLCache[K, V]) DeleteFunc(predicate func(key K) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		if predicate(key) {
			delete(c.entries, key)
		}
	}
}

// Len counts stored entries, expired ones included.
func (c *TTLCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Close stops the sweeper. It is safe to call more than once.
func (c *TTLCache[K, V]) Close() {
	c.closeOnce.Do(func() { close(c.stopCleanup) })
}

func (c *TTLCache[K, V]) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clk.Now()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
		}
	}
}
