package chatsync

import (
	"sync"
	"time"
)

// InMemoryCache is the default Cache: a mutex-guarded map with lazy expiry.
// The working set is a handful of list endpoints with a TTL around a second,
// so there is no eviction loop; stale entries fall out on the next Get.
type InMemoryCache struct {
	mu    sync.RWMutex
	store map[string]*CacheEntry
}

// NewInMemoryCache creates an empty in-memory cache.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		store: make(map[string]*CacheEntry),
	}
}

// Get returns an unexpired entry. Expired entries are evicted and reported
// as a miss; an entry is never served past its expiry.
func (c *InMemoryCache) Get(key string) (*CacheEntry, bool) {
	c.mu.RLock()
	entry, exists := c.store[key]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}

	if time.Now().After(entry.ExpiresAt) {
		c.mu.Lock()
		if current, ok := c.store[key]; ok && current == entry {
			delete(c.store, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	return entry, true
}

// Set inserts or refreshes an entry with the given TTL.
func (c *InMemoryCache) Set(key string, entry *CacheEntry, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry.ExpiresAt = time.Now().Add(ttl)
	c.store[key] = entry
}

// Delete removes an entry.
func (c *InMemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.store, key)
}

// Clear drops every entry.
func (c *InMemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store = make(map[string]*CacheEntry)
}

// Len reports the current number of entries, expired or not.
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

func copyResponse(resp *Response) *Response {
	if resp == nil {
		return nil
	}
	out := &Response{
		StatusCode: resp.StatusCode,
		Body:       append([]byte(nil), resp.Body...),
	}
	if resp.Header != nil {
		out.Header = resp.Header.Clone()
	}
	return out
}
