/*
 * Copyright 2024 The RuleGo Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package cache provides the in-memory object store used for counters and short lived state.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/rulego/esb/api/types"
)

// DefaultCache is the process wide store used when a Config has no cache.
var DefaultCache = NewMemoryCache(time.Minute * 5)

// MemoryCache stores values with an optional expiry.
// Expired entries are invisible immediately and removed by a janitor that only runs
// while expirable entries exist.
type MemoryCache struct {
	mu         sync.RWMutex
	items      map[string]entry
	gcInterval time.Duration
	gcRunning  bool
	stopGc     chan struct{}
}

type entry struct {
	value interface{}
	// expires is a unix nano timestamp, zero never expires
	expires int64
}

func (e entry) expired(now int64) bool {
	return e.expires > 0 && now > e.expires
}

// NewMemoryCache creates a store whose janitor runs every gcInterval (default 5 minutes).
func NewMemoryCache(gcInterval time.Duration) *MemoryCache {
	if gcInterval <= 0 {
		gcInterval = time.Minute * 5
	}
	return &MemoryCache{
		items:      make(map[string]entry),
		gcInterval: gcInterval,
	}
}

func parseTTL(ttl string) (int64, error) {
	if ttl == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(ttl)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, nil
	}
	return time.Now().Add(d).UnixNano(), nil
}

// Set stores value under key. ttl is a duration string such as "10m", empty never expires.
func (c *MemoryCache) Set(key string, value interface{}, ttl string) error {
	expires, err := parseTTL(ttl)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.items[key] = entry{value: value, expires: expires}
	c.mu.Unlock()
	if expires > 0 {
		c.startGC()
	}
	return nil
}

// Get returns the value or nil when absent or expired.
func (c *MemoryCache) Get(key string) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[key]
	if !ok || e.expired(time.Now().UnixNano()) {
		return nil
	}
	return e.value
}

func (c *MemoryCache) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[key]
	return ok && !e.expired(time.Now().UnixNano())
}

func (c *MemoryCache) Delete(key string) error {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
	return nil
}

// Increment adds delta to the integer stored under key and returns the new value.
// A missing or expired key starts from zero. The ttl is refreshed on every call.
func (c *MemoryCache) Increment(key string, delta int, ttl string) (int, error) {
	expires, err := parseTTL(ttl)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	cur := 0
	if e, ok := c.items[key]; ok && !e.expired(time.Now().UnixNano()) {
		if n, ok := e.value.(int); ok {
			cur = n
		}
	}
	cur += delta
	c.items[key] = entry{value: cur, expires: expires}
	c.mu.Unlock()
	if expires > 0 {
		c.startGC()
	}
	return cur, nil
}

func (c *MemoryCache) DeleteByPrefix(prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.items {
		if strings.HasPrefix(k, prefix) {
			delete(c.items, k)
		}
	}
	return nil
}

func (c *MemoryCache) GetByPrefix(prefix string) map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := time.Now().UnixNano()
	result := make(map[string]interface{})
	for k, e := range c.items {
		if strings.HasPrefix(k, prefix) && !e.expired(now) {
			result[k] = e.value
		}
	}
	return result
}

// Len counts live entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := time.Now().UnixNano()
	n := 0
	for _, e := range c.items {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

func (c *MemoryCache) startGC() {
	c.mu.Lock()
	if c.gcRunning {
		c.mu.Unlock()
		return
	}
	c.gcRunning = true
	stop := make(chan struct{})
	c.stopGc = stop
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.gcInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !c.deleteExpired() {
					c.mu.Lock()
					if c.stopGc == stop {
						c.gcRunning = false
						c.stopGc = nil
					}
					c.mu.Unlock()
					return
				}
			case <-stop:
				return
			}
		}
	}()
}

// StopGC stops the janitor. It restarts on the next Set with a ttl.
func (c *MemoryCache) StopGC() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gcRunning && c.stopGc != nil {
		close(c.stopGc)
		c.stopGc = nil
		c.gcRunning = false
	}
}

// deleteExpired removes expired entries and reports whether expirable entries remain.
func (c *MemoryCache) deleteExpired() bool {
	now := time.Now().UnixNano()
	c.mu.Lock()
	defer c.mu.Unlock()
	remaining := false
	for k, e := range c.items {
		if e.expired(now) {
			delete(c.items, k)
		} else if e.expires > 0 {
			remaining = true
		}
	}
	return remaining
}

// NamespaceCache prefixes every key of an underlying cache, isolating one owner's entries,
// for example the redelivery counters of a single endpoint.
type NamespaceCache struct {
	Cache     types.Cache
	Namespace string
}

// NewNamespaceCache returns nil when cache is nil.
func NewNamespaceCache(cache types.Cache, namespace string) *NamespaceCache {
	if cache == nil {
		return nil
	}
	return &NamespaceCache{Cache: cache, Namespace: namespace}
}

func (c *NamespaceCache) Set(key string, value interface{}, ttl string) error {
	if c == nil || c.Cache == nil {
		return types.ErrCacheNotInitialized
	}
	return c.Cache.Set(c.Namespace+key, value, ttl)
}

func (c *NamespaceCache) Get(key string) interface{} {
	if c == nil || c.Cache == nil {
		return nil
	}
	return c.Cache.Get(c.Namespace + key)
}

func (c *NamespaceCache) Delete(key string) error {
	if c == nil || c.Cache == nil {
		return types.ErrCacheNotInitialized
	}
	return c.Cache.Delete(c.Namespace + key)
}

func (c *NamespaceCache) Has(key string) bool {
	if c == nil || c.Cache == nil {
		return false
	}
	return c.Cache.Has(c.Namespace + key)
}

func (c *NamespaceCache) DeleteByPrefix(prefix string) error {
	if c == nil || c.Cache == nil {
		return types.ErrCacheNotInitialized
	}
	return c.Cache.DeleteByPrefix(c.Namespace + prefix)
}

// GetByPrefix returns matches with the namespace stripped from their keys.
func (c *NamespaceCache) GetByPrefix(prefix string) map[string]interface{} {
	result := make(map[string]interface{})
	if c == nil || c.Cache == nil {
		return result
	}
	for k, v := range c.Cache.GetByPrefix(c.Namespace + prefix) {
		result[strings.TrimPrefix(k, c.Namespace)] = v
	}
	return result
}

// Increment delegates to the underlying cache when it supports counters.
// Other caches fall back to a non atomic read-modify-write.
func (c *NamespaceCache) Increment(key string, delta int, ttl string) (int, error) {
	return Increment(c.Cache, c.Namespace+key, delta, ttl)
}

// Counter is implemented by caches with an atomic increment.
type Counter interface {
	Increment(key string, delta int, ttl string) (int, error)
}

// Increment adds delta to the counter stored under key in cache.
func Increment(cache types.Cache, key string, delta int, ttl string) (int, error) {
	if cache == nil {
		return 0, types.ErrCacheNotInitialized
	}
	if counter, ok := cache.(Counter); ok {
		return counter.Increment(key, delta, ttl)
	}
	cur, _ := cache.Get(key).(int)
	cur += delta
	return cur, cache.Set(key, cur, ttl)
}

var _ types.Cache = (*NamespaceCache)(nil)
var _ types.Cache = (*MemoryCache)(nil)
var _ Counter = (*MemoryCache)(nil)
