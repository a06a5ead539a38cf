// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package cache

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type ttlItem[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache caches values that carry their own deadline, with single-flight
// fetching. Concurrent fetches for the same key are deduplicated: only one
// caller runs fetchFunc, the rest share its result.
type TTLCache[K comparable, V any] struct {
	data      map[K]ttlItem[V]
	expiresAt func(V) time.Time
	lock      sync.RWMutex
	sfGroup   singleflight.Group
}

// NewTTLCache creates a cache whose entries expire at the instant reported
// by expiresAt for each stored value.
func NewTTLCache[K comparable, V any](expiresAt func(V) time.Time) *TTLCache[K, V] {
	return &TTLCache[K, V]{
		data:      make(map[K]ttlItem[V]),
		expiresAt: expiresAt,
	}
}

// Get returns the cached value for key if it has not expired, otherwise
// fetches it with fetchFunc and caches the result. If invalidate is true
// the entry is cleared before fetching so no caller can observe the stale
// value; concurrent callers fetching the same key share one fetch.
func (c *TTLCache[K, V]) Get(key K, fetchFunc func(K) (V, error), invalidate bool) (V, error) {
	if invalidate {
		c.lock.Lock()
		delete(c.data, key)
		c.lock.Unlock()
	} else {
		c.lock.RLock()
		item, exists := c.data[key]
		c.lock.RUnlock()
		if exists && time.Now().Before(item.expiresAt) {
			return item.value, nil
		}
	}

	keyStr := keyToString(key)

	v, err, _ := c.sfGroup.Do(keyStr, func() (interface{}, error) {
		newValue, fetchErr := fetchFunc(key)
		if fetchErr != nil {
			return *new(V), fetchErr
		}

		c.lock.Lock()
		c.data[key] = ttlItem[V]{
			value:     newValue,
			expiresAt: c.expiresAt(newValue),
		}
		c.lock.Unlock()

		return newValue, nil
	})

	if err != nil {
		return *new(V), err
	}

	return v.(V), nil
}

// Remove drops the entry for key, if any.
func (c *TTLCache[K, V]) Remove(key K) {
	c.lock.Lock()
	delete(c.data, key)
	c.lock.Unlock()
}

// Purge drops every entry.
func (c *TTLCache[K, V]) Purge() {
	c.lock.Lock()
	c.data = make(map[K]ttlItem[V])
	c.lock.Unlock()
}

// keyToString is defined to allow for both fmt.Stringer and primitive string types.
func keyToString[K comparable](key K) string {
	if s, ok := any(key).(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%v", key)
}
