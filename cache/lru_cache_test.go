// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLRUCacheEviction(t *testing.T) {
	cache, err := NewLRUCache[string, int](2)
	require.NoError(t, err)

	cache.Add("a", 1)
	cache.Add("b", 2)
	require.Equal(t, 2, cache.Len())

	// Touch "a" so "b" becomes the eviction candidate.
	_, ok := cache.Get("a")
	require.True(t, ok)

	cache.Add("c", 3)
	require.Equal(t, 2, cache.Len())

	_, ok = cache.Get("b")
	require.False(t, ok)
	v, ok := cache.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)
}

func TestLRUCacheRemoveAndPurge(t *testing.T) {
	cache, err := NewLRUCache[string, int](4)
	require.NoError(t, err)

	cache.Add("a", 1)
	cache.Add("b", 2)

	cache.Remove("a")
	_, ok := cache.Get("a")
	require.False(t, ok)
	require.Equal(t, 1, cache.Len())

	cache.Purge()
	require.Zero(t, cache.Len())
}

func TestLRUCacheInvalidSize(t *testing.T) {
	_, err := NewLRUCache[string, int](-1)
	require.Error(t, err)
}
