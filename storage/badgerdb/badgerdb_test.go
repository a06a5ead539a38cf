// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package badgerdb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)

	_, ok, err := store.GetItem("missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.SetItem("k", "v1"))
	v, ok, err := store.GetItem("k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v1", v)

	// Overwrites are idempotent.
	require.NoError(t, store.SetItem("k", "v2"))
	v, _, err = store.GetItem("k")
	require.NoError(t, err)
	require.Equal(t, "v2", v)
}

func TestStoreRemove(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SetItem("k", "v"))
	require.NoError(t, store.RemoveItem("k"))
	_, ok, err := store.GetItem("k")
	require.NoError(t, err)
	require.False(t, ok)

	// Removing an absent key is not an error.
	require.NoError(t, store.RemoveItem("k"))
}

func TestStoreClear(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SetItem("a", "1"))
	require.NoError(t, store.SetItem("b", "2"))
	require.NoError(t, store.Clear())

	for _, key := range []string{"a", "b"} {
		_, ok, err := store.GetItem(key)
		require.NoError(t, err)
		require.False(t, ok)
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, store.SetItem("k", "v"))
	require.NoError(t, store.Close())

	reopened, err := New(dir)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, reopened.Close())
	}()

	v, ok, err := reopened.GetItem("k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", v)
}
