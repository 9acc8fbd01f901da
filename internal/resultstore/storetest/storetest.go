// Package storetest holds the behaviour every result store must share.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kingrea/splitflow/internal/resultstore"
)

// Run exercises a fresh store returned by open.
func Run(t *testing.T, open func(t *testing.T) resultstore.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing result is not an error", func(t *testing.T) {
		store := open(t)
		payload, ok, err := store.Get(ctx, "1")
		require.NoError(t, err)
		require.False(t, ok)
		require.Nil(t, payload)
	})

	t.Run("put then get", func(t *testing.T) {
		store := open(t)
		require.NoError(t, store.Put(ctx, "1", []byte("R1")))
		payload, ok, err := store.Get(ctx, "1")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []byte("R1"), payload)
	})

	t.Run("put replaces", func(t *testing.T) {
		store := open(t)
		require.NoError(t, store.Put(ctx, "a", []byte("old")))
		require.NoError(t, store.Put(ctx, "a", []byte("new")))
		payload, ok, err := store.Get(ctx, "a")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "new", string(payload))
	})

	t.Run("list ids sorted", func(t *testing.T) {
		store := open(t)
		for _, id := range []string{"3", "1", "west"} {
			require.NoError(t, store.Put(ctx, id, []byte(id)))
		}
		ids, err := store.ListIDs(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"1", "3", "west"}, ids)
	})

	t.Run("rejects unaddressable ids", func(t *testing.T) {
		store := open(t)
		require.Error(t, store.Put(ctx, "", []byte("x")))
		require.Error(t, store.Put(ctx, "../escape", []byte("x")))
	})
}
