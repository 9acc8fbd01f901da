package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kingrea/splitflow/internal/resultstore"
	"github.com/kingrea/splitflow/internal/resultstore/storetest"
)

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) resultstore.Store {
		store, err := New(filepath.Join(t.TempDir(), "results"))
		require.NoError(t, err)
		return store
	})
}

func TestResultFileNaming(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), "7", []byte("R7")))

	data, err := os.ReadFile(filepath.Join(dir, "result_7"))
	require.NoError(t, err)
	require.Equal(t, "R7", string(data))
	require.Equal(t, filepath.Join(dir, "result_7"), store.Path("7"))
}

func TestListIgnoresForeignAndTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, WithSuffix(".json"))
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), "1", []byte("{}")))
	for _, name := range []string{"notes.txt", "result_2.json.tmp.123", "result_3.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "result_4.json"), 0o755))

	ids, err := store.ListIDs(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, ids)
}

func TestListOnMissingDirectory(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	ids, err := store.ListIDs(context.Background())
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestNewRequiresDir(t *testing.T) {
	_, err := New(" ")
	require.Error(t, err)
}
