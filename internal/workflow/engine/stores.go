package engine

import (
	"fmt"
	"sync"

	"github.com/kingrea/splitflow/internal/resultstore"
	fsstore "github.com/kingrea/splitflow/internal/resultstore/fs"
	"github.com/kingrea/splitflow/internal/resultstore/inmem"
	"github.com/kingrea/splitflow/internal/resultstore/sqlite"
	"github.com/kingrea/splitflow/internal/workflow"
)

// StoreFactory opens the result store for a run. The returned func releases it.
type StoreFactory func(run *workflow.Run) (resultstore.Store, func() error, error)

// StoreOptions selects a result store backend.
type StoreOptions struct {
	Backend string
	Prefix  string
	Suffix  string
}

// Stores returns the factory for opts.Backend: fs, sqlite or memory.
func Stores(opts StoreOptions) (StoreFactory, error) {
	switch opts.Backend {
	case "", "fs":
		return FileStores(opts.Prefix, opts.Suffix), nil
	case "sqlite":
		return SQLiteStores(), nil
	case "memory":
		return MemoryStores(), nil
	default:
		return nil, fmt.Errorf("workflow engine: unknown result backend %q", opts.Backend)
	}
}

// FileStores keeps one file per split under the run's results directory.
func FileStores(prefix, suffix string) StoreFactory {
	return func(run *workflow.Run) (resultstore.Store, func() error, error) {
		var opts []fsstore.Option
		if prefix != "" {
			opts = append(opts, fsstore.WithPrefix(prefix))
		}
		if suffix != "" {
			opts = append(opts, fsstore.WithSuffix(suffix))
		}
		store, err := fsstore.New(run.ResultsDir(), opts...)
		if err != nil {
			return nil, nil, err
		}
		return store, noopClose, nil
	}
}

// SQLiteStores keeps results in the run's results.db.
func SQLiteStores() StoreFactory {
	return func(run *workflow.Run) (resultstore.Store, func() error, error) {
		store, err := sqlite.Open(run.DatabasePath())
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
}

// MemoryStores keeps results in process memory, one store per run id. Only
// useful when every split runs in the same process as Resume.
func MemoryStores() StoreFactory {
	var mu sync.Mutex
	stores := map[string]*inmem.Store{}
	return func(run *workflow.Run) (resultstore.Store, func() error, error) {
		mu.Lock()
		defer mu.Unlock()
		store, ok := stores[run.ID()]
		if !ok {
			store = inmem.New()
			stores[run.ID()] = store
		}
		return store, noopClose, nil
	}
}

func noopClose() error { return nil }
