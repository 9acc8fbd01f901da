// Package fs stores per-split results as one file per split inside a results
// directory, named <prefix><id><suffix>.
package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kingrea/splitflow/internal/fsutil"
	"github.com/kingrea/splitflow/internal/resultstore"
)

// DefaultPrefix is prepended to split ids to form result file names.
const DefaultPrefix = "result_"

// Store is a directory-backed result store.
type Store struct {
	dir    string
	prefix string
	suffix string
}

var _ resultstore.Store = (*Store)(nil)

// Option customises a Store.
type Option func(*Store)

// WithPrefix overrides the file name prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithSuffix sets a file name suffix such as ".json".
func WithSuffix(suffix string) Option {
	return func(s *Store) { s.suffix = suffix }
}

// New returns a store rooted at dir. The directory is created lazily on the
// first Put.
func New(dir string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("resultstore/fs: dir is required")
	}
	s := &Store{dir: dir, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	if s.prefix == "" && s.suffix == "" {
		return nil, errors.New("resultstore/fs: prefix or suffix is required")
	}
	return s, nil
}

// Dir returns the results directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the file a split's result is stored at.
func (s *Store) Path(id string) string {
	return filepath.Join(s.dir, s.prefix+id+s.suffix)
}

// Put writes the result atomically.
func (s *Store) Put(ctx context.Context, id string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := resultstore.CheckID(id); err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(s.Path(id), payload, 0o644); err != nil {
		return fmt.Errorf("resultstore/fs: put %s: %w", id, err)
	}
	return nil
}

// Get reads the result for id.
func (s *Store) Get(ctx context.Context, id string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if err := resultstore.CheckID(id); err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(s.Path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("resultstore/fs: get %s: %w", id, err)
	}
	return data, true, nil
}

// ListIDs returns the ids of every result file, sorted.
func (s *Store) ListIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("resultstore/fs: list: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || fsutil.IsTemp(name) {
			continue
		}
		if !strings.HasPrefix(name, s.prefix) || !strings.HasSuffix(name, s.suffix) {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, s.prefix), s.suffix)
		if resultstore.CheckID(id) != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
