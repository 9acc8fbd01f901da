// Package resultstore defines where per-split results live. Dispatch writes
// one result per split; resume reads whatever is present. Backends differ
// only in how a split id is addressed.
package resultstore

import (
	"context"
	"errors"

	"github.com/kingrea/splitflow/internal/split"
)

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("resultstore: closed")

// Reader exposes stored results. Get reports ok=false without an error when
// no result exists for id.
type Reader interface {
	Get(ctx context.Context, id string) (payload []byte, ok bool, err error)
	ListIDs(ctx context.Context) ([]string, error)
}

// Writer persists a single split's result, replacing any previous one.
type Writer interface {
	Put(ctx context.Context, id string, payload []byte) error
}

// Store is both.
type Store interface {
	Reader
	Writer
}

// CheckID validates an id before it is used as an address.
func CheckID(id string) error {
	return split.ValidateID(id)
}
