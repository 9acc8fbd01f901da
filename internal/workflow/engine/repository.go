package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/kingrea/splitflow/internal/fsutil"
	"github.com/kingrea/splitflow/internal/workflow"
)

// ErrStateNotFound is returned when a run has no persisted state yet.
var ErrStateNotFound = errors.New("workflow engine: state not found")

// StateStore persists run state snapshots.
type StateStore interface {
	Load() (State, error)
	Save(State) error
}

// Repository stores run state as state.json inside the run directory.
type Repository struct {
	path string
}

// NewRepository creates a repository for one run.
func NewRepository(run *workflow.Run) *Repository {
	return &Repository{path: run.StatePath()}
}

// Path returns the state file location.
func (r *Repository) Path() string { return r.path }

// Load reads the persisted state if present.
func (r *Repository) Load() (State, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return State{}, ErrStateNotFound
		}
		return State{}, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("workflow engine: decode %s: %w", r.path, err)
	}
	return state, nil
}

// Save writes the state atomically so concurrent readers never see a torn file.
func (r *Repository) Save(state State) error {
	encoded, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(r.path, append(encoded, '\n'), 0o644)
}
