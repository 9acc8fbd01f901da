// internal/workflow/workflow.go
//
// Defines the run directory structure and file constants.
// All run state is stored in .splitflow/runs/<run-id>/ so external runners
// on a shared filesystem can reach it.

package workflow

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kingrea/splitflow/internal/snapshot"
)

// DefaultRootDir is the project-local state directory.
const DefaultRootDir = ".splitflow"

// Directory names within .splitflow/
const (
	RunsDir    = "runs"
	LogsDir    = "logs"
	ResultsDir = "results"
)

// File names for run artifacts
const (
	FileControl    = "control.json"
	FileSplits     = "splits.json"
	FileState      = "state.json"
	FileLogbook    = "logbook.log"
	FileScript     = "submit.sh"
	FileReport     = "report.json"
	FileResultsDB  = "results.db"
	FileDefinition = "definition.yaml"
)

// Workflow manages the .splitflow directory structure
type Workflow struct {
	root string
}

// New creates a new Workflow manager rooted at the .splitflow directory.
func New(root string) *Workflow {
	return &Workflow{root: root}
}

// Root returns the .splitflow directory.
func (w *Workflow) Root() string { return w.root }

// RunsDir returns .splitflow/runs.
func (w *Workflow) RunsDir() string {
	return filepath.Join(w.root, RunsDir)
}

// LogsDir returns .splitflow/logs.
func (w *Workflow) LogsDir() string {
	return filepath.Join(w.root, LogsDir)
}

// Initialize creates the top-level directories.
func (w *Workflow) Initialize() error {
	for _, dir := range []string{w.root, w.RunsDir(), w.LogsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// Run returns the path handle for a run. It does not touch the filesystem.
func (w *Workflow) Run(id string) (*Run, error) {
	id = strings.TrimSpace(id)
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return nil, fmt.Errorf("workflow: invalid run id %q", id)
	}
	return &Run{id: id, dir: filepath.Join(w.RunsDir(), id)}, nil
}

// ListRuns returns the ids of every run directory, sorted.
func (w *Workflow) ListRuns() ([]string, error) {
	entries, err := os.ReadDir(w.RunsDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Run locates every artifact of a single run.
type Run struct {
	id  string
	dir string
}

// ID returns the run id.
func (r *Run) ID() string { return r.id }

// Dir returns the run directory.
func (r *Run) Dir() string { return r.dir }

func (r *Run) ControlPath() string    { return filepath.Join(r.dir, FileControl) }
func (r *Run) SplitsPath() string     { return filepath.Join(r.dir, FileSplits) }
func (r *Run) ResultsDir() string     { return filepath.Join(r.dir, ResultsDir) }
func (r *Run) StatePath() string      { return filepath.Join(r.dir, FileState) }
func (r *Run) LogbookPath() string    { return filepath.Join(r.dir, FileLogbook) }
func (r *Run) ScriptPath() string     { return filepath.Join(r.dir, FileScript) }
func (r *Run) ReportPath() string     { return filepath.Join(r.dir, FileReport) }
func (r *Run) DatabasePath() string   { return filepath.Join(r.dir, FileResultsDB) }
func (r *Run) DefinitionPath() string { return filepath.Join(r.dir, FileDefinition) }

// Snapshots returns the run's snapshot files.
func (r *Run) Snapshots() snapshot.Files {
	return snapshot.Files{ControlPath: r.ControlPath(), SplitsPath: r.SplitsPath()}
}

// Exists reports whether the run directory has been created.
func (r *Run) Exists() bool {
	info, err := os.Stat(r.dir)
	return err == nil && info.IsDir()
}

// Initialize creates the run directory structure.
func (r *Run) Initialize() error {
	for _, dir := range []string{r.dir, r.ResultsDir(), filepath.Join(r.dir, LogsDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
