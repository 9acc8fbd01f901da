// Package dispatch hands splits to runners. Every runner loads its own copy
// of the persisted snapshots, computes exactly one result and writes it to the
// result store under the split's id. Nothing is shared between runners except
// those read-only snapshots.
package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kingrea/splitflow/internal/control"
	"github.com/kingrea/splitflow/internal/errs"
	"github.com/kingrea/splitflow/internal/resultstore"
	"github.com/kingrea/splitflow/internal/snapshot"
	"github.com/kingrea/splitflow/internal/split"
)

// Job describes one dispatch: the run it belongs to, where its snapshots
// live, and where results must land.
type Job struct {
	RunID     string
	Dir       string
	Snapshots snapshot.Files
	Splits    *split.Map
	Results   resultstore.Store
}

// Validate checks that a job can be dispatched.
func (j Job) Validate() error {
	if j.RunID == "" {
		return fmt.Errorf("dispatch: run id is required")
	}
	if j.Results == nil {
		return fmt.Errorf("dispatch: result store is required")
	}
	return j.Splits.Validate()
}

// Receipt reports what a dispatcher did. Deferred dispatchers return before
// any result exists; callers resume later.
type Receipt struct {
	Backend    string            `json:"backend"`
	Dispatched []string          `json:"dispatched"`
	Failed     map[string]string `json:"failed,omitempty"`
	Deferred   bool              `json:"deferred"`
	Script     string            `json:"script,omitempty"`
	Output     string            `json:"output,omitempty"`
}

// Succeeded reports whether every dispatched split produced a result.
func (r Receipt) Succeeded() bool {
	return !r.Deferred && len(r.Failed) == 0
}

// Dispatcher hands every split of a job to a runner.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) (Receipt, error)
}

// Body computes one split's opaque result.
type Body func(ctx context.Context, ctl *control.Object, id string, payload split.Payload) ([]byte, error)

// Runner executes a single split the way an external worker would.
type Runner struct {
	Source  snapshot.Source
	Results resultstore.Writer
	Body    Body
	Logger  *zap.Logger
}

// RunSplit loads the snapshots, runs the body for id and stores its result.
func (r *Runner) RunSplit(ctx context.Context, id string) error {
	if r.Body == nil {
		return fmt.Errorf("dispatch: runner body is required")
	}
	ctl, m, err := r.load(ctx)
	if err != nil {
		return err
	}
	return r.run(ctx, ctl, m, id)
}

// RunIndex runs the split at a 1-based position in split map order, which is
// how array-job backends address their tasks.
func (r *Runner) RunIndex(ctx context.Context, index int) error {
	if r.Body == nil {
		return fmt.Errorf("dispatch: runner body is required")
	}
	ctl, m, err := r.load(ctx)
	if err != nil {
		return err
	}
	entry, err := m.At(index)
	if err != nil {
		return err
	}
	return r.run(ctx, ctl, m, entry.ID)
}

func (r *Runner) load(ctx context.Context) (*control.Object, *split.Map, error) {
	ctl, err := r.Source.LoadControl(ctx)
	if err != nil {
		return nil, nil, err
	}
	m, err := r.Source.LoadSplits(ctx)
	if err != nil {
		return nil, nil, err
	}
	return ctl, m, nil
}

func (r *Runner) run(ctx context.Context, ctl *control.Object, m *split.Map, id string) error {
	payload, ok := m.Get(id)
	if !ok {
		return errs.Config("run split", "split %q is not in the split map", id)
	}
	logger := r.logger().With(zap.String("split", id))
	logger.Debug("running split", zap.Int("rows", len(payload.Rows)))
	out, err := r.Body(ctx, ctl, id, payload)
	if err != nil {
		logger.Warn("split failed", zap.Error(err))
		return fmt.Errorf("dispatch: split %s: %w", id, err)
	}
	if err := r.Results.Put(ctx, id, out); err != nil {
		return err
	}
	logger.Debug("split result stored", zap.Int("bytes", len(out)))
	return nil
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}
