// Package resume rebuilds the state a workflow needs to continue after its
// splits ran elsewhere. Reconstruction reads the persisted snapshots and
// whatever per-split results exist, tolerates gaps, and never writes.
package resume

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/kingrea/splitflow/internal/control"
	"github.com/kingrea/splitflow/internal/errs"
	"github.com/kingrea/splitflow/internal/resultstore"
	"github.com/kingrea/splitflow/internal/snapshot"
	"github.com/kingrea/splitflow/internal/split"
)

// Metadata keys set when a Request names the producing engine.
const (
	MetaEngine    = "engine"
	MetaTimestamp = "timestamp"
)

// WarningKind classifies a non-fatal reconstruction diagnostic.
type WarningKind string

const (
	// MissingResult means no result exists yet for a split.
	MissingResult WarningKind = "missing-result"
	// UnreadableResult means the store failed to return a split's result.
	UnreadableResult WarningKind = "unreadable-result"
	// OrphanResult means the store holds a result for an id outside the
	// split map. It is never loaded.
	OrphanResult WarningKind = "orphan-result"
)

// Warning is returned alongside a successful reconstruction.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	SplitID string      `json:"split_id"`
	Message string      `json:"message"`
	Err     error       `json:"-"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: split %s: %s", w.Kind, w.SplitID, w.Message)
}

// Object is the Resume Object handed to a continuation.
type Object struct {
	Control         *control.Object   `json:"control"`
	SplitOutput     *split.Map        `json:"split_output"`
	WorkflowResults map[string][]byte `json:"workflow_results"`
	Metadata        map[string]string `json:"metadata"`
}

// Validate checks the structural invariants. A results map that covers only
// some splits is valid.
func (o *Object) Validate() error {
	const op = "resume object"
	if o == nil {
		return errs.Validation(op, "object is nil")
	}
	if o.Control == nil {
		return errs.Validation(op, "control is required")
	}
	if err := o.Control.Validate(); err != nil {
		return err
	}
	if o.SplitOutput == nil || o.SplitOutput.Len() == 0 {
		return errs.Validation(op, "split_output must hold at least one split")
	}
	if o.WorkflowResults == nil {
		return errs.Validation(op, "workflow_results is required")
	}
	if o.Metadata == nil {
		return errs.Validation(op, "metadata is required")
	}
	ids := make([]string, 0, len(o.WorkflowResults))
	for id := range o.WorkflowResults {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if !o.SplitOutput.Has(id) {
			return errs.Validation(op, "workflow result %q is not in split_output", id)
		}
	}
	return nil
}

// Complete reports whether every split has a result.
func (o *Object) Complete() bool {
	return len(o.MissingIDs()) == 0
}

// MissingIDs lists splits without a result, in split map order.
func (o *Object) MissingIDs() []string {
	var missing []string
	for _, id := range o.SplitOutput.IDs() {
		if _, ok := o.WorkflowResults[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// Request tunes a single reconstruction.
type Request struct {
	// Metadata is copied into the Resume Object.
	Metadata map[string]string
	// Engine, when set, tags the metadata with the engine that produced the
	// results and the reconstruction time. Explicit Metadata entries win.
	Engine string
}

// Outcome is a reconstructed object plus its diagnostics.
type Outcome struct {
	Object   *Object   `json:"object"`
	Warnings []Warning `json:"warnings"`
}

// Count returns how many warnings have the given kind.
func (o Outcome) Count(kind WarningKind) int {
	n := 0
	for _, w := range o.Warnings {
		if w.Kind == kind {
			n++
		}
	}
	return n
}

// Reconstructor assembles Resume Objects. It is safe to call repeatedly as
// more results arrive.
type Reconstructor struct {
	source  snapshot.Source
	results resultstore.Reader
	now     func() time.Time
	logger  *zap.Logger
}

// Option configures a Reconstructor.
type Option func(*Reconstructor)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Reconstructor) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Reconstructor) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New builds a Reconstructor.
func New(source snapshot.Source, results resultstore.Reader, opts ...Option) *Reconstructor {
	r := &Reconstructor{source: source, results: results, now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconstruct loads the snapshots and every available result. Missing
// snapshots fail with a LoadError; missing results only produce warnings.
func (r *Reconstructor) Reconstruct(ctx context.Context, req Request) (Outcome, error) {
	ctl, err := r.source.LoadControl(ctx)
	if err != nil {
		return Outcome{}, err
	}
	splits, err := r.source.LoadSplits(ctx)
	if err != nil {
		return Outcome{}, err
	}

	var warnings []Warning
	results := make(map[string][]byte, splits.Len())
	for _, id := range splits.IDs() {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}
		payload, ok, err := r.results.Get(ctx, id)
		switch {
		case err != nil:
			warnings = append(warnings, Warning{Kind: UnreadableResult, SplitID: id, Message: err.Error(), Err: err})
		case !ok:
			warnings = append(warnings, Warning{Kind: MissingResult, SplitID: id, Message: "no result found"})
		default:
			results[id] = payload
		}
	}
	warnings = append(warnings, r.orphans(ctx, splits)...)

	obj := &Object{
		Control:         ctl,
		SplitOutput:     splits,
		WorkflowResults: results,
		Metadata:        r.metadata(req),
	}
	if err := obj.Validate(); err != nil {
		return Outcome{}, err
	}
	r.logger.Debug("reconstructed resume object",
		zap.Int("splits", splits.Len()),
		zap.Int("results", len(results)),
		zap.Int("warnings", len(warnings)))
	return Outcome{Object: obj, Warnings: warnings}, nil
}

func (r *Reconstructor) orphans(ctx context.Context, splits *split.Map) []Warning {
	ids, err := r.results.ListIDs(ctx)
	if err != nil {
		r.logger.Debug("result listing unavailable; skipping orphan check", zap.Error(err))
		return nil
	}
	var out []Warning
	for _, id := range ids {
		if !splits.Has(id) {
			out = append(out, Warning{Kind: OrphanResult, SplitID: id, Message: "result has no matching split"})
		}
	}
	return out
}

func (r *Reconstructor) metadata(req Request) map[string]string {
	meta := make(map[string]string, len(req.Metadata)+2)
	if req.Engine != "" {
		meta[MetaEngine] = req.Engine
		meta[MetaTimestamp] = r.now().UTC().Format(time.RFC3339)
	}
	for k, v := range req.Metadata {
		meta[k] = v
	}
	return meta
}
