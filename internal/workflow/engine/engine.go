package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kingrea/splitflow/internal/continuation"
	"github.com/kingrea/splitflow/internal/control"
	"github.com/kingrea/splitflow/internal/dispatch"
	"github.com/kingrea/splitflow/internal/engines"
	"github.com/kingrea/splitflow/internal/envelope"
	"github.com/kingrea/splitflow/internal/errs"
	"github.com/kingrea/splitflow/internal/logbook"
	"github.com/kingrea/splitflow/internal/resume"
	"github.com/kingrea/splitflow/internal/workflow"
)

// ErrIncomplete is returned by Resume when RequireComplete is set and some
// splits have no result yet.
var ErrIncomplete = errors.New("workflow engine: results incomplete")

// ContinuationFactory builds the continuation for a run.
type ContinuationFactory func(run *workflow.Run, logger *zap.Logger) continuation.Continuation

// Engine coordinates the engine registry, dispatch and resume while
// persisting run state.
type Engine struct {
	registry     *engines.Registry
	wf           *workflow.Workflow
	clock        func() time.Time
	newID        func(workflowID string, now time.Time) string
	logger       *zap.Logger
	stores       StoreFactory
	maxParallel  int
	arrayJob     dispatch.ArrayJobOptions
	continuation ContinuationFactory
}

// Option customizes the engine instance.
type Option func(*Engine)

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithIDGenerator overrides run id generation.
func WithIDGenerator(gen func(workflowID string, now time.Time) string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithResultStores selects the result store backend.
func WithResultStores(factory StoreFactory) Option {
	return func(e *Engine) {
		if factory != nil {
			e.stores = factory
		}
	}
}

// WithMaxParallel sets the default worker count for local dispatch.
func WithMaxParallel(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxParallel = n
		}
	}
}

// WithArrayJob sets the array-job submission defaults.
func WithArrayJob(opts dispatch.ArrayJobOptions) Option {
	return func(e *Engine) {
		e.arrayJob = opts
	}
}

// WithContinuation replaces the default report aggregator.
func WithContinuation(factory ContinuationFactory) Option {
	return func(e *Engine) {
		if factory != nil {
			e.continuation = factory
		}
	}
}

// New wires an engine to the engine registry and the run directory tree.
func New(registry *engines.Registry, wf *workflow.Workflow, opts ...Option) (*Engine, error) {
	if registry == nil {
		return nil, fmt.Errorf("workflow engine: engine registry is required")
	}
	if wf == nil {
		return nil, fmt.Errorf("workflow engine: workflow is required")
	}
	e := &Engine{
		registry:    registry,
		wf:          wf,
		clock:       time.Now,
		newID:       generateRunID,
		logger:      zap.NewNop(),
		stores:      FileStores("", ""),
		maxParallel: 1,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.continuation == nil {
		e.continuation = func(run *workflow.Run, logger *zap.Logger) continuation.Continuation {
			return continuation.NewAggregator(run.ReportPath(),
				continuation.WithClock(e.clock),
				continuation.WithLogger(logger))
		}
	}
	return e, nil
}

// Workflow returns the run directory tree the engine works in.
func (e *Engine) Workflow() *workflow.Workflow { return e.wf }

// StartRequest launches a new run of a pipeline definition.
type StartRequest struct {
	Definition workflow.Definition
}

// ResumeRequest reconstructs and continues a deferred run.
type ResumeRequest struct {
	RunID string
	// RequireComplete refuses to continue while any split lacks a result.
	RequireComplete bool
	// Engine tags the resume metadata. Defaults to the run's execution engine.
	Engine string
}

// WatchRequest waits for a deferred run's results before continuing.
type WatchRequest struct {
	RunID    string
	Interval time.Duration
	OnUpdate func(resume.Outcome)
}

// SplitRequest runs one split of an existing run, addressed either by id or
// by its 1-based position in the split map.
type SplitRequest struct {
	RunID string
	ID    string
	Index int
}

// Start evaluates a pipeline definition from scratch: build the control
// object, split it, snapshot both, and hand the splits to the execution
// engine. When the execution engine continues, the run is continued in
// place; otherwise it is left deferred for Resume.
func (e *Engine) Start(ctx context.Context, req StartRequest) (State, error) {
	def, err := req.Definition.Normalized()
	if err != nil {
		return State{}, errs.Config("start", "%v", err)
	}
	data, err := control.LoadCSV(def.Dataset)
	if err != nil {
		return State{}, errs.Load("start", err, "dataset %s", def.Dataset)
	}
	ctl, err := control.New(def.Vars, data, def.Params())
	if err != nil {
		return State{}, err
	}

	now := e.now()
	run, err := e.wf.Run(e.newID(def.ID, now))
	if err != nil {
		return State{}, err
	}
	if err := run.Initialize(); err != nil {
		return State{}, fmt.Errorf("workflow engine: init run: %w", err)
	}
	if err := workflow.WriteDefinitionFile(run.DefinitionPath(), def); err != nil {
		return State{}, err
	}
	book, err := logbook.New(run.LogbookPath(), logbook.WithClock(e.clock))
	if err != nil {
		return State{}, err
	}
	logger := e.logger.With(zap.String("run", run.ID()), zap.String("workflow", def.ID))
	repo := NewRepository(run)
	state := State{
		RunID:      run.ID(),
		WorkflowID: def.ID,
		Definition: def,
		Status:     RunStatusUnknown,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	ectx := engines.NewContext(ctx, ctl, logger)
	splits, err := engines.SplitWorkload(e.registry, ectx, def.Splitting.Engine)
	if err != nil {
		return e.abort(repo, book, state, err)
	}
	if err := run.Snapshots().Write(ctl, splits); err != nil {
		return e.abort(repo, book, state, err)
	}
	state.Splits = splits.IDs()
	state.Status = RunStatusDispatched
	state.UpdatedAt = e.now()
	if err := repo.Save(state); err != nil {
		return State{}, err
	}
	book.Record(logbook.LevelInfo, "split", map[string]string{
		"engine": def.Splitting.Engine,
		"splits": fmt.Sprint(splits.Len()),
		"rows":   fmt.Sprint(data.Len()),
	})
	logger.Info("workload split", zap.String("engine", def.Splitting.Engine), zap.Int("splits", splits.Len()))

	store, closeStore, err := e.stores(run)
	if err != nil {
		return e.abort(repo, book, state, err)
	}
	defer closeStore()

	job := dispatch.Job{
		RunID:     run.ID(),
		Dir:       run.Dir(),
		Snapshots: run.Snapshots(),
		Splits:    splits,
		Results:   store,
	}
	arrayOpts := e.arrayJob
	if arrayOpts.JobName == "" {
		arrayOpts.JobName = slug(def.ID)
	}
	execCtx := ectx.WithSplits(splits).WithDispatch(job, Body(e.registry, def, logger), e.workers(def), arrayOpts)
	env, err := engines.RunStage(e.registry, execCtx, control.CategoryExecution, def.Execution.Engine)
	if err != nil {
		return e.abort(repo, book, state, err)
	}
	exec, ok := env.(*envelope.Execution)
	if !ok {
		return e.abort(repo, book, state, errs.Schema("start", "execution engine returned %T", env))
	}
	if err := exec.CheckSplits(splits); err != nil {
		return e.abort(repo, book, state, err)
	}
	state.Execution = &ExecutionSummary{
		Engine:      exec.Method,
		Continue:    exec.Continue,
		Results:     len(exec.WorkflowResults),
		Diagnostics: exec.Diagnostics,
	}
	book.Record(logbook.LevelInfo, "dispatched", map[string]string{
		"engine":   exec.Method,
		"results":  fmt.Sprint(len(exec.WorkflowResults)),
		"continue": fmt.Sprint(exec.Continue),
	})

	if !exec.Continue {
		state.Status = RunStatusDeferred
		state.StatusReason = fmt.Sprintf("%d of %d splits have results; resume once the rest are written",
			len(exec.WorkflowResults), splits.Len())
		state.UpdatedAt = e.now()
		if err := repo.Save(state); err != nil {
			return State{}, err
		}
		logger.Info("run deferred", zap.Int("results", len(exec.WorkflowResults)))
		return state, nil
	}

	obj := &resume.Object{
		Control:         ctl,
		SplitOutput:     splits,
		WorkflowResults: exec.WorkflowResults,
		Metadata: map[string]string{
			resume.MetaEngine:    exec.Method,
			resume.MetaTimestamp: e.now().UTC().Format(time.RFC3339),
		},
	}
	return e.finish(ctx, run, repo, book, logger, state, obj)
}

// Resume reconstructs a run from its snapshots and stored results, records
// any warnings, and continues it.
func (e *Engine) Resume(ctx context.Context, req ResumeRequest) (State, error) {
	run, repo, state, err := e.load(req.RunID)
	if err != nil {
		return State{}, err
	}
	book, err := logbook.New(run.LogbookPath(), logbook.WithClock(e.clock))
	if err != nil {
		return State{}, err
	}
	logger := e.logger.With(zap.String("run", run.ID()))

	store, closeStore, err := e.stores(run)
	if err != nil {
		return State{}, err
	}
	defer closeStore()

	rec := resume.New(run.Snapshots(), store, resume.WithClock(e.clock), resume.WithLogger(logger))
	outcome, err := rec.Reconstruct(ctx, e.resumeRequest(state, req.Engine))
	if err != nil {
		return e.abort(repo, book, state, err)
	}
	return e.afterReconstruct(ctx, run, repo, book, logger, state, outcome, req.RequireComplete)
}

// Watch waits until every split of a deferred run has a result, then
// continues it. Cancelling ctx returns the run as last seen.
func (e *Engine) Watch(ctx context.Context, req WatchRequest) (State, error) {
	run, repo, state, err := e.load(req.RunID)
	if err != nil {
		return State{}, err
	}
	book, err := logbook.New(run.LogbookPath(), logbook.WithClock(e.clock))
	if err != nil {
		return State{}, err
	}
	logger := e.logger.With(zap.String("run", run.ID()))

	store, closeStore, err := e.stores(run)
	if err != nil {
		return State{}, err
	}
	defer closeStore()

	dir := run.Dir()
	if d, ok := store.(interface{ Dir() string }); ok {
		dir = d.Dir()
	}
	rec := resume.New(run.Snapshots(), store, resume.WithClock(e.clock), resume.WithLogger(logger))
	outcome, err := rec.Watch(ctx, e.resumeRequest(state, ""), resume.WatchOptions{
		Dir:      dir,
		Interval: req.Interval,
		OnUpdate: req.OnUpdate,
	})
	if err != nil {
		if ctx.Err() != nil {
			return state, err
		}
		return e.abort(repo, book, state, err)
	}
	return e.afterReconstruct(ctx, run, repo, book, logger, state, outcome, true)
}

// RunSplit executes one split of an existing run and stores its result. This
// is what array-job tasks invoke.
func (e *Engine) RunSplit(ctx context.Context, req SplitRequest) error {
	run, _, state, err := e.load(req.RunID)
	if err != nil {
		return err
	}
	logger := e.logger.With(zap.String("run", run.ID()))
	store, closeStore, err := e.stores(run)
	if err != nil {
		return err
	}
	defer closeStore()

	runner := &dispatch.Runner{
		Source:  run.Snapshots(),
		Results: store,
		Body:    Body(e.registry, state.Definition, logger),
		Logger:  logger,
	}
	book, err := logbook.New(run.LogbookPath(), logbook.WithClock(e.clock))
	if err != nil {
		return err
	}
	target := req.ID
	if req.Index > 0 {
		target = fmt.Sprintf("#%d", req.Index)
		err = runner.RunIndex(ctx, req.Index)
	} else {
		err = runner.RunSplit(ctx, req.ID)
	}
	if err != nil {
		book.Record(logbook.LevelError, "split-failed", map[string]string{"split": target, "error": err.Error()})
		return err
	}
	book.Record(logbook.LevelInfo, "split-done", map[string]string{"split": target})
	return nil
}

// View returns the last persisted state of a run.
func (e *Engine) View(runID string) (State, error) {
	_, _, state, err := e.load(runID)
	return state, err
}

// Runs lists persisted runs, oldest id first.
func (e *Engine) Runs() ([]State, error) {
	ids, err := e.wf.ListRuns()
	if err != nil {
		return nil, err
	}
	var states []State
	for _, id := range ids {
		state, err := e.View(id)
		if errors.Is(err, ErrStateNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, nil
}

func (e *Engine) load(runID string) (*workflow.Run, *Repository, State, error) {
	run, err := e.wf.Run(runID)
	if err != nil {
		return nil, nil, State{}, err
	}
	repo := NewRepository(run)
	state, err := repo.Load()
	if err != nil {
		return nil, nil, State{}, err
	}
	return run, repo, state, nil
}

func (e *Engine) resumeRequest(state State, engine string) resume.Request {
	if engine == "" && state.Execution != nil {
		engine = state.Execution.Engine
	}
	if engine == "" {
		engine = state.Definition.Execution.Engine
	}
	return resume.Request{Engine: engine, Metadata: map[string]string{"run_id": state.RunID}}
}

func (e *Engine) afterReconstruct(ctx context.Context, run *workflow.Run, repo *Repository, book *logbook.Logbook,
	logger *zap.Logger, state State, outcome resume.Outcome, requireComplete bool) (State, error) {
	state.Warnings = outcome.Warnings
	for _, w := range outcome.Warnings {
		book.Record(logbook.LevelWarn, string(w.Kind), map[string]string{"split": w.SplitID, "message": w.Message})
	}
	if requireComplete && !outcome.Object.Complete() {
		missing := outcome.Object.MissingIDs()
		state.Status = RunStatusDeferred
		state.StatusReason = fmt.Sprintf("missing results for %s", strings.Join(missing, ", "))
		state.UpdatedAt = e.now()
		if err := repo.Save(state); err != nil {
			return State{}, err
		}
		return state, fmt.Errorf("%w: %d of %d splits missing", ErrIncomplete, len(missing), outcome.Object.SplitOutput.Len())
	}
	return e.finish(ctx, run, repo, book, logger, state, outcome.Object)
}

func (e *Engine) finish(ctx context.Context, run *workflow.Run, repo *Repository, book *logbook.Logbook,
	logger *zap.Logger, state State, obj *resume.Object) (State, error) {
	report, err := e.continuation(run, logger).Continue(ctx, obj)
	if err != nil {
		return e.abort(repo, book, state, err)
	}
	state.Report = &ReportSummary{
		Path:        run.ReportPath(),
		Complete:    report.Complete,
		Missing:     report.Missing,
		Partial:     report.Partial(),
		GeneratedAt: report.GeneratedAt,
	}
	state.Status = RunStatusComplete
	state.StatusReason = ""
	if report.Partial() {
		state.StatusReason = fmt.Sprintf("continued with %d of %d splits", report.Complete, len(report.Splits))
	}
	state.UpdatedAt = e.now()
	if err := repo.Save(state); err != nil {
		return State{}, err
	}
	book.Record(logbook.LevelInfo, "continued", map[string]string{
		"complete": fmt.Sprint(report.Complete),
		"missing":  fmt.Sprint(report.Missing),
	})
	return state, nil
}

// abort persists the failure and hands the original error back.
func (e *Engine) abort(repo *Repository, book *logbook.Logbook, state State, cause error) (State, error) {
	state.fail(cause, e.now())
	book.Error("%v", cause)
	if err := repo.Save(state); err != nil {
		e.logger.Warn("persist failed run state", zap.Error(err))
	}
	return state, cause
}

func (e *Engine) workers(def workflow.Definition) int {
	if def.Runtime.MaxParallel > 0 {
		return def.Runtime.MaxParallel
	}
	return e.maxParallel
}

func (e *Engine) now() time.Time {
	if e.clock == nil {
		return time.Now()
	}
	return e.clock()
}

func generateRunID(workflowID string, now time.Time) string {
	return fmt.Sprintf("%s-%s-%s", slug(workflowID), now.UTC().Format("20060102T150405"), uuid.NewString()[:8])
}

// slug keeps letters, digits, dashes and underscores so the value is safe in
// directory names and #SBATCH lines.
func slug(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, s)
}
