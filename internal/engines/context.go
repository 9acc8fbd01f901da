package engines

import (
	"context"

	"go.uber.org/zap"

	"github.com/kingrea/splitflow/internal/control"
	"github.com/kingrea/splitflow/internal/dispatch"
	"github.com/kingrea/splitflow/internal/split"
)

// Context carries shared runtime dependencies into every engine call. It is
// copied, never mutated, when a stage needs a narrower view.
type Context struct {
	Ctx     context.Context
	Control *control.Object
	Splits  *split.Map
	Logger  *zap.Logger

	// Execution engines dispatch Job. Local dispatchers run Body per split.
	Job         dispatch.Job
	Body        dispatch.Body
	MaxParallel int
	ArrayJob    dispatch.ArrayJobOptions
}

// NewContext builds a Context for one pipeline invocation.
func NewContext(ctx context.Context, ctl *control.Object, logger *zap.Logger) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Context{Ctx: ctx, Control: ctl, Logger: logger}
}

// WithControl returns a copy carrying a different control object, e.g. one
// restricted to a split's rows.
func (c *Context) WithControl(ctl *control.Object) *Context {
	clone := *c
	clone.Control = ctl
	return &clone
}

// WithSplits records the split map produced by the splitting stage.
func (c *Context) WithSplits(m *split.Map) *Context {
	clone := *c
	clone.Splits = m
	return &clone
}

// WithDispatch attaches what execution engines need to hand splits off.
func (c *Context) WithDispatch(job dispatch.Job, body dispatch.Body, maxParallel int, array dispatch.ArrayJobOptions) *Context {
	clone := *c
	clone.Job = job
	clone.Body = body
	clone.MaxParallel = maxParallel
	clone.ArrayJob = array
	return &clone
}
