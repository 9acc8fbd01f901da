package builtin

import (
	"github.com/kingrea/splitflow/internal/control"
	"github.com/kingrea/splitflow/internal/dispatch"
	"github.com/kingrea/splitflow/internal/engines"
	"github.com/kingrea/splitflow/internal/envelope"
	"github.com/kingrea/splitflow/internal/errs"
	"github.com/kingrea/splitflow/internal/params"
)

// localExecution runs every split in this process and collects the results
// straight away. It continues only when every split produced a result;
// otherwise the run is left for resume.
type localExecution struct {
	name       string
	sequential bool
}

func (e localExecution) Info() engines.Info {
	info := engines.Info{
		Name:        e.name,
		Category:    control.CategoryExecution,
		Description: "Runs splits in-process",
		Version:     version,
	}
	if !e.sequential {
		info.Description = "Runs splits in-process with bounded parallelism"
	}
	return info
}

func (e localExecution) Run(ctx *engines.Context, p params.Set) (envelope.Envelope, error) {
	if ctx.Body == nil {
		return nil, errs.Config("execution "+e.name, "no workflow body attached")
	}
	workers := 1
	if !e.sequential {
		n, err := p.Int("max_parallel", ctx.MaxParallel)
		if err != nil {
			return nil, errs.Config("execution "+e.name, "%v", err)
		}
		workers = n
	}
	local := &dispatch.Local{Body: ctx.Body, MaxParallel: workers, Logger: ctx.Logger}
	receipt, err := local.Dispatch(ctx.Ctx, ctx.Job)
	if err != nil {
		return nil, err
	}

	results := map[string][]byte{}
	for _, id := range receipt.Dispatched {
		payload, ok, err := ctx.Job.Results.Get(ctx.Ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			results[id] = payload
		}
	}
	diagnostics := map[string]any{"backend": receipt.Backend, "workers": workers}
	if len(receipt.Failed) > 0 {
		diagnostics["failed"] = receipt.Failed
	}
	env := &envelope.Execution{
		Method:          e.name,
		WorkflowResults: results,
		Continue:        receipt.Succeeded() && len(results) == len(receipt.Dispatched),
		Diagnostics:     diagnostics,
	}
	if len(p) > 0 {
		env.Params = p
	}
	return env, nil
}

// arrayJobExecution submits the splits to an array-job backend and defers.
type arrayJobExecution struct{}

func (arrayJobExecution) Info() engines.Info {
	return engines.Info{
		Name:        "array_job",
		Category:    control.CategoryExecution,
		Description: "Submits one array task per split and defers to resume",
		Version:     version,
	}
}

func (arrayJobExecution) Run(ctx *engines.Context, p params.Set) (envelope.Envelope, error) {
	opts := ctx.ArrayJob
	opts.Partition = p.String("partition", opts.Partition)
	opts.Time = p.String("time", opts.Time)
	opts.JobName = p.String("job_name", opts.JobName)
	if submit := p.Strings("submit"); submit != nil {
		opts.Submit = submit
	}
	concurrent, err := p.Int("max_concurrent", opts.MaxConcurrent)
	if err != nil {
		return nil, errs.Config("execution array_job", "%v", err)
	}
	opts.MaxConcurrent = concurrent

	aj := &dispatch.ArrayJob{Options: opts, Logger: ctx.Logger}
	receipt, err := aj.Dispatch(ctx.Ctx, ctx.Job)
	if err != nil {
		return nil, err
	}
	diagnostics := map[string]any{"backend": receipt.Backend, "script": receipt.Script, "tasks": len(receipt.Dispatched)}
	if receipt.Output != "" {
		diagnostics["submit_output"] = receipt.Output
	}
	env := &envelope.Execution{
		Method:          "array_job",
		WorkflowResults: map[string][]byte{},
		Continue:        false,
		Diagnostics:     diagnostics,
	}
	if len(p) > 0 {
		env.Params = p
	}
	return env, nil
}
