package dispatch

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Local runs splits in-process with bounded parallelism. A failing split is
// recorded on the receipt and never stops the others.
type Local struct {
	Body        Body
	MaxParallel int
	Logger      *zap.Logger
}

var _ Dispatcher = (*Local)(nil)

// Dispatch runs every split and waits for all of them.
func (l *Local) Dispatch(ctx context.Context, job Job) (Receipt, error) {
	if err := job.Validate(); err != nil {
		return Receipt{}, err
	}
	runner := &Runner{Source: job.Snapshots, Results: job.Results, Body: l.Body, Logger: l.Logger}
	limit := l.MaxParallel
	if limit < 1 {
		limit = 1
	}
	receipt := Receipt{Backend: "local", Dispatched: job.Splits.IDs()}

	var (
		mu     sync.Mutex
		failed = map[string]string{}
		group  errgroup.Group
	)
	group.SetLimit(limit)
	for _, id := range receipt.Dispatched {
		id := id
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				mu.Lock()
				failed[id] = err.Error()
				mu.Unlock()
				return nil
			}
			if err := runner.RunSplit(ctx, id); err != nil {
				mu.Lock()
				failed[id] = err.Error()
				mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()
	if len(failed) > 0 {
		receipt.Failed = failed
	}
	if err := ctx.Err(); err != nil {
		return receipt, err
	}
	return receipt, nil
}
