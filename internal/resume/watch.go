package resume

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// WatchOptions configures Watch.
type WatchOptions struct {
	// Dir is watched for result writes. When empty or missing only the
	// ticker drives reconstruction.
	Dir string
	// Interval is the fallback poll period. Defaults to five seconds.
	Interval time.Duration
	// Debounce batches bursts of filesystem events. Defaults to 200ms.
	Debounce time.Duration
	// OnUpdate observes every reconstruction, complete or not.
	OnUpdate func(Outcome)
}

func (o WatchOptions) withDefaults() WatchOptions {
	if o.Interval <= 0 {
		o.Interval = 5 * time.Second
	}
	if o.Debounce <= 0 {
		o.Debounce = 200 * time.Millisecond
	}
	return o
}

// Watch reconstructs repeatedly until every split has a result or ctx ends.
// It returns the last outcome in both cases; on cancellation the context
// error is returned with it. Fatal reconstruction errors stop the watch.
func (r *Reconstructor) Watch(ctx context.Context, req Request, opts WatchOptions) (Outcome, error) {
	opts = opts.withDefaults()

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	if opts.Dir != "" && dirExists(opts.Dir) {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return Outcome{}, err
		}
		defer watcher.Close()
		if err := watcher.Add(opts.Dir); err != nil {
			return Outcome{}, err
		}
		events = watcher.Events
		watchErrs = watcher.Errors
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()
	debounce := time.NewTimer(opts.Debounce)
	debounce.Stop()
	defer debounce.Stop()

	var (
		last Outcome
		done bool
		err  error
	)
	step := func() {
		next, complete, stepErr := r.watchStep(ctx, req, opts)
		if stepErr != nil {
			err = stepErr
			return
		}
		last, done = next, complete
	}
	step()
	for !done && err == nil {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(opts.Debounce)
		case werr, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			r.logger.Warn("result watcher error", zap.Error(werr))
		case <-debounce.C:
			step()
		case <-ticker.C:
			step()
		}
	}
	return last, err
}

func (r *Reconstructor) watchStep(ctx context.Context, req Request, opts WatchOptions) (Outcome, bool, error) {
	outcome, err := r.Reconstruct(ctx, req)
	if err != nil {
		return Outcome{}, false, err
	}
	if opts.OnUpdate != nil {
		opts.OnUpdate(outcome)
	}
	return outcome, outcome.Object.Complete(), nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
