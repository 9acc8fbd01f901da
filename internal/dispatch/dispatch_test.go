package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kingrea/splitflow/internal/control"
	"github.com/kingrea/splitflow/internal/errs"
	"github.com/kingrea/splitflow/internal/resultstore/inmem"
	"github.com/kingrea/splitflow/internal/snapshot"
	"github.com/kingrea/splitflow/internal/split"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newJob(t *testing.T, ids ...string) Job {
	t.Helper()
	dir := t.TempDir()
	data := &control.Dataset{Columns: []string{"y"}, Rows: [][]any{{1.0}, {0.0}, {1.0}}}
	ctl, err := control.New(control.Vars{Target: "y"}, data, nil)
	require.NoError(t, err)
	m := &split.Map{}
	for i, id := range ids {
		require.NoError(t, m.Add(id, split.Payload{Rows: []int{i % 3}}))
	}
	files := snapshot.Files{
		ControlPath: filepath.Join(dir, "control.json"),
		SplitsPath:  filepath.Join(dir, "splits.json"),
	}
	require.NoError(t, files.Write(ctl, m))
	return Job{RunID: "run-1", Dir: dir, Snapshots: files, Splits: m, Results: inmem.New()}
}

func echoBody(_ context.Context, _ *control.Object, id string, payload split.Payload) ([]byte, error) {
	return []byte(fmt.Sprintf("%s:%v", id, payload.Rows)), nil
}

func TestLocalWritesOneResultPerSplit(t *testing.T) {
	job := newJob(t, "1", "2", "3")
	var calls atomic.Int32
	local := &Local{MaxParallel: 2, Body: func(ctx context.Context, ctl *control.Object, id string, p split.Payload) ([]byte, error) {
		calls.Add(1)
		return echoBody(ctx, ctl, id, p)
	}}

	receipt, err := local.Dispatch(context.Background(), job)
	require.NoError(t, err)
	require.True(t, receipt.Succeeded())
	require.Equal(t, []string{"1", "2", "3"}, receipt.Dispatched)
	require.EqualValues(t, 3, calls.Load())

	ids, err := job.Results.ListIDs(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"1", "2", "3"}, ids)
	got, ok, err := job.Results.Get(context.Background(), "2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2:[1]", string(got))
}

func TestLocalRecordsFailuresWithoutStopping(t *testing.T) {
	job := newJob(t, "1", "2", "3")
	local := &Local{MaxParallel: 3, Body: func(ctx context.Context, ctl *control.Object, id string, p split.Payload) ([]byte, error) {
		if id == "2" {
			return nil, errors.New("boom")
		}
		return echoBody(ctx, ctl, id, p)
	}}

	receipt, err := local.Dispatch(context.Background(), job)
	require.NoError(t, err)
	require.False(t, receipt.Succeeded())
	require.Contains(t, receipt.Failed["2"], "boom")
	ids, err := job.Results.ListIDs(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"1", "3"}, ids)
}

func TestLocalRejectsEmptySplitMap(t *testing.T) {
	job := newJob(t, "1")
	job.Splits = &split.Map{}
	_, err := (&Local{Body: echoBody}).Dispatch(context.Background(), job)
	require.ErrorIs(t, err, errs.ErrConfig)
}

func TestRunnerRunIndexUsesMapOrder(t *testing.T) {
	job := newJob(t, "west", "east")
	store := inmem.New()
	runner := &Runner{Source: job.Snapshots, Results: store, Body: echoBody}

	require.NoError(t, runner.RunIndex(context.Background(), 2))
	ids, err := store.ListIDs(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"east"}, ids)

	require.Error(t, runner.RunIndex(context.Background(), 3))
	require.ErrorIs(t, runner.RunSplit(context.Background(), "north"), errs.ErrConfig)
}

func TestRunnerMissingSnapshotIsLoadError(t *testing.T) {
	dir := t.TempDir()
	runner := &Runner{
		Source:  snapshot.Files{ControlPath: filepath.Join(dir, "c.json"), SplitsPath: filepath.Join(dir, "s.json")},
		Results: inmem.New(),
		Body:    echoBody,
	}
	require.ErrorIs(t, runner.RunSplit(context.Background(), "1"), errs.ErrLoad)
}

func TestArrayJobScriptHasOneTaskPerSplit(t *testing.T) {
	job := newJob(t, "1", "2", "3")
	aj := &ArrayJob{Options: ArrayJobOptions{
		Executable:    "/opt/split flow/bin",
		WorkDir:       "/srv/project",
		Partition:     "short",
		MaxConcurrent: 2,
		Directives:    []string{"--mem=2G"},
	}}

	receipt, err := aj.Dispatch(context.Background(), job)
	require.NoError(t, err)
	require.True(t, receipt.Deferred)
	require.False(t, receipt.Succeeded())
	require.Equal(t, filepath.Join(job.Dir, "submit.sh"), receipt.Script)

	data, err := os.ReadFile(receipt.Script)
	require.NoError(t, err)
	script := string(data)
	require.Contains(t, script, "#SBATCH --array=1-3%2\n")
	require.Contains(t, script, "#SBATCH --partition=short\n")
	require.Contains(t, script, "#SBATCH --mem=2G\n")
	require.Contains(t, script, "cd /srv/project\n")
	require.Contains(t, script, `exec '/opt/split flow/bin' split-run --run run-1 --index "${SLURM_ARRAY_TASK_ID}"`)
	require.NotContains(t, script, "--time")
	require.Equal(t, 3, strings.Count(script, "# task "))

	ids, err := job.Results.ListIDs(context.Background())
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestArrayJobRejectsWhitespaceInDirectives(t *testing.T) {
	cases := map[string]func(*Job, *ArrayJobOptions){
		"run dir":   func(j *Job, _ *ArrayJobOptions) { j.Dir = filepath.Join(j.Dir, "my runs") },
		"job name":  func(_ *Job, o *ArrayJobOptions) { o.JobName = "fair lending" },
		"partition": func(_ *Job, o *ArrayJobOptions) { o.Partition = "short\n#SBATCH --x" },
		"directive": func(_ *Job, o *ArrayJobOptions) { o.Directives = []string{"--mem=2G\nrm -rf /"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			job := newJob(t, "1", "2")
			opts := ArrayJobOptions{}
			mutate(&job, &opts)
			aj := &ArrayJob{Options: opts}
			_, err := aj.Render(job)
			require.ErrorIs(t, err, errs.ErrConfig)
		})
	}
}

func TestArrayJobSubmitCapturesOutput(t *testing.T) {
	job := newJob(t, "1")
	aj := &ArrayJob{Options: ArrayJobOptions{Submit: []string{"echo", "Submitted batch job"}}}

	receipt, err := aj.Dispatch(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, "Submitted batch job "+receipt.Script, receipt.Output)
}

func TestShellQuote(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", "''"},
		{"plain-value_1", "plain-value_1"},
		{"has space", "'has space'"},
		{"it's", `'it'"'"'s'`},
	}
	for _, tc := range cases {
		if got := shellQuote(tc.in); got != tc.want {
			t.Fatalf("shellQuote(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
