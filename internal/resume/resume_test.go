package resume

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kingrea/splitflow/internal/control"
	"github.com/kingrea/splitflow/internal/errs"
	"github.com/kingrea/splitflow/internal/resultstore"
	"github.com/kingrea/splitflow/internal/resultstore/fs"
	"github.com/kingrea/splitflow/internal/resultstore/inmem"
	"github.com/kingrea/splitflow/internal/resultstore/sqlite"
	"github.com/kingrea/splitflow/internal/snapshot"
	"github.com/kingrea/splitflow/internal/split"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// harness persists a control snapshot and a split map with the given ids.
func harness(t *testing.T, ids ...string) (snapshot.Files, string) {
	t.Helper()
	dir := t.TempDir()
	data := &control.Dataset{Columns: []string{"y", "g"}, Rows: [][]any{{1.0, "a"}, {0.0, "b"}}}
	ctl, err := control.New(control.Vars{Target: "y", Protected: []string{"g"}}, data, nil)
	require.NoError(t, err)
	m := &split.Map{}
	for _, id := range ids {
		require.NoError(t, m.Add(id, split.Payload{Descriptor: map[string]any{"id": id}}))
	}
	files := snapshot.Files{
		ControlPath: filepath.Join(dir, "control.json"),
		SplitsPath:  filepath.Join(dir, "splits.json"),
	}
	require.NoError(t, files.Write(ctl, m))
	return files, filepath.Join(dir, "results")
}

func put(t *testing.T, store resultstore.Writer, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, store.Put(context.Background(), id, []byte("R"+id)))
	}
}

func TestScenarioPartialResults(t *testing.T) {
	files, resultsDir := harness(t, "1", "2", "3")
	store, err := fs.New(resultsDir)
	require.NoError(t, err)
	put(t, store, "1", "3")

	outcome, err := New(files, store).Reconstruct(context.Background(), Request{})
	require.NoError(t, err)
	require.Equal(t, map[string][]byte{"1": []byte("R1"), "3": []byte("R3")}, outcome.Object.WorkflowResults)
	require.Len(t, outcome.Warnings, 1)
	require.Equal(t, Warning{Kind: MissingResult, SplitID: "2", Message: "no result found"}, outcome.Warnings[0])
	require.NoError(t, outcome.Object.Validate())
	require.False(t, outcome.Object.Complete())
	require.Equal(t, []string{"2"}, outcome.Object.MissingIDs())
	require.Empty(t, outcome.Object.Metadata)
	require.NotNil(t, outcome.Object.Metadata)
}

func TestPartialToleranceAcrossStores(t *testing.T) {
	backends := map[string]func(t *testing.T, dir string) resultstore.Store{
		"fs": func(t *testing.T, dir string) resultstore.Store {
			s, err := fs.New(dir)
			require.NoError(t, err)
			return s
		},
		"inmem": func(*testing.T, string) resultstore.Store { return inmem.New() },
		"sqlite": func(t *testing.T, dir string) resultstore.Store {
			s, err := sqlite.Open(filepath.Join(dir, "results.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
	const n = 6
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprint(i + 1)
	}
	for name, open := range backends {
		for k := 0; k <= n; k++ {
			t.Run(fmt.Sprintf("%s/k=%d", name, k), func(t *testing.T) {
				files, dir := harness(t, ids...)
				store := open(t, dir)
				put(t, store, ids[:k]...)

				outcome, err := New(files, store).Reconstruct(context.Background(), Request{})
				require.NoError(t, err)
				require.Len(t, outcome.Object.WorkflowResults, k)
				require.Equal(t, n-k, outcome.Count(MissingResult))
				require.Equal(t, n-k, len(outcome.Warnings))
				for id := range outcome.Object.WorkflowResults {
					require.True(t, outcome.Object.SplitOutput.Has(id))
				}
			})
		}
	}
}

func TestReconstructIsIdempotent(t *testing.T) {
	files, dir := harness(t, "1", "2", "3")
	store, err := fs.New(dir)
	require.NoError(t, err)
	put(t, store, "2")
	r := New(files, store, WithClock(func() time.Time { return fixedNow }))
	req := Request{Engine: "array_job", Metadata: map[string]string{"run": "r1"}}

	first, err := r.Reconstruct(context.Background(), req)
	require.NoError(t, err)
	second, err := r.Reconstruct(context.Background(), req)
	require.NoError(t, err)

	opts := cmp.Options{
		cmp.AllowUnexported(split.Map{}),
		cmpopts.IgnoreFields(Warning{}, "Err"),
	}
	if diff := cmp.Diff(first, second, opts); diff != "" {
		t.Fatalf("reconstruction not idempotent (-first +second):\n%s", diff)
	}
	require.Equal(t, map[string]string{
		MetaEngine:    "array_job",
		MetaTimestamp: "2026-03-01T12:00:00Z",
		"run":         "r1",
	}, first.Object.Metadata)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "reconstruction must not create or remove result files")
}

func TestMissingSnapshotsAreFatal(t *testing.T) {
	files, dir := harness(t, "1")
	store, err := fs.New(dir)
	require.NoError(t, err)
	require.NoError(t, os.Remove(files.SplitsPath))

	_, err = New(files, store).Reconstruct(context.Background(), Request{})
	require.True(t, errors.Is(err, errs.ErrLoad), "got %v", err)

	require.NoError(t, os.WriteFile(files.ControlPath, []byte("garbage"), 0o644))
	_, err = New(files, store).Reconstruct(context.Background(), Request{})
	require.ErrorIs(t, err, errs.ErrLoad)
}

func TestOrphanResultsAreReportedNotLoaded(t *testing.T) {
	files, _ := harness(t, "1", "2")
	store := inmem.New()
	put(t, store, "1", "2", "99")

	outcome, err := New(files, store).Reconstruct(context.Background(), Request{})
	require.NoError(t, err)
	require.Len(t, outcome.Object.WorkflowResults, 2)
	require.True(t, outcome.Object.Complete())
	require.Equal(t, 1, outcome.Count(OrphanResult))
	require.Equal(t, "99", outcome.Warnings[0].SplitID)
}

type flakyStore struct {
	*inmem.Store
	broken string
}

func (f flakyStore) Get(ctx context.Context, id string) ([]byte, bool, error) {
	if id == f.broken {
		return nil, false, errors.New("permission denied")
	}
	return f.Store.Get(ctx, id)
}

func (f flakyStore) ListIDs(context.Context) ([]string, error) {
	return nil, errors.New("listing unsupported")
}

func TestUnreadableResultIsWarning(t *testing.T) {
	files, _ := harness(t, "1", "2")
	store := flakyStore{Store: inmem.New(), broken: "2"}
	put(t, store, "1", "2")

	outcome, err := New(files, store).Reconstruct(context.Background(), Request{})
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, sortedKeys(outcome.Object.WorkflowResults))
	require.Equal(t, 1, outcome.Count(UnreadableResult))
	require.Len(t, outcome.Warnings, 1)
}

func TestObjectValidate(t *testing.T) {
	files, _ := harness(t, "1", "2")
	ctl, err := files.LoadControl(context.Background())
	require.NoError(t, err)
	m, err := files.LoadSplits(context.Background())
	require.NoError(t, err)

	valid := &Object{Control: ctl, SplitOutput: m, WorkflowResults: map[string][]byte{"1": nil}, Metadata: map[string]string{}}
	require.NoError(t, valid.Validate())

	cases := []struct {
		name string
		obj  *Object
	}{
		{"nil", nil},
		{"no control", &Object{SplitOutput: m, WorkflowResults: map[string][]byte{}, Metadata: map[string]string{}}},
		{"no splits", &Object{Control: ctl, WorkflowResults: map[string][]byte{}, Metadata: map[string]string{}}},
		{"nil results", &Object{Control: ctl, SplitOutput: m, Metadata: map[string]string{}}},
		{"nil metadata", &Object{Control: ctl, SplitOutput: m, WorkflowResults: map[string][]byte{}}},
		{"stray key", &Object{Control: ctl, SplitOutput: m, WorkflowResults: map[string][]byte{"7": nil}, Metadata: map[string]string{}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, tc.obj.Validate(), errs.ErrValidation)
		})
	}
}

func TestCancelledContextStopsReconstruction(t *testing.T) {
	files, _ := harness(t, "1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(files, inmem.New()).Reconstruct(ctx, Request{})
	require.ErrorIs(t, err, context.Canceled)
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
