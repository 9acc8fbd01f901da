package engines

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kingrea/splitflow/internal/control"
	"github.com/kingrea/splitflow/internal/envelope"
	"github.com/kingrea/splitflow/internal/errs"
	"github.com/kingrea/splitflow/internal/params"
	"github.com/kingrea/splitflow/internal/split"
)

type stubSplitter struct {
	ids []string
}

func (s stubSplitter) Info() Info {
	return Info{Name: "stub", Category: control.CategorySplitting, Version: "0.1.0", Defaults: params.Set{"n": 1}}
}

func (s stubSplitter) Split(_ *Context, _ params.Set) (*split.Map, error) {
	m := &split.Map{}
	for _, id := range s.ids {
		if err := m.Add(id, split.Payload{}); err != nil {
			return nil, err
		}
	}
	return m, nil
}

type stubStage struct {
	category control.Category
	env      envelope.Envelope
	seen     *params.Set
}

func (s stubStage) Info() Info {
	return Info{Name: "stage", Category: s.category, Version: "0.1.0", Defaults: params.Set{"alpha": 1, "beta": 2}}
}

func (s stubStage) Run(_ *Context, p params.Set) (envelope.Envelope, error) {
	if s.seen != nil {
		*s.seen = p
	}
	return s.env, nil
}

func testControl(t *testing.T, p control.Params) *control.Object {
	t.Helper()
	ctl, err := control.New(control.Vars{Target: "y"}, &control.Dataset{Columns: []string{"y"}, Rows: [][]any{{1.0}}}, p)
	require.NoError(t, err)
	return ctl
}

func TestRegisterRejectsDuplicatesAndUnknownCategories(t *testing.T) {
	reg := NewRegistry()
	factory := func() (Engine, error) { return stubSplitter{}, nil }
	require.NoError(t, reg.Register(control.CategorySplitting, "stub", factory))
	require.Error(t, reg.Register(control.CategorySplitting, "stub", factory))
	require.Error(t, reg.Register(control.Category("reporting"), "x", factory))
	require.Error(t, reg.Register(control.CategorySplitting, "", factory))
	require.Equal(t, []string{"stub"}, reg.Names(control.CategorySplitting))
	require.Panics(t, func() { reg.MustRegister(control.CategorySplitting, "stub", factory) })
}

func TestResolveChecksReportedCategory(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(control.CategoryEvaluation, "stub", func() (Engine, error) { return stubSplitter{}, nil })
	_, err := reg.Resolve(control.CategoryEvaluation, "stub")
	require.Error(t, err)
	_, err = reg.Resolve(control.CategoryEvaluation, "missing")
	require.Error(t, err)
}

func TestRegistriesAreIndependent(t *testing.T) {
	first := NewRegistry()
	second := NewRegistry()
	first.MustRegister(control.CategorySplitting, "stub", func() (Engine, error) { return stubSplitter{}, nil })
	require.Empty(t, second.Names(control.CategorySplitting))
}

func TestSplitWorkloadRejectsEmptyMap(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(control.CategorySplitting, "stub", func() (Engine, error) { return stubSplitter{}, nil })
	_, err := SplitWorkload(reg, NewContext(context.Background(), testControl(t, nil), nil), "stub")
	require.True(t, errors.Is(err, errs.ErrConfig), "got %v", err)
}

func TestSplitWorkloadReturnsMap(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(control.CategorySplitting, "stub", func() (Engine, error) { return stubSplitter{ids: []string{"1", "2"}}, nil })
	m, err := SplitWorkload(reg, NewContext(context.Background(), testControl(t, nil), nil), "stub")
	require.NoError(t, err)
	require.Equal(t, []string{"1", "2"}, m.IDs())
}

func TestRunStageMergesUserParamsOverDefaults(t *testing.T) {
	var seen params.Set
	env := &envelope.Evaluation{Metrics: map[string]any{}, EvalType: "stub", Data: &control.Dataset{}}
	reg := NewRegistry()
	reg.MustRegister(control.CategoryEvaluation, "stage", func() (Engine, error) {
		return stubStage{category: control.CategoryEvaluation, env: env, seen: &seen}, nil
	})
	ctl := testControl(t, control.Params{
		control.CategoryEvaluation: {"stage": params.Set{"alpha": 5, "gamma": "x"}},
	})

	got, err := RunStage(reg, NewContext(context.Background(), ctl, nil), control.CategoryEvaluation, "stage")
	require.NoError(t, err)
	require.Same(t, env, got)
	require.Equal(t, params.Set{"alpha": 5, "beta": 2, "gamma": "x"}, seen)
}

func TestRunStageRejectsWrongCategoryAndInvalidEnvelope(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(control.CategoryEvaluation, "stage", func() (Engine, error) {
		return stubStage{category: control.CategoryEvaluation, env: &envelope.Preprocessing{Data: &control.Dataset{}, Method: "m"}}, nil
	})
	reg.MustRegister(control.CategoryPreprocessing, "stage", func() (Engine, error) {
		return stubStage{category: control.CategoryPreprocessing, env: &envelope.Preprocessing{}}, nil
	})
	ctx := NewContext(context.Background(), testControl(t, nil), nil)

	_, err := RunStage(reg, ctx, control.CategoryEvaluation, "stage")
	require.ErrorIs(t, err, errs.ErrSchema)
	_, err = RunStage(reg, ctx, control.CategoryPreprocessing, "stage")
	require.ErrorIs(t, err, errs.ErrSchema)
}

func TestContextCopiesAreIndependent(t *testing.T) {
	base := NewContext(nil, testControl(t, nil), nil)
	m, err := split.NewMap(split.Entry{ID: "1"})
	require.NoError(t, err)
	withSplits := base.WithSplits(m)
	require.Nil(t, base.Splits)
	require.Same(t, m, withSplits.Splits)
	require.NotNil(t, base.Ctx)
	require.NotNil(t, base.Logger)
}
