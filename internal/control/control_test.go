package control

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/kingrea/splitflow/internal/errs"
	"github.com/kingrea/splitflow/internal/params"
)

func sampleData() *Dataset {
	return &Dataset{
		Columns: []string{"outcome", "sex", "age", "sex_bin"},
		Rows: [][]any{
			{1.0, "f", 31.0, 1.0},
			{0.0, "m", 45.0, 0.0},
			{1.0, "m", 22.0, 0.0},
		},
	}
}

func TestNewValidatesVariablesAgainstColumns(t *testing.T) {
	vars := Vars{Target: "outcome", Protected: []string{"sex"}, Features: []string{"age"}, ProtectedBinary: []string{"sex_bin"}}
	if _, err := New(vars, sampleData(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	vars.Features = append(vars.Features, "income")
	_, err := New(vars, sampleData(), nil)
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "income") {
		t.Fatalf("error should name the missing column: %v", err)
	}
}

func TestValidateRejectsUnknownParamsCategory(t *testing.T) {
	obj := &Object{
		Vars:   Vars{Target: "outcome"},
		Data:   sampleData(),
		Params: Params{"training": {"glm": params.Set{"alpha": 1}}},
	}
	if err := obj.Validate(); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestParamsLookupReturnsCopy(t *testing.T) {
	p := Params{CategoryEvaluation: {"group_rates": params.Set{"positive": 1}}}
	got := p.Lookup(CategoryEvaluation, "group_rates")
	got["positive"] = 0
	if p[CategoryEvaluation]["group_rates"]["positive"] != 1 {
		t.Fatalf("lookup leaked a mutable reference")
	}
	if p.Lookup(CategoryExecution, "sequential") != nil {
		t.Fatalf("expected nil for missing engine params")
	}
}

func TestWithDataLeavesReceiverUntouched(t *testing.T) {
	obj, err := New(Vars{Target: "outcome"}, sampleData(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	subset, err := obj.Data.Subset([]int{2})
	if err != nil {
		t.Fatalf("subset: %v", err)
	}
	derived := obj.WithData(subset)
	if obj.Data.Len() != 3 || derived.Data.Len() != 1 {
		t.Fatalf("unexpected lengths: original=%d derived=%d", obj.Data.Len(), derived.Data.Len())
	}
}

func TestDatasetOperations(t *testing.T) {
	ds := sampleData()
	if _, err := ds.Subset([]int{5}); err == nil {
		t.Fatalf("expected out of range error")
	}
	dropped := ds.DropColumns("sex", "missing")
	if dropped.HasColumn("sex") || len(dropped.Columns) != 3 {
		t.Fatalf("unexpected columns after drop: %v", dropped.Columns)
	}
	if dropped.Rows[1][1] != 45.0 {
		t.Fatalf("expected age in projected row, got %v", dropped.Rows[1])
	}
	if !ds.HasColumn("sex") {
		t.Fatalf("drop must not mutate the source dataset")
	}
	col, err := ds.Column("sex")
	if err != nil || len(col) != 3 || col[0] != "f" {
		t.Fatalf("column = %v, %v", col, err)
	}
}

func TestReadCSVConvertsCells(t *testing.T) {
	ds, err := ReadCSV(strings.NewReader("outcome, sex, flag\n1,f,true\n0,m,\n"))
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if ds.Len() != 2 || ds.Columns[1] != "sex" {
		t.Fatalf("unexpected dataset: %+v", ds)
	}
	if ds.Rows[0][0] != 1.0 || ds.Rows[0][2] != true || ds.Rows[1][2] != nil {
		t.Fatalf("unexpected cell conversion: %+v", ds.Rows)
	}
}

func TestReadCSVKeepsNonFiniteNumbersAsText(t *testing.T) {
	ds, err := ReadCSV(strings.NewReader("score\nNaN\ninf\n-Infinity\n0.5\n"))
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	want := []any{"NaN", "inf", "-Infinity", 0.5}
	for i, cell := range want {
		if ds.Rows[i][0] != cell {
			t.Fatalf("row %d: got %#v, want %#v", i, ds.Rows[i][0], cell)
		}
	}
	if _, err := json.Marshal(ds); err != nil {
		t.Fatalf("dataset must stay encodable: %v", err)
	}
}
