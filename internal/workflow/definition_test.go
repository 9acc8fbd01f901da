package workflow

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kingrea/splitflow/internal/control"
	"github.com/kingrea/splitflow/internal/params"
)

func TestParseDefinitionYAMLRejectsMissingDataset(t *testing.T) {
	const payload = `
id: missing-dataset
vars:
  target: approved
`
	_, err := ParseDefinitionYAML([]byte(payload))
	if err == nil {
		t.Fatalf("expected error when dataset is missing")
	}
	if !strings.Contains(err.Error(), "dataset is required") {
		t.Fatalf("unexpected error for missing dataset: %v", err)
	}
}

func TestParseDefinitionYAMLFillsDefaultEngines(t *testing.T) {
	const payload = `
id: defaults
dataset: data.csv
`
	def, err := ParseDefinitionYAML([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := []string{def.Splitting.Engine, def.Preprocessing.Engine, def.Execution.Engine, def.Evaluation.Engine}
	want := []string{DefaultSplitting, DefaultPreprocessing, DefaultExecution, DefaultEvaluation}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stage %d engine = %q, want %q", i, got[i], want[i])
		}
	}
	if def.Name != "defaults" {
		t.Fatalf("name should default to id, got %q", def.Name)
	}
}

func TestParseDefinitionYAMLClampsNegativeParallelSettings(t *testing.T) {
	const payload = `
id: clamp-runtime
dataset: data.csv
runtime:
  max_parallel: -4
`
	def, err := ParseDefinitionYAML([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected error parsing runtime clamp: %v", err)
	}
	if def.Runtime.MaxParallel != 0 {
		t.Fatalf("max_parallel should clamp to 0, got %d", def.Runtime.MaxParallel)
	}
}

func TestDefinitionParamsKeyedByCategoryAndEngine(t *testing.T) {
	const payload = `
id: params
dataset: data.csv
vars:
  target: approved
  protected: [region]
splitting:
  engine: chunk
  params:
    n: 4
execution:
  engine: array_job
`
	def, err := ParseDefinitionYAML([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := def.Params()
	if got := p.Lookup(control.CategorySplitting, "chunk"); got["n"] != 4 {
		t.Fatalf("expected chunk n=4, got %v", got)
	}
	if _, ok := p[control.CategoryExecution]; ok {
		t.Fatalf("stages without params should be omitted: %v", p)
	}
	if def.Vars.Protected[0] != "region" {
		t.Fatalf("vars not decoded: %+v", def.Vars)
	}
}

func TestCloneIsDeep(t *testing.T) {
	def := Definition{
		ID:        "x",
		Dataset:   "d.csv",
		Vars:      control.Vars{Protected: []string{"a"}},
		Splitting: StageRef{Engine: "chunk", Params: params.Set{"n": 2}},
	}
	clone := def.Clone()
	clone.Vars.Protected[0] = "b"
	clone.Splitting.Params["n"] = 3
	if def.Vars.Protected[0] != "a" || def.Splitting.Params["n"] != 2 {
		t.Fatalf("clone shares state with original: %+v", def)
	}
}

func TestLoadDefinitionFileResolvesDatasetRelativeToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	if err := os.WriteFile(path, []byte("id: rel\ndataset: data/loans.csv\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	def, err := LoadDefinitionFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if want := filepath.Join(dir, "data", "loans.csv"); def.Dataset != want {
		t.Fatalf("dataset = %q, want %q", def.Dataset, want)
	}

	out := filepath.Join(dir, "copy", "definition.yaml")
	if err := WriteDefinitionFile(out, def); err != nil {
		t.Fatalf("write definition: %v", err)
	}
	again, err := LoadDefinitionFile(out)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Dataset != def.Dataset {
		t.Fatalf("absolute dataset should survive round trip, got %q", again.Dataset)
	}
}
