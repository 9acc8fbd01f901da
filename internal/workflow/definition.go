package workflow

import (
	"fmt"

	"github.com/kingrea/splitflow/internal/control"
	"github.com/kingrea/splitflow/internal/params"
)

// Default engines used when a definition leaves a stage empty.
const (
	DefaultSplitting     = "none"
	DefaultPreprocessing = "passthrough"
	DefaultExecution     = "sequential"
	DefaultEvaluation    = "group_rates"
)

// StageRef selects the engine for one category and its user parameters.
type StageRef struct {
	Engine string     `json:"engine" yaml:"engine"`
	Params params.Set `json:"params,omitempty" yaml:"params,omitempty"`
}

// Clone returns a copy of the reference with its own params map.
func (ref StageRef) Clone() StageRef {
	return StageRef{Engine: ref.Engine, Params: ref.Params.Clone()}
}

// Definition declares a pipeline: the dataset, the variables of interest and
// one engine per category.
type Definition struct {
	ID            string            `json:"id" yaml:"id"`
	Name          string            `json:"name,omitempty" yaml:"name,omitempty"`
	Description   string            `json:"description,omitempty" yaml:"description,omitempty"`
	Dataset       string            `json:"dataset" yaml:"dataset"`
	Vars          control.Vars      `json:"vars" yaml:"vars"`
	Splitting     StageRef          `json:"splitting,omitempty" yaml:"splitting,omitempty"`
	Preprocessing StageRef          `json:"preprocessing,omitempty" yaml:"preprocessing,omitempty"`
	Execution     StageRef          `json:"execution,omitempty" yaml:"execution,omitempty"`
	Evaluation    StageRef          `json:"evaluation,omitempty" yaml:"evaluation,omitempty"`
	Runtime       RuntimeConfig     `json:"runtime,omitempty" yaml:"runtime,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Clone returns a deep copy of the definition.
func (def Definition) Clone() Definition {
	clone := def
	clone.Vars = control.Vars{
		Target:          def.Vars.Target,
		Protected:       cloneStringSlice(def.Vars.Protected),
		Features:        cloneStringSlice(def.Vars.Features),
		ProtectedBinary: cloneStringSlice(def.Vars.ProtectedBinary),
	}
	clone.Splitting = def.Splitting.Clone()
	clone.Preprocessing = def.Preprocessing.Clone()
	clone.Execution = def.Execution.Clone()
	clone.Evaluation = def.Evaluation.Clone()
	clone.Metadata = cloneStringMap(def.Metadata)
	return clone
}

// Validate ensures the definition is self-consistent.
func (def Definition) Validate() error {
	if def.ID == "" {
		return fmt.Errorf("workflow: id is required")
	}
	if def.Dataset == "" {
		return fmt.Errorf("workflow %s: dataset is required", def.ID)
	}
	for _, stage := range def.Stages() {
		if stage.Ref.Engine == "" {
			return fmt.Errorf("workflow %s: %s engine is required", def.ID, stage.Category)
		}
	}
	if err := def.Runtime.validate(); err != nil {
		return fmt.Errorf("workflow %s runtime: %w", def.ID, err)
	}
	return nil
}

// Normalized clones the definition, fills default engines, and validates the
// result.
func (def Definition) Normalized() (Definition, error) {
	clone := def.Clone()
	if clone.Name == "" {
		clone.Name = clone.ID
	}
	fill := func(ref *StageRef, engine string) {
		if ref.Engine == "" {
			ref.Engine = engine
		}
	}
	fill(&clone.Splitting, DefaultSplitting)
	fill(&clone.Preprocessing, DefaultPreprocessing)
	fill(&clone.Execution, DefaultExecution)
	fill(&clone.Evaluation, DefaultEvaluation)
	clone.Runtime = clone.Runtime.normalized()
	if err := clone.Validate(); err != nil {
		return Definition{}, err
	}
	return clone, nil
}

// Stage pairs a category with its engine selection.
type Stage struct {
	Category control.Category
	Ref      StageRef
}

// Stages returns the four stage selections in pipeline order.
func (def Definition) Stages() []Stage {
	return []Stage{
		{control.CategorySplitting, def.Splitting},
		{control.CategoryPreprocessing, def.Preprocessing},
		{control.CategoryExecution, def.Execution},
		{control.CategoryEvaluation, def.Evaluation},
	}
}

// Params returns the user parameters in Control Object form.
func (def Definition) Params() control.Params {
	out := control.Params{}
	for _, stage := range def.Stages() {
		if len(stage.Ref.Params) == 0 {
			continue
		}
		out[stage.Category] = map[string]params.Set{stage.Ref.Engine: stage.Ref.Params.Clone()}
	}
	return out
}

// RuntimeConfig configures execution constraints for a pipeline.
type RuntimeConfig struct {
	MaxParallel int `json:"max_parallel,omitempty" yaml:"max_parallel,omitempty"`
}

func (cfg RuntimeConfig) normalized() RuntimeConfig {
	if cfg.MaxParallel < 0 {
		cfg.MaxParallel = 0
	}
	return cfg
}

func (cfg RuntimeConfig) validate() error {
	if cfg.MaxParallel < 0 {
		return fmt.Errorf("max_parallel must be >= 0")
	}
	return nil
}

func cloneStringSlice(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	clone := make([]string, len(values))
	copy(clone, values)
	return clone
}

func cloneStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	clone := make(map[string]string, len(values))
	for key, value := range values {
		clone[key] = value
	}
	return clone
}
