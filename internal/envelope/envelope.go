// Package envelope defines the uniform result shape every stage engine
// returns. Each category is a distinct record type; optional fields are nil
// when absent and never appear in Fields() or the JSON encoding.
package envelope

import (
	"encoding/json"
	"sort"

	"github.com/kingrea/splitflow/internal/control"
	"github.com/kingrea/splitflow/internal/errs"
	"github.com/kingrea/splitflow/internal/params"
	"github.com/kingrea/splitflow/internal/split"
)

// Field keys accepted by Build and emitted by Fields.
const (
	KeyData            = "data"
	KeyMethod          = "method"
	KeyParams          = "params"
	KeyDiagnostics     = "diagnostics"
	KeyWorkflowResults = "workflow_results"
	KeyContinue        = "continue"
	KeyMetrics         = "metrics"
	KeyEvalType        = "eval_type"
	KeyProtected       = "protected"
)

// Envelope is implemented by *Preprocessing, *Execution and *Evaluation.
type Envelope interface {
	Category() control.Category
	Validate() error
	Fields() map[string]any
}

// Preprocessing is returned by pre-processing engines.
type Preprocessing struct {
	Data        *control.Dataset
	Method      string
	Params      params.Set
	Diagnostics map[string]any
}

// Category implements Envelope.
func (e *Preprocessing) Category() control.Category { return control.CategoryPreprocessing }

// Validate implements Envelope.
func (e *Preprocessing) Validate() error {
	if e == nil {
		return errs.Schema(opName(control.CategoryPreprocessing), "envelope is nil")
	}
	if e.Data == nil {
		return missing(control.CategoryPreprocessing, KeyData)
	}
	if e.Method == "" {
		return missing(control.CategoryPreprocessing, KeyMethod)
	}
	return nil
}

// Fields implements Envelope.
func (e *Preprocessing) Fields() map[string]any {
	out := map[string]any{KeyData: e.Data, KeyMethod: e.Method}
	addOptional(out, e.Params, e.Diagnostics)
	return out
}

// MarshalJSON encodes only the present fields.
func (e *Preprocessing) MarshalJSON() ([]byte, error) { return json.Marshal(e.Fields()) }

// Execution is returned by execution engines. Continue reports whether the
// workflow may proceed in-process; deferred executions hand off to resume.
type Execution struct {
	Method          string
	WorkflowResults map[string][]byte
	Continue        bool
	Params          params.Set
	Diagnostics     map[string]any
}

// Category implements Envelope.
func (e *Execution) Category() control.Category { return control.CategoryExecution }

// Validate implements Envelope.
func (e *Execution) Validate() error {
	if e == nil {
		return errs.Schema(opName(control.CategoryExecution), "envelope is nil")
	}
	if e.Method == "" {
		return missing(control.CategoryExecution, KeyMethod)
	}
	if e.WorkflowResults == nil {
		return missing(control.CategoryExecution, KeyWorkflowResults)
	}
	return nil
}

// CheckSplits verifies workflow result keys against the dispatched split map.
// A continuing execution must hold exactly one result per split; a deferred
// one may hold any subset.
func (e *Execution) CheckSplits(m *split.Map) error {
	op := opName(control.CategoryExecution)
	for _, id := range sortedKeys(e.WorkflowResults) {
		if !m.Has(id) {
			return errs.Schema(op, "workflow result %q is not a dispatched split", id)
		}
	}
	if !e.Continue {
		return nil
	}
	for _, id := range m.IDs() {
		if _, ok := e.WorkflowResults[id]; !ok {
			return errs.Schema(op, "workflow results missing split %q", id)
		}
	}
	return nil
}

// Fields implements Envelope.
func (e *Execution) Fields() map[string]any {
	out := map[string]any{
		KeyMethod:          e.Method,
		KeyWorkflowResults: e.WorkflowResults,
		KeyContinue:        e.Continue,
	}
	addOptional(out, e.Params, e.Diagnostics)
	return out
}

// MarshalJSON encodes only the present fields.
func (e *Execution) MarshalJSON() ([]byte, error) { return json.Marshal(e.Fields()) }

// Evaluation is returned by evaluation engines.
type Evaluation struct {
	Metrics     map[string]any
	EvalType    string
	Data        *control.Dataset
	Protected   []string
	Params      params.Set
	Diagnostics map[string]any
}

// Category implements Envelope.
func (e *Evaluation) Category() control.Category { return control.CategoryEvaluation }

// Validate implements Envelope.
func (e *Evaluation) Validate() error {
	if e == nil {
		return errs.Schema(opName(control.CategoryEvaluation), "envelope is nil")
	}
	if e.Metrics == nil {
		return missing(control.CategoryEvaluation, KeyMetrics)
	}
	if e.EvalType == "" {
		return missing(control.CategoryEvaluation, KeyEvalType)
	}
	if e.Data == nil {
		return missing(control.CategoryEvaluation, KeyData)
	}
	return nil
}

// Fields implements Envelope.
func (e *Evaluation) Fields() map[string]any {
	out := map[string]any{
		KeyMetrics:  e.Metrics,
		KeyEvalType: e.EvalType,
		KeyData:     e.Data,
	}
	if e.Protected != nil {
		out[KeyProtected] = e.Protected
	}
	addOptional(out, e.Params, e.Diagnostics)
	return out
}

// MarshalJSON encodes only the present fields.
func (e *Evaluation) MarshalJSON() ([]byte, error) { return json.Marshal(e.Fields()) }

func addOptional(out map[string]any, p params.Set, diagnostics map[string]any) {
	if p != nil {
		out[KeyParams] = p
	}
	if diagnostics != nil {
		out[KeyDiagnostics] = diagnostics
	}
}

func missing(category control.Category, key string) error {
	return errs.Schema(opName(category), "required field %q is missing", key)
}

func opName(category control.Category) string {
	return "envelope " + string(category)
}

func sortedKeys[V any](values map[string]V) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
