package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/kingrea/splitflow/internal/control"
	"github.com/kingrea/splitflow/internal/errs"
	"github.com/kingrea/splitflow/internal/params"
)

var allowedKeys = map[control.Category]map[string]bool{
	control.CategoryPreprocessing: {KeyData: true, KeyMethod: true, KeyParams: true, KeyDiagnostics: true},
	control.CategoryExecution:     {KeyMethod: true, KeyWorkflowResults: true, KeyContinue: true, KeyParams: true, KeyDiagnostics: true},
	control.CategoryEvaluation:    {KeyMetrics: true, KeyEvalType: true, KeyData: true, KeyProtected: true, KeyParams: true, KeyDiagnostics: true},
}

// Build constructs and validates the envelope for category from a loosely
// shaped field mapping. Missing or mis-shaped required fields, unknown keys
// and unknown categories fail with an errs.ErrSchema error.
func Build(category control.Category, fields map[string]any) (Envelope, error) {
	allowed, ok := allowedKeys[category]
	if !ok {
		return nil, errs.Schema("envelope", "category %q has no envelope", category)
	}
	for _, key := range sortedKeys(fields) {
		if !allowed[key] {
			return nil, errs.Schema(opName(category), "unknown field %q", key)
		}
	}
	r := fieldReader{category: category, fields: fields}
	var env Envelope
	switch category {
	case control.CategoryPreprocessing:
		env = &Preprocessing{
			Data:        r.dataset(KeyData),
			Method:      r.text(KeyMethod),
			Params:      r.params(),
			Diagnostics: r.mapping(KeyDiagnostics),
		}
	case control.CategoryExecution:
		env = &Execution{
			Method:          r.text(KeyMethod),
			WorkflowResults: r.results(KeyWorkflowResults),
			Continue:        r.flag(KeyContinue),
			Params:          r.params(),
			Diagnostics:     r.mapping(KeyDiagnostics),
		}
	case control.CategoryEvaluation:
		env = &Evaluation{
			Metrics:     r.mapping(KeyMetrics),
			EvalType:    r.text(KeyEvalType),
			Data:        r.dataset(KeyData),
			Protected:   r.names(KeyProtected),
			Params:      r.params(),
			Diagnostics: r.mapping(KeyDiagnostics),
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// fieldReader converts loosely typed values, remembering the first shape error.
type fieldReader struct {
	category control.Category
	fields   map[string]any
	err      error
}

func (r *fieldReader) fail(key string, value any, want string) {
	if r.err == nil {
		r.err = errs.Schema(opName(r.category), "field %q must be %s, got %T", key, want, value)
	}
}

func (r *fieldReader) lookup(key string) (any, bool) {
	value, ok := r.fields[key]
	if !ok || value == nil {
		return nil, false
	}
	return value, true
}

func (r *fieldReader) text(key string) string {
	value, ok := r.lookup(key)
	if !ok {
		return ""
	}
	s, isString := value.(string)
	if !isString {
		r.fail(key, value, "a string")
	}
	return s
}

func (r *fieldReader) flag(key string) bool {
	value, ok := r.lookup(key)
	if !ok {
		if r.err == nil {
			r.err = missing(r.category, key)
		}
		return false
	}
	b, isBool := value.(bool)
	if !isBool {
		r.fail(key, value, "a boolean")
	}
	return b
}

func (r *fieldReader) dataset(key string) *control.Dataset {
	value, ok := r.lookup(key)
	if !ok {
		return nil
	}
	switch v := value.(type) {
	case *control.Dataset:
		return v
	case control.Dataset:
		return &v
	default:
		r.fail(key, value, "a dataset")
		return nil
	}
}

func (r *fieldReader) mapping(key string) map[string]any {
	value, ok := r.lookup(key)
	if !ok {
		return nil
	}
	switch v := value.(type) {
	case map[string]any:
		return v
	case params.Set:
		return map[string]any(v)
	case map[string]float64:
		out := make(map[string]any, len(v))
		for k, f := range v {
			out[k] = f
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(v))
		for k, s := range v {
			out[k] = s
		}
		return out
	default:
		r.fail(key, value, "a mapping")
		return nil
	}
}

func (r *fieldReader) params() params.Set {
	m := r.mapping(KeyParams)
	if m == nil {
		return nil
	}
	return params.Set(m)
}

func (r *fieldReader) results(key string) map[string][]byte {
	value, ok := r.lookup(key)
	if !ok {
		return nil
	}
	switch v := value.(type) {
	case map[string][]byte:
		return v
	case map[string]json.RawMessage:
		out := make(map[string][]byte, len(v))
		for id, raw := range v {
			out[id] = []byte(raw)
		}
		return out
	default:
		r.fail(key, value, "a mapping of split id to result")
		return nil
	}
}

func (r *fieldReader) names(key string) []string {
	value, ok := r.lookup(key)
	if !ok {
		return nil
	}
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, isString := item.(string)
			if !isString {
				r.fail(key, value, fmt.Sprintf("a list of names (item %v)", item))
				return nil
			}
			out = append(out, s)
		}
		return out
	default:
		r.fail(key, value, "a list of names")
		return nil
	}
}
