// Package control defines the Control Object: the configuration and data
// bundle threaded read-only through every engine call and through resume.
package control

import (
	"github.com/kingrea/splitflow/internal/errs"
	"github.com/kingrea/splitflow/internal/params"
)

// Category enumerates engine categories.
type Category string

const (
	CategorySplitting     Category = "splitting"
	CategoryPreprocessing Category = "preprocessing"
	CategoryExecution     Category = "execution"
	CategoryEvaluation    Category = "evaluation"
)

// Categories lists every known category in pipeline order.
func Categories() []Category {
	return []Category{CategorySplitting, CategoryPreprocessing, CategoryExecution, CategoryEvaluation}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategorySplitting, CategoryPreprocessing, CategoryExecution, CategoryEvaluation:
		return true
	}
	return false
}

// Vars names the columns an analysis cares about.
type Vars struct {
	Target          string   `json:"target" yaml:"target"`
	Protected       []string `json:"protected,omitempty" yaml:"protected,omitempty"`
	Features        []string `json:"features,omitempty" yaml:"features,omitempty"`
	ProtectedBinary []string `json:"protected_binary,omitempty" yaml:"protected_binary,omitempty"`
}

// Names returns every non-empty variable name in declaration order.
func (v Vars) Names() []string {
	var names []string
	if v.Target != "" {
		names = append(names, v.Target)
	}
	for _, group := range [][]string{v.Protected, v.Features, v.ProtectedBinary} {
		for _, name := range group {
			if name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}

// Params maps category -> engine name -> parameter set.
type Params map[Category]map[string]params.Set

// Lookup returns the user parameters for an engine, or nil.
func (p Params) Lookup(category Category, engine string) params.Set {
	if p == nil {
		return nil
	}
	byName, ok := p[category]
	if !ok {
		return nil
	}
	return byName[engine].Clone()
}

// Object is the Control Object. Treat it as immutable once built: engines and
// the resume path share a single instance.
type Object struct {
	Vars   Vars     `json:"vars" yaml:"vars"`
	Data   *Dataset `json:"data" yaml:"data"`
	Params Params   `json:"params,omitempty" yaml:"params,omitempty"`
}

// New builds and validates a Control Object.
func New(vars Vars, data *Dataset, p Params) (*Object, error) {
	obj := &Object{Vars: vars, Data: data, Params: p}
	if err := obj.Validate(); err != nil {
		return nil, err
	}
	return obj, nil
}

// Validate checks that every variable in Vars is a column of Data.
func (o *Object) Validate() error {
	if o == nil {
		return errs.Validation("control", "control object is nil")
	}
	if o.Data == nil {
		return errs.Validation("control", "data is required")
	}
	for _, name := range o.Vars.Names() {
		if !o.Data.HasColumn(name) {
			return errs.Validation("control", "variable %q is not a column of data", name)
		}
	}
	for category := range o.Params {
		if !category.Valid() {
			return errs.Validation("control", "unknown params category %q", category)
		}
	}
	return nil
}

// WithData returns a shallow copy of the object carrying different data. The
// receiver is left untouched.
func (o *Object) WithData(data *Dataset) *Object {
	clone := *o
	clone.Data = data
	return &clone
}
