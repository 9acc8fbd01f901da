// Package builtin provides the engines splitflow ships with. Register them on
// an engines.Registry with Register.
package builtin

import (
	"strconv"

	"github.com/kingrea/splitflow/internal/control"
	"github.com/kingrea/splitflow/internal/engines"
)

const version = "1.0.0"

// Register installs every built-in engine.
func Register(reg *engines.Registry) error {
	entries := []struct {
		category control.Category
		name     string
		factory  engines.Factory
	}{
		{control.CategorySplitting, "none", func() (engines.Engine, error) { return noneSplitter{}, nil }},
		{control.CategorySplitting, "chunk", func() (engines.Engine, error) { return chunkSplitter{}, nil }},
		{control.CategorySplitting, "column", func() (engines.Engine, error) { return columnSplitter{}, nil }},
		{control.CategoryPreprocessing, "passthrough", func() (engines.Engine, error) { return passthrough{}, nil }},
		{control.CategoryPreprocessing, "drop_columns", func() (engines.Engine, error) { return dropColumns{}, nil }},
		{control.CategoryExecution, "sequential", func() (engines.Engine, error) { return localExecution{name: "sequential", sequential: true}, nil }},
		{control.CategoryExecution, "parallel", func() (engines.Engine, error) { return localExecution{name: "parallel"}, nil }},
		{control.CategoryExecution, "array_job", func() (engines.Engine, error) { return arrayJobExecution{}, nil }},
		{control.CategoryEvaluation, "group_rates", func() (engines.Engine, error) { return groupRates{}, nil }},
	}
	for _, entry := range entries {
		if err := reg.Register(entry.category, entry.name, entry.factory); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding only the built-in engines.
func NewRegistry() *engines.Registry {
	reg := engines.NewRegistry()
	if err := Register(reg); err != nil {
		panic(err)
	}
	return reg
}

// formatValue renders a dataset cell the way it appears in ids and metric
// keys. Integral floats lose their fraction so 1.0 and 1 agree.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NA"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return "?"
	}
}
