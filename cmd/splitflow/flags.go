package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kingrea/splitflow/internal/control"
	"github.com/kingrea/splitflow/internal/params"
	"github.com/kingrea/splitflow/internal/workflow"
)

// keyValueFlag collects repeatable --set category.param=value overrides.
type keyValueFlag map[string]string

func (kv *keyValueFlag) String() string {
	if kv == nil || len(*kv) == 0 {
		return ""
	}
	var pairs []string
	for key, value := range *kv {
		pairs = append(pairs, fmt.Sprintf("%s=%s", key, value))
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ", ")
}

func (kv *keyValueFlag) Set(value string) error {
	parts := strings.SplitN(value, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("expected key=value, got %q", value)
	}
	key := strings.TrimSpace(parts[0])
	if key == "" {
		return fmt.Errorf("override key is empty in %q", value)
	}
	if *kv == nil {
		*kv = keyValueFlag{}
	}
	(*kv)[key] = parts[1]
	return nil
}

func (kv *keyValueFlag) Type() string { return "key=value" }

// apply writes overrides into the definition's stage params. Keys take the
// form <category>.<param>, e.g. execution.max_parallel=8.
func (kv keyValueFlag) apply(def *workflow.Definition) error {
	keys := make([]string, 0, len(kv))
	for key := range kv {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		category, name, ok := strings.Cut(key, ".")
		if !ok || name == "" {
			return fmt.Errorf("override %q must look like <category>.<param>", key)
		}
		ref, err := stageRef(def, control.Category(category))
		if err != nil {
			return fmt.Errorf("override %q: %w", key, err)
		}
		if ref.Params == nil {
			ref.Params = params.Set{}
		}
		ref.Params[name] = kv[key]
	}
	return nil
}

func stageRef(def *workflow.Definition, category control.Category) (*workflow.StageRef, error) {
	switch category {
	case control.CategorySplitting:
		return &def.Splitting, nil
	case control.CategoryPreprocessing:
		return &def.Preprocessing, nil
	case control.CategoryExecution:
		return &def.Execution, nil
	case control.CategoryEvaluation:
		return &def.Evaluation, nil
	default:
		return nil, fmt.Errorf("unknown category %q", category)
	}
}
