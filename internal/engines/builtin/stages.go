package builtin

import (
	"sort"

	"github.com/kingrea/splitflow/internal/control"
	"github.com/kingrea/splitflow/internal/engines"
	"github.com/kingrea/splitflow/internal/envelope"
	"github.com/kingrea/splitflow/internal/errs"
	"github.com/kingrea/splitflow/internal/params"
)

type passthrough struct{}

func (passthrough) Info() engines.Info {
	return engines.Info{
		Name:        "passthrough",
		Category:    control.CategoryPreprocessing,
		Description: "Hands data on unchanged",
		Version:     version,
	}
}

func (passthrough) Run(ctx *engines.Context, p params.Set) (envelope.Envelope, error) {
	env := &envelope.Preprocessing{Data: ctx.Control.Data, Method: "passthrough"}
	if len(p) > 0 {
		env.Params = p
	}
	return env, nil
}

// dropColumns removes columns that no variable refers to.
type dropColumns struct{}

func (dropColumns) Info() engines.Info {
	return engines.Info{
		Name:        "drop_columns",
		Category:    control.CategoryPreprocessing,
		Description: "Removes the listed columns",
		Version:     version,
	}
}

func (dropColumns) Run(ctx *engines.Context, p params.Set) (envelope.Envelope, error) {
	columns := p.Strings("columns")
	used := map[string]bool{}
	for _, name := range ctx.Control.Vars.Names() {
		used[name] = true
	}
	dropped := 0
	for _, name := range columns {
		if used[name] {
			return nil, errs.Config("preprocessing drop_columns", "column %q is a declared variable", name)
		}
		if ctx.Control.Data.HasColumn(name) {
			dropped++
		}
	}
	env := &envelope.Preprocessing{
		Data:        ctx.Control.Data.DropColumns(columns...),
		Method:      "drop_columns",
		Diagnostics: map[string]any{"dropped": dropped},
	}
	if len(p) > 0 {
		env.Params = p
	}
	return env, nil
}

// groupRates reports the positive rate of a binary target per protected
// group, plus the largest gap between groups of each attribute.
type groupRates struct{}

func (groupRates) Info() engines.Info {
	return engines.Info{
		Name:        "group_rates",
		Category:    control.CategoryEvaluation,
		Description: "Positive rate per protected group",
		Version:     version,
		Defaults:    params.Set{"positive": "1"},
	}
}

func (groupRates) Run(ctx *engines.Context, p params.Set) (envelope.Envelope, error) {
	ctl := ctx.Control
	if ctl.Vars.Target == "" {
		return nil, errs.Config("evaluation group_rates", "a target variable is required")
	}
	protected := p.Strings("protected")
	if protected == nil {
		protected = append([]string(nil), ctl.Vars.Protected...)
	}
	positive := p.String("positive", "1")

	target, err := ctl.Data.Column(ctl.Vars.Target)
	if err != nil {
		return nil, errs.Config("evaluation group_rates", "%v", err)
	}
	hits := 0
	for _, value := range target {
		if formatValue(value) == positive {
			hits++
		}
	}
	metrics := map[string]any{"rows": len(target)}
	if len(target) > 0 {
		metrics["positive_rate"] = float64(hits) / float64(len(target))
	}

	for _, attr := range protected {
		values, err := ctl.Data.Column(attr)
		if err != nil {
			return nil, errs.Config("evaluation group_rates", "%v", err)
		}
		counts := map[string]int{}
		positives := map[string]int{}
		for i, value := range values {
			group := formatValue(value)
			counts[group]++
			if formatValue(target[i]) == positive {
				positives[group]++
			}
		}
		groups := make([]string, 0, len(counts))
		for group := range counts {
			groups = append(groups, group)
		}
		sort.Strings(groups)
		lo, hi := 1.0, 0.0
		for _, group := range groups {
			rate := float64(positives[group]) / float64(counts[group])
			metrics["rate:"+attr+"="+group] = rate
			lo = min(lo, rate)
			hi = max(hi, rate)
		}
		if len(groups) > 0 {
			metrics["gap:"+attr] = hi - lo
		}
	}

	env := &envelope.Evaluation{
		Metrics:  metrics,
		EvalType: "group_rates",
		Data:     ctl.Data,
		Params:   p,
	}
	if len(protected) > 0 {
		env.Protected = protected
	}
	return env, nil
}
