package builtin

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kingrea/splitflow/internal/control"
	"github.com/kingrea/splitflow/internal/engines"
	"github.com/kingrea/splitflow/internal/errs"
	"github.com/kingrea/splitflow/internal/params"
	"github.com/kingrea/splitflow/internal/split"
)

// noneSplitter keeps the workload whole: one split covering every row.
type noneSplitter struct{}

func (noneSplitter) Info() engines.Info {
	return engines.Info{
		Name:        "none",
		Category:    control.CategorySplitting,
		Description: "Single split holding every row",
		Version:     version,
	}
}

func (noneSplitter) Split(ctx *engines.Context, _ params.Set) (*split.Map, error) {
	if ctx.Control == nil {
		return nil, errs.Config("split none", "control object is required")
	}
	rows := make([]int, ctx.Control.Data.Len())
	for i := range rows {
		rows[i] = i
	}
	return split.NewMap(split.Entry{ID: "1", Payload: split.Payload{Rows: rows}})
}

// chunkSplitter cuts rows into n contiguous blocks of near-equal size.
type chunkSplitter struct{}

func (chunkSplitter) Info() engines.Info {
	return engines.Info{
		Name:        "chunk",
		Category:    control.CategorySplitting,
		Description: "Contiguous row blocks",
		Version:     version,
		Defaults:    params.Set{"n": 2},
	}
}

func (chunkSplitter) Split(ctx *engines.Context, p params.Set) (*split.Map, error) {
	if ctx.Control == nil {
		return nil, errs.Config("split chunk", "control object is required")
	}
	n, err := p.Int("n", 2)
	if err != nil {
		return nil, errs.Config("split chunk", "parameter n: %v", err)
	}
	if n < 1 {
		return nil, errs.Config("split chunk", "parameter n must be at least 1, got %d", n)
	}
	total := ctx.Control.Data.Len()
	if n > total {
		n = total
	}
	m := &split.Map{}
	start := 0
	for i := 0; i < n; i++ {
		size := total / n
		if i < total%n {
			size++
		}
		rows := make([]int, size)
		for j := range rows {
			rows[j] = start + j
		}
		payload := split.Payload{
			Rows:       rows,
			Descriptor: map[string]any{"start": start, "end": start + size},
		}
		if err := m.Add(strconv.Itoa(i+1), payload); err != nil {
			return nil, err
		}
		start += size
	}
	return m, nil
}

// columnSplitter creates one split per distinct value of a column, in order
// of first appearance.
type columnSplitter struct{}

func (columnSplitter) Info() engines.Info {
	return engines.Info{
		Name:        "column",
		Category:    control.CategorySplitting,
		Description: "One split per distinct column value",
		Version:     version,
	}
}

func (columnSplitter) Split(ctx *engines.Context, p params.Set) (*split.Map, error) {
	if ctx.Control == nil {
		return nil, errs.Config("split column", "control object is required")
	}
	fallback := ""
	if len(ctx.Control.Vars.Protected) > 0 {
		fallback = ctx.Control.Vars.Protected[0]
	}
	column := p.String("column", fallback)
	if column == "" {
		return nil, errs.Config("split column", "parameter column is required when no protected variable is set")
	}
	values, err := ctx.Control.Data.Column(column)
	if err != nil {
		return nil, errs.Config("split column", "%v", err)
	}
	var order []string
	groups := map[string][]int{}
	for row, value := range values {
		key := formatValue(value)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], row)
	}
	m := &split.Map{}
	used := map[string]bool{}
	for i, key := range order {
		id := columnSplitID(key, i+1, used)
		used[id] = true
		payload := split.Payload{
			Rows:       groups[key],
			Descriptor: map[string]any{"column": column, "value": key},
		}
		if err := m.Add(id, payload); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// columnSplitID turns a grouping value into an addressable split id. Path
// separators become dashes and surrounding whitespace is dropped; values that
// are still unusable or collide fall back to their first-seen position.
func columnSplitID(value string, position int, used map[string]bool) string {
	id := strings.TrimSpace(strings.NewReplacer("/", "-", `\`, "-").Replace(value))
	if split.ValidateID(id) == nil && !used[id] {
		return id
	}
	id = strconv.Itoa(position)
	for n := 1; used[id]; n++ {
		id = fmt.Sprintf("%d-%d", position, n)
	}
	return id
}
