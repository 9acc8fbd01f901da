package control

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// Dataset is a small column-ordered table. Rows hold decoded cell values
// (float64, string, bool or nil) in Columns order.
type Dataset struct {
	Columns []string `json:"columns" yaml:"columns"`
	Rows    [][]any  `json:"rows" yaml:"rows"`
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// ColumnIndex returns the position of name or -1.
func (d *Dataset) ColumnIndex(name string) int {
	if d == nil {
		return -1
	}
	for i, col := range d.Columns {
		if col == name {
			return i
		}
	}
	return -1
}

// HasColumn reports whether name is a column.
func (d *Dataset) HasColumn(name string) bool {
	return d.ColumnIndex(name) >= 0
}

// Column returns a copy of the values stored under name.
func (d *Dataset) Column(name string) ([]any, error) {
	idx := d.ColumnIndex(name)
	if idx < 0 {
		return nil, fmt.Errorf("dataset: unknown column %q", name)
	}
	out := make([]any, len(d.Rows))
	for i, row := range d.Rows {
		if idx < len(row) {
			out[i] = row[idx]
		}
	}
	return out, nil
}

// Subset returns a new dataset holding the given rows in the given order.
func (d *Dataset) Subset(rows []int) (*Dataset, error) {
	out := &Dataset{Columns: append([]string(nil), d.Columns...), Rows: make([][]any, 0, len(rows))}
	for _, idx := range rows {
		if idx < 0 || idx >= len(d.Rows) {
			return nil, fmt.Errorf("dataset: row %d out of range [0,%d)", idx, len(d.Rows))
		}
		out.Rows = append(out.Rows, append([]any(nil), d.Rows[idx]...))
	}
	return out, nil
}

// DropColumns returns a copy without the named columns. Unknown names are ignored.
func (d *Dataset) DropColumns(names ...string) *Dataset {
	drop := make(map[string]struct{}, len(names))
	for _, name := range names {
		drop[name] = struct{}{}
	}
	var keep []int
	out := &Dataset{}
	for i, col := range d.Columns {
		if _, skip := drop[col]; skip {
			continue
		}
		keep = append(keep, i)
		out.Columns = append(out.Columns, col)
	}
	out.Rows = make([][]any, len(d.Rows))
	for r, row := range d.Rows {
		projected := make([]any, len(keep))
		for j, idx := range keep {
			if idx < len(row) {
				projected[j] = row[idx]
			}
		}
		out.Rows[r] = projected
	}
	return out
}

// LoadCSV reads a dataset with a header row from path.
func LoadCSV(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open %s: %w", path, err)
	}
	defer f.Close()
	ds, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("dataset: %s: %w", path, err)
	}
	return ds, nil
}

// ReadCSV decodes a CSV stream. Numeric and boolean cells are converted;
// empty cells become nil.
func ReadCSV(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	ds := &Dataset{Columns: make([]string, len(header))}
	for i, name := range header {
		ds.Columns[i] = strings.TrimSpace(name)
	}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(ds.Rows)+1, err)
		}
		row := make([]any, len(record))
		for i, cell := range record {
			row[i] = parseCell(cell)
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}

func parseCell(cell string) any {
	trimmed := strings.TrimSpace(cell)
	if trimmed == "" {
		return nil
	}
	// NaN and Inf stay as text; JSON snapshots cannot carry them.
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	if b, err := strconv.ParseBool(trimmed); err == nil {
		return b
	}
	return trimmed
}
