// Package continuation picks a workflow up after its splits have run, either
// directly from in-process results or from a reconstructed Resume Object.
package continuation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/kingrea/splitflow/internal/fsutil"
	"github.com/kingrea/splitflow/internal/resume"
)

// Continuation consumes a Resume Object. Ownership of obj passes to the
// continuation.
type Continuation interface {
	Continue(ctx context.Context, obj *resume.Object) (Report, error)
}

// SplitOutcome is the result body the pipeline writes for each split.
type SplitOutcome struct {
	SplitID       string         `json:"split_id"`
	Rows          int            `json:"rows"`
	Preprocessing string         `json:"preprocessing"`
	EvalType      string         `json:"eval_type"`
	Metrics       map[string]any `json:"metrics"`
	Diagnostics   map[string]any `json:"diagnostics,omitempty"`
}

// Encode serialises an outcome as a per-split result payload.
func (o SplitOutcome) Encode() ([]byte, error) {
	return json.Marshal(o)
}

// DecodeOutcome parses a per-split result payload.
func DecodeOutcome(payload []byte) (SplitOutcome, error) {
	var out SplitOutcome
	if err := json.Unmarshal(payload, &out); err != nil {
		return SplitOutcome{}, fmt.Errorf("continuation: decode split outcome: %w", err)
	}
	return out, nil
}

// Split status values used in reports.
const (
	StatusComplete    = "complete"
	StatusMissing     = "missing"
	StatusUndecodable = "undecodable"
)

// SplitReport is one line of a Report.
type SplitReport struct {
	ID      string        `json:"id"`
	Status  string        `json:"status"`
	Outcome *SplitOutcome `json:"outcome,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// Report summarises a continued workflow.
type Report struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Metadata    map[string]string  `json:"metadata"`
	Splits      []SplitReport      `json:"splits"`
	Complete    int                `json:"complete"`
	Missing     int                `json:"missing"`
	Aggregate   map[string]float64 `json:"aggregate"`
}

// Partial reports whether any split lacks a usable outcome.
func (r Report) Partial() bool {
	return r.Complete < len(r.Splits)
}

// Aggregator decodes every available split outcome and combines numeric
// metrics as a row-weighted mean.
type Aggregator struct {
	outputPath string
	now        func() time.Time
	logger     *zap.Logger
}

var _ Continuation = (*Aggregator)(nil)

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the report timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAggregator returns an aggregator that writes its report to outputPath
// when it is non-empty.
func NewAggregator(outputPath string, opts ...Option) *Aggregator {
	a := &Aggregator{outputPath: outputPath, now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Continue builds and persists the report.
func (a *Aggregator) Continue(ctx context.Context, obj *resume.Object) (Report, error) {
	if err := obj.Validate(); err != nil {
		return Report{}, err
	}
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	report := Report{
		GeneratedAt: a.now().UTC(),
		Metadata:    obj.Metadata,
		Aggregate:   map[string]float64{},
	}
	sums := map[string]float64{}
	weights := map[string]float64{}
	for _, id := range obj.SplitOutput.IDs() {
		payload, ok := obj.WorkflowResults[id]
		if !ok {
			report.Splits = append(report.Splits, SplitReport{ID: id, Status: StatusMissing})
			report.Missing++
			continue
		}
		outcome, err := DecodeOutcome(payload)
		if err != nil {
			a.logger.Warn("split outcome unreadable", zap.String("split", id), zap.Error(err))
			report.Splits = append(report.Splits, SplitReport{ID: id, Status: StatusUndecodable, Error: err.Error()})
			continue
		}
		report.Splits = append(report.Splits, SplitReport{ID: id, Status: StatusComplete, Outcome: &outcome})
		report.Complete++
		if outcome.Rows <= 0 {
			continue
		}
		for key, value := range outcome.Metrics {
			f, ok := number(value)
			if !ok {
				continue
			}
			sums[key] += f * float64(outcome.Rows)
			weights[key] += float64(outcome.Rows)
		}
	}
	keys := make([]string, 0, len(sums))
	for key := range sums {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		report.Aggregate[key] = sums[key] / weights[key]
	}

	if a.outputPath != "" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return Report{}, fmt.Errorf("continuation: encode report: %w", err)
		}
		if err := fsutil.WriteFileAtomic(a.outputPath, append(data, '\n'), 0o644); err != nil {
			return Report{}, fmt.Errorf("continuation: write report: %w", err)
		}
	}
	a.logger.Info("workflow continued",
		zap.Int("complete", report.Complete),
		zap.Int("missing", report.Missing),
		zap.Int("splits", len(report.Splits)))
	return report, nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
