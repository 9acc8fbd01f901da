package engine

import (
	"time"

	"github.com/kingrea/splitflow/internal/resume"
	"github.com/kingrea/splitflow/internal/workflow"
)

// RunStatus enumerates coarse run phases.
type RunStatus string

const (
	RunStatusUnknown    RunStatus = "unknown"
	RunStatusDispatched RunStatus = "dispatched"
	RunStatusDeferred   RunStatus = "deferred"
	RunStatusComplete   RunStatus = "complete"
	RunStatusError      RunStatus = "error"
)

// State captures the persisted snapshot of a run.
type State struct {
	RunID      string              `json:"run_id"`
	WorkflowID string              `json:"workflow_id"`
	Definition workflow.Definition `json:"definition"`
	Status     RunStatus           `json:"status"`
	// StatusReason explains deferred and error states.
	StatusReason string            `json:"status_reason,omitempty"`
	Splits       []string          `json:"splits,omitempty"`
	Execution    *ExecutionSummary `json:"execution,omitempty"`
	Warnings     []resume.Warning  `json:"warnings,omitempty"`
	Report       *ReportSummary    `json:"report,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// ExecutionSummary records what the execution engine reported.
type ExecutionSummary struct {
	Engine      string         `json:"engine"`
	Continue    bool           `json:"continue"`
	Results     int            `json:"results"`
	Diagnostics map[string]any `json:"diagnostics,omitempty"`
}

// ReportSummary points at the continuation report.
type ReportSummary struct {
	Path        string    `json:"path"`
	Complete    int       `json:"complete"`
	Missing     int       `json:"missing"`
	Partial     bool      `json:"partial"`
	GeneratedAt time.Time `json:"generated_at"`
}

func (s *State) fail(err error, now time.Time) {
	s.Status = RunStatusError
	s.StatusReason = err.Error()
	s.UpdatedAt = now
}
