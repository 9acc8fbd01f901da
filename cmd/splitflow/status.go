package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/splitflow/internal/logbook"
	"github.com/kingrea/splitflow/internal/workflow/engine"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#8A8A8A")).Width(12)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#5C5C5C")).
			Padding(0, 1)
	statusStyles = map[engine.RunStatus]lipgloss.Style{
		engine.RunStatusComplete:   lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")),
		engine.RunStatusDeferred:   lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
		engine.RunStatusDispatched: lipgloss.NewStyle().Foreground(lipgloss.Color("#61AFEF")),
		engine.RunStatusError:      lipgloss.NewStyle().Foreground(lipgloss.Color("#E06C75")),
	}
)

func statusLabel(status engine.RunStatus) string {
	style, ok := statusStyles[status]
	if !ok {
		return string(status)
	}
	return style.Render(string(status))
}

func renderState(w io.Writer, state engine.State, logLines []string) {
	if state.RunID == "" {
		return
	}
	row := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
	}
	lines := []string{
		titleStyle.Render(state.RunID),
		row("workflow", state.WorkflowID),
		row("status", statusLabel(state.Status)),
	}
	if state.StatusReason != "" {
		lines = append(lines, row("reason", state.StatusReason))
	}
	lines = append(lines, row("splits", fmt.Sprintf("%d", len(state.Splits))))
	if exec := state.Execution; exec != nil {
		lines = append(lines, row("execution", fmt.Sprintf("%s (%d results, continue=%t)", exec.Engine, exec.Results, exec.Continue)))
		if script, ok := exec.Diagnostics["script"].(string); ok {
			lines = append(lines, row("script", script))
		}
	}
	if len(state.Warnings) > 0 {
		counts := map[string]int{}
		for _, w := range state.Warnings {
			counts[string(w.Kind)]++
		}
		kinds := make([]string, 0, len(counts))
		for kind := range counts {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		parts := make([]string, 0, len(kinds))
		for _, kind := range kinds {
			parts = append(parts, fmt.Sprintf("%s×%d", kind, counts[kind]))
		}
		lines = append(lines, row("warnings", strings.Join(parts, ", ")))
	}
	if rep := state.Report; rep != nil {
		lines = append(lines, row("report", fmt.Sprintf("%s (%d complete, %d missing)", rep.Path, rep.Complete, rep.Missing)))
	}
	lines = append(lines, row("updated", state.UpdatedAt.Format("2006-01-02 15:04:05")))
	if len(logLines) > 0 {
		lines = append(lines, "", labelStyle.Render("logbook"))
		lines = append(lines, logLines...)
	}
	fmt.Fprintln(w, boxStyle.Render(strings.Join(lines, "\n")))
}

func renderRuns(w io.Writer, states []engine.State) {
	if len(states) == 0 {
		fmt.Fprintln(w, "no runs yet")
		return
	}
	idWidth := 0
	for _, s := range states {
		idWidth = max(idWidth, lipgloss.Width(s.RunID))
	}
	idStyle := lipgloss.NewStyle().Width(idWidth + 2)
	for _, s := range states {
		fmt.Fprintln(w, lipgloss.JoinHorizontal(lipgloss.Top,
			idStyle.Render(s.RunID),
			lipgloss.NewStyle().Width(12).Render(statusLabel(s.Status)),
			fmt.Sprintf("%d splits", len(s.Splits))))
	}
}

func (a *app) tailLogbook(runID string, n int) []string {
	run, err := a.engine.Workflow().Run(runID)
	if err != nil {
		return nil
	}
	book, err := logbook.New(run.LogbookPath())
	if err != nil {
		return nil
	}
	lines, _ := book.Tail(n)
	return lines
}
