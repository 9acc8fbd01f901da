package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
	"unicode"

	"go.uber.org/zap"

	"github.com/kingrea/splitflow/internal/errs"
	"github.com/kingrea/splitflow/internal/fsutil"
)

// DefaultIndexEnv is the environment variable array-job backends set to the
// 1-based task index.
const DefaultIndexEnv = "SLURM_ARRAY_TASK_ID"

// ArrayJobOptions controls the rendered submission script.
type ArrayJobOptions struct {
	// Executable is the command each task runs; it is invoked as
	// "<Executable> split-run --run <id> --index <n>".
	Executable string
	// WorkDir is where tasks start; usually the project root.
	WorkDir       string
	JobName       string
	Partition     string
	Time          string
	MaxConcurrent int
	Directives    []string
	IndexEnv      string
	// Submit is the submission command, e.g. ["sbatch"]. The script path is
	// appended. When empty the script is only written.
	Submit     []string
	ScriptName string
}

func (o ArrayJobOptions) withDefaults() ArrayJobOptions {
	if o.Executable == "" {
		o.Executable = "splitflow"
	}
	if o.JobName == "" {
		o.JobName = "splitflow"
	}
	if o.IndexEnv == "" {
		o.IndexEnv = DefaultIndexEnv
	}
	if o.ScriptName == "" {
		o.ScriptName = "submit.sh"
	}
	return o
}

// ArrayJob hands the whole split map to an external array-job backend as a
// single submission with one task per split. It never waits for results.
type ArrayJob struct {
	Options ArrayJobOptions
	Logger  *zap.Logger
}

var _ Dispatcher = (*ArrayJob)(nil)

type scriptTask struct {
	Index int
	ID    string
}

type scriptData struct {
	ArrayJobOptions
	RunID   string
	RunDir  string
	Count   int
	Tasks   []scriptTask
	Quote   func(string) string
	LogPath string
}

var scriptTemplate = template.Must(template.New("array_job").Parse(`#!/bin/sh
#SBATCH --job-name={{ .JobName }}
#SBATCH --array=1-{{ .Count }}{{ if gt .MaxConcurrent 0 }}%{{ .MaxConcurrent }}{{ end }}
{{- if .Partition }}
#SBATCH --partition={{ .Partition }}
{{- end }}
{{- if .Time }}
#SBATCH --time={{ .Time }}
{{- end }}
#SBATCH --output={{ .LogPath }}
{{- range .Directives }}
#SBATCH {{ . }}
{{- end }}
#
# run {{ .RunID }}
{{- range .Tasks }}
# task {{ .Index }} -> split {{ .ID }}
{{- end }}
set -eu
{{- if .WorkDir }}
cd {{ call .Quote .WorkDir }}
{{- end }}
exec {{ call .Quote .Executable }} split-run --run {{ call .Quote .RunID }} --index "${{ "{" }}{{ .IndexEnv }}{{ "}" }}"
`))

// Render returns the submission script for a job.
func (a *ArrayJob) Render(job Job) ([]byte, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	opts := a.Options.withDefaults()
	data := scriptData{
		ArrayJobOptions: opts,
		RunID:           job.RunID,
		RunDir:          job.Dir,
		Count:           job.Splits.Len(),
		Quote:           shellQuote,
		LogPath:         filepath.Join(job.Dir, "logs", "task_%a.out"),
	}
	if err := checkDirectives(data); err != nil {
		return nil, err
	}
	for i, id := range job.Splits.IDs() {
		if strings.ContainsAny(id, "\r\n") {
			return nil, errs.Config("array job", "split id %q cannot be written into a script comment", id)
		}
		data.Tasks = append(data.Tasks, scriptTask{Index: i + 1, ID: id})
	}
	var buf bytes.Buffer
	if err := scriptTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("dispatch: render array job: %w", err)
	}
	return buf.Bytes(), nil
}

// checkDirectives rejects values that #SBATCH lines cannot carry. Those
// lines are not parsed by a shell, so whitespace cannot be quoted away.
func checkDirectives(data scriptData) error {
	single := []struct{ name, value string }{
		{"job name", data.JobName},
		{"partition", data.Partition},
		{"time", data.Time},
		{"log path", data.LogPath},
		{"run id", data.RunID},
	}
	for _, field := range single {
		if strings.IndexFunc(field.value, unicode.IsSpace) >= 0 {
			return errs.Config("array job", "%s %q contains whitespace", field.name, field.value)
		}
	}
	for _, directive := range data.Directives {
		if strings.ContainsAny(directive, "\r\n") {
			return errs.Config("array job", "directive %q spans several lines", directive)
		}
	}
	return nil
}

// Dispatch writes the script into the run directory and submits it when a
// submit command is configured.
func (a *ArrayJob) Dispatch(ctx context.Context, job Job) (Receipt, error) {
	if job.Dir == "" {
		return Receipt{}, fmt.Errorf("dispatch: run directory is required for array jobs")
	}
	script, err := a.Render(job)
	if err != nil {
		return Receipt{}, err
	}
	opts := a.Options.withDefaults()
	path := filepath.Join(job.Dir, opts.ScriptName)
	if err := fsutil.WriteFileAtomic(path, script, 0o755); err != nil {
		return Receipt{}, fmt.Errorf("dispatch: write array job script: %w", err)
	}
	receipt := Receipt{
		Backend:    "array_job",
		Dispatched: job.Splits.IDs(),
		Deferred:   true,
		Script:     path,
	}
	logger := a.logger().With(zap.String("run", job.RunID))
	if len(opts.Submit) == 0 {
		logger.Info("array job script written", zap.String("script", path), zap.Int("tasks", job.Splits.Len()))
		return receipt, nil
	}
	args := append(append([]string(nil), opts.Submit[1:]...), path)
	cmd := exec.CommandContext(ctx, opts.Submit[0], args...)
	if opts.WorkDir != "" {
		cmd.Dir = opts.WorkDir
	}
	out, err := cmd.CombinedOutput()
	receipt.Output = strings.TrimSpace(string(out))
	if err != nil {
		return receipt, fmt.Errorf("dispatch: submit %s: %w: %s", opts.Submit[0], err, receipt.Output)
	}
	logger.Info("array job submitted", zap.String("script", path), zap.String("output", receipt.Output))
	return receipt, nil
}

func (a *ArrayJob) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}

// shellQuote wraps s in single quotes unless it is made only of safe
// characters.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./:=@%+", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
