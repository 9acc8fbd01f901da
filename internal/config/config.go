// internal/config/config.go
//
// This package handles configuration and the .splitflow directory structure.
// Every project that uses splitflow gets a .splitflow/ folder created in its
// root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/splitflow/internal/dispatch"
	"github.com/kingrea/splitflow/internal/errs"
)

const (
	// StateDirName is the name of the directory we create in each project.
	StateDirName = ".splitflow"

	// EnvStateDir relocates the state directory, e.g. onto a shared
	// filesystem that array-job tasks can reach.
	EnvStateDir = "SPLITFLOW_DIR"
)

// Result store backends.
const (
	BackendFS     = "fs"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

const defaultProjectConfigYAML = `# splitflow project configuration
version: 1

# Where per-split results are stored. backend: fs | sqlite | memory
results:
  backend: fs
  prefix: result_

dispatch:
  max_parallel: 4
  array_job:
    # Submission command; leave empty to only write submit.sh.
    submit: []
    # partition: short
    # time: "00:30:00"
    # directives: ["--mem=2G"]

pipelines:
  dir: pipelines

logging:
  level: info
`

// ResultsConfig selects the result store.
type ResultsConfig struct {
	Backend string `yaml:"backend"`
	Prefix  string `yaml:"prefix,omitempty"`
	Suffix  string `yaml:"suffix,omitempty"`
}

// ArrayJobConfig mirrors dispatch.ArrayJobOptions in YAML form.
type ArrayJobConfig struct {
	Executable    string   `yaml:"executable,omitempty"`
	JobName       string   `yaml:"job_name,omitempty"`
	Partition     string   `yaml:"partition,omitempty"`
	Time          string   `yaml:"time,omitempty"`
	MaxConcurrent int      `yaml:"max_concurrent,omitempty"`
	Directives    []string `yaml:"directives,omitempty"`
	IndexEnv      string   `yaml:"index_env,omitempty"`
	Submit        []string `yaml:"submit,omitempty"`
}

// DispatchConfig captures dispatch preferences.
type DispatchConfig struct {
	MaxParallel int            `yaml:"max_parallel"`
	ArrayJob    ArrayJobConfig `yaml:"array_job"`
}

// PipelineConfig captures where pipeline definitions live.
type PipelineConfig struct {
	Dir     string `yaml:"dir"`
	Default string `yaml:"default,omitempty"`
}

// LoggingConfig controls the structured log.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ProjectConfig models .splitflow/config.yaml.
type ProjectConfig struct {
	Version   int            `yaml:"version"`
	Results   ResultsConfig  `yaml:"results"`
	Dispatch  DispatchConfig `yaml:"dispatch"`
	Pipelines PipelineConfig `yaml:"pipelines"`
	Logging   LoggingConfig  `yaml:"logging"`
}

// Config holds the runtime configuration for splitflow.
type Config struct {
	// ProjectDir is the directory where the user ran `splitflow` from
	ProjectDir string

	// StateDir is ProjectDir/.splitflow unless SPLITFLOW_DIR overrides it
	StateDir string

	Project ProjectConfig
}

// InitStateDir creates the .splitflow directory structure and writes a
// default config.yaml when none exists.
//
// Structure created:
// .splitflow/
// ├── config.yaml
// ├── logs/   <- structured logs
// └── runs/   <- one directory per run
func InitStateDir(stateDir string) error {
	for _, dir := range []string{stateDir, filepath.Join(stateDir, "logs"), filepath.Join(stateDir, "runs")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return ensureProjectConfig(filepath.Join(stateDir, "config.yaml"))
}

// NewConfig creates a new Config instance populated with project settings.
func NewConfig(projectDir string) (*Config, error) {
	stateDir := filepath.Join(projectDir, StateDirName)
	if override := strings.TrimSpace(os.Getenv(EnvStateDir)); override != "" {
		stateDir = resolvePath(projectDir, override)
	}
	cfg := &Config{
		ProjectDir: projectDir,
		StateDir:   stateDir,
		Project:    defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.StateDir, "logs")
}

// LogFilePath returns the structured log file.
func (c *Config) LogFilePath() string {
	return filepath.Join(c.LogsDir(), "splitflow.log")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.StateDir, "config.yaml")
}

// PipelinesDir returns the directory pipeline definitions are read from.
func (c *Config) PipelinesDir() string {
	return c.Project.Pipelines.Dir
}

// ArrayJobOptions converts the array-job settings for the dispatcher.
func (c *Config) ArrayJobOptions() dispatch.ArrayJobOptions {
	aj := c.Project.Dispatch.ArrayJob
	return dispatch.ArrayJobOptions{
		Executable:    aj.Executable,
		WorkDir:       c.ProjectDir,
		JobName:       aj.JobName,
		Partition:     aj.Partition,
		Time:          aj.Time,
		MaxConcurrent: aj.MaxConcurrent,
		Directives:    append([]string(nil), aj.Directives...),
		IndexEnv:      aj.IndexEnv,
		Submit:        append([]string(nil), aj.Submit...),
	}
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.Project.normalize(c.ProjectDir)
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize(c.ProjectDir)
	if err := parsed.validate(); err != nil {
		return err
	}

	c.Project = parsed
	return nil
}

func defaultProjectConfig() ProjectConfig {
	pc := ProjectConfig{}
	pc.applyDefaults()
	return pc
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if pc.Results.Backend == "" {
		pc.Results.Backend = BackendFS
	}
	if pc.Results.Backend == BackendFS && pc.Results.Prefix == "" && pc.Results.Suffix == "" {
		pc.Results.Prefix = "result_"
	}
	if pc.Dispatch.MaxParallel == 0 {
		pc.Dispatch.MaxParallel = 4
	}
	if pc.Pipelines.Dir == "" {
		pc.Pipelines.Dir = "pipelines"
	}
	if pc.Logging.Level == "" {
		pc.Logging.Level = "info"
	}
}

func (pc *ProjectConfig) normalize(base string) {
	pc.Results.Backend = strings.ToLower(strings.TrimSpace(pc.Results.Backend))
	pc.Logging.Level = strings.ToLower(strings.TrimSpace(pc.Logging.Level))
	pc.Pipelines.Dir = resolvePath(base, pc.Pipelines.Dir)
	pc.Pipelines.Default = strings.TrimSpace(pc.Pipelines.Default)
}

func (pc *ProjectConfig) validate() error {
	const op = "config"
	if pc.Version < 1 {
		return errs.Config(op, "version must be >= 1")
	}
	switch pc.Results.Backend {
	case BackendFS, BackendSQLite, BackendMemory:
	default:
		return errs.Config(op, "results.backend must be one of fs, sqlite, memory; got %q", pc.Results.Backend)
	}
	if strings.ContainsAny(pc.Results.Prefix+pc.Results.Suffix, `/\`) {
		return errs.Config(op, "results prefix and suffix must not contain path separators")
	}
	if pc.Dispatch.MaxParallel < 1 {
		return errs.Config(op, "dispatch.max_parallel must be >= 1")
	}
	if pc.Dispatch.ArrayJob.MaxConcurrent < 0 {
		return errs.Config(op, "dispatch.array_job.max_concurrent must be >= 0")
	}
	switch pc.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return errs.Config(op, "logging.level must be debug, info, warn or error; got %q", pc.Logging.Level)
	}
	return nil
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}
