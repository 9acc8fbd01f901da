// cmd/splitflow/main.go
//
// Entry point for the splitflow CLI. Every subcommand works against the
// .splitflow/ directory of the project it is run from (or --project).

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kingrea/splitflow/internal/config"
	"github.com/kingrea/splitflow/internal/engines"
	"github.com/kingrea/splitflow/internal/engines/builtin"
	"github.com/kingrea/splitflow/internal/logging"
	"github.com/kingrea/splitflow/internal/workflow"
	"github.com/kingrea/splitflow/internal/workflow/engine"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds what the persistent pre-run builds for subcommands.
type app struct {
	projectDir string
	verbose    bool

	cfg      *config.Config
	logger   *zap.Logger
	closeLog func() error
	registry *engines.Registry
	engine   *engine.Engine
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "splitflow",
		Short:         "Split a workload, run it anywhere, resume it here",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.closeLog != nil {
				_ = a.closeLog()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.projectDir, "project", "", "project directory (defaults to cwd)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newInitCmd(a),
		newRunCmd(a),
		newSplitRunCmd(a),
		newResumeCmd(a),
		newWatchCmd(a),
		newStatusCmd(a),
		newValidateCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	project := a.projectDir
	if project == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("determine working directory: %w", err)
		}
		project = cwd
	}
	abs, err := filepath.Abs(project)
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}
	cfg, err := config.NewConfig(abs)
	if err != nil {
		return err
	}
	if err := config.InitStateDir(cfg.StateDir); err != nil {
		return fmt.Errorf("init %s: %w", config.StateDirName, err)
	}

	logger, closeLog, err := logging.New(logging.Options{
		Path:    cfg.LogFilePath(),
		Level:   cfg.Project.Logging.Level,
		Verbose: a.verbose,
		Console: cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	stores, err := engine.Stores(engine.StoreOptions{
		Backend: cfg.Project.Results.Backend,
		Prefix:  cfg.Project.Results.Prefix,
		Suffix:  cfg.Project.Results.Suffix,
	})
	if err != nil {
		_ = closeLog()
		return err
	}
	registry := builtin.NewRegistry()
	eng, err := engine.New(registry, workflow.New(cfg.StateDir),
		engine.WithLogger(logger),
		engine.WithResultStores(stores),
		engine.WithMaxParallel(cfg.Project.Dispatch.MaxParallel),
		engine.WithArrayJob(cfg.ArrayJobOptions()),
	)
	if err != nil {
		_ = closeLog()
		return err
	}

	a.cfg = cfg
	a.logger = logger
	a.closeLog = closeLog
	a.registry = registry
	a.engine = eng
	return nil
}
