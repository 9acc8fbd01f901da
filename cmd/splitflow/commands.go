package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kingrea/splitflow/internal/control"
	"github.com/kingrea/splitflow/internal/dispatch"
	"github.com/kingrea/splitflow/internal/resume"
	"github.com/kingrea/splitflow/internal/workflow"
	"github.com/kingrea/splitflow/internal/workflow/engine"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the .splitflow directory and default config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(a.cfg.PipelinesDir(), 0o755); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialised %s\n", a.cfg.StateDir)
			return nil
		},
	}
}

func newRunCmd(a *app) *cobra.Command {
	sets := keyValueFlag{}
	cmd := &cobra.Command{
		Use:   "run [pipeline]",
		Short: "Split a dataset and dispatch its splits",
		Long: `Loads a pipeline definition, splits its dataset, writes the control and
split snapshots, and hands the splits to the execution engine. Local engines
continue immediately; array_job leaves the run deferred for resume.

The pipeline argument is a file path or a name under the pipelines directory.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			def, err := a.loadDefinition(name)
			if err != nil {
				return err
			}
			if err := sets.apply(&def); err != nil {
				return err
			}
			state, err := a.engine.Start(cmd.Context(), engine.StartRequest{Definition: def})
			if err != nil {
				return err
			}
			renderState(cmd.OutOrStdout(), state, nil)
			return nil
		},
	}
	cmd.Flags().Var(&sets, "set", "stage parameter override (category.param=value, repeatable)")
	return cmd
}

func newSplitRunCmd(a *app) *cobra.Command {
	var runID, splitID string
	var index int
	cmd := &cobra.Command{
		Use:   "split-run",
		Short: "Run a single split of a dispatched run",
		Long: `Executes one split against the run's snapshots and stores its result.
Array-job tasks call this with --index set from the scheduler's task id.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if runID == "" {
				return fmt.Errorf("--run is required")
			}
			if index == 0 && splitID == "" {
				env := a.cfg.ArrayJobOptions().IndexEnv
				if env == "" {
					env = dispatch.DefaultIndexEnv
				}
				if raw := strings.TrimSpace(os.Getenv(env)); raw != "" {
					n, err := strconv.Atoi(raw)
					if err != nil {
						return fmt.Errorf("%s: %w", env, err)
					}
					index = n
				}
			}
			if index == 0 && splitID == "" {
				return fmt.Errorf("one of --index or --split is required")
			}
			return a.engine.RunSplit(cmd.Context(), engine.SplitRequest{RunID: runID, ID: splitID, Index: index})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id")
	cmd.Flags().StringVar(&splitID, "split", "", "split id")
	cmd.Flags().IntVar(&index, "index", 0, "1-based split position")
	return cmd
}

func newResumeCmd(a *app) *cobra.Command {
	var requireComplete bool
	var engineName string
	cmd := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Reconstruct a deferred run from stored results and continue it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := a.engine.Resume(cmd.Context(), engine.ResumeRequest{
				RunID:           args[0],
				RequireComplete: requireComplete,
				Engine:          engineName,
			})
			if err != nil && !errors.Is(err, engine.ErrIncomplete) {
				return err
			}
			renderState(cmd.OutOrStdout(), state, nil)
			return err
		},
	}
	cmd.Flags().BoolVar(&requireComplete, "require-complete", false, "refuse to continue while results are missing")
	cmd.Flags().StringVar(&engineName, "engine", "", "engine name recorded in resume metadata")
	return cmd
}

func newWatchCmd(a *app) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch <run-id>",
		Short: "Wait for every split result, then continue the run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			state, err := a.engine.Watch(cmd.Context(), engine.WatchRequest{
				RunID:    args[0],
				Interval: interval,
				OnUpdate: func(o resume.Outcome) {
					got := len(o.Object.WorkflowResults)
					fmt.Fprintf(out, "%d/%d results\n", got, o.Object.SplitOutput.Len())
				},
			})
			if err != nil {
				return err
			}
			renderState(out, state, nil)
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "fallback poll interval")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	var tail int
	cmd := &cobra.Command{
		Use:   "status [run-id]",
		Short: "Show one run in detail, or list every run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				states, err := a.engine.Runs()
				if err != nil {
					return err
				}
				renderRuns(out, states)
				return nil
			}
			state, err := a.engine.View(args[0])
			if err != nil {
				return err
			}
			var lines []string
			if tail > 0 {
				lines = a.tailLogbook(args[0], tail)
			}
			renderState(out, state, lines)
			return nil
		},
	}
	cmd.Flags().IntVar(&tail, "tail", 10, "logbook lines to show")
	return cmd
}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [pipeline]",
		Short: "Check a pipeline definition, its engines and its dataset",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			def, err := a.loadDefinition(name)
			if err != nil {
				return err
			}
			def, err = def.Normalized()
			if err != nil {
				return err
			}
			for _, stage := range def.Stages() {
				if _, err := a.registry.Resolve(stage.Category, stage.Ref.Engine); err != nil {
					return err
				}
			}
			data, err := control.LoadCSV(def.Dataset)
			if err != nil {
				return err
			}
			if _, err := control.New(def.Vars, data, def.Params()); err != nil {
				return err
			}
			a.logger.Debug("definition valid", zap.String("workflow", def.ID), zap.Int("rows", data.Len()))
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d rows)\n", def.ID, data.Len())
			return nil
		},
	}
}

// loadDefinition accepts a file path, a name under the pipelines directory,
// or nothing when the config names a default pipeline.
func (a *app) loadDefinition(name string) (workflow.Definition, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = a.cfg.Project.Pipelines.Default
	}
	if name == "" {
		return workflow.Definition{}, fmt.Errorf("no pipeline given and pipelines.default is not set")
	}
	if info, err := os.Stat(name); err == nil && !info.IsDir() {
		return workflow.LoadDefinitionFile(name)
	}
	if filepath.Ext(name) == "" {
		name += ".yaml"
	}
	return workflow.LoadDefinitionRelative(a.cfg.PipelinesDir(), name)
}
