// Package engines defines the pluggable engine contract and the explicit
// registry used to resolve engines by category and name. There is no global
// registry: callers build one at start-up and pass it where it is needed.
package engines

import (
	"fmt"

	"github.com/kingrea/splitflow/internal/control"
	"github.com/kingrea/splitflow/internal/envelope"
	"github.com/kingrea/splitflow/internal/errs"
	"github.com/kingrea/splitflow/internal/params"
	"github.com/kingrea/splitflow/internal/split"
)

// Info describes an engine's identity and its default parameters.
type Info struct {
	Name        string
	Category    control.Category
	Description string
	Version     string
	// Defaults are merged under the user's parameters on every invocation.
	Defaults params.Set
}

// Validate ensures the info block is well-formed.
func (i Info) Validate() error {
	if i.Name == "" {
		return fmt.Errorf("engines: name is required")
	}
	if !i.Category.Valid() {
		return fmt.Errorf("engines: unknown category %q for %s", i.Category, i.Name)
	}
	if i.Version == "" {
		return fmt.Errorf("engines: version is required for %s", i.Name)
	}
	return nil
}

// Engine is implemented by every pluggable unit.
type Engine interface {
	Info() Info
}

// Splitter partitions a workload. Implementations must produce the same ids
// for the same control object and parameters.
type Splitter interface {
	Engine
	Split(ctx *Context, p params.Set) (*split.Map, error)
}

// Stage is a pre-processing, execution or evaluation engine.
type Stage interface {
	Engine
	Run(ctx *Context, p params.Set) (envelope.Envelope, error)
}

// SplitWorkload resolves the named splitter, runs it with merged parameters,
// and rejects empty partitions before anything is dispatched.
func SplitWorkload(reg *Registry, ctx *Context, name string) (*split.Map, error) {
	splitter, err := reg.Splitter(name)
	if err != nil {
		return nil, err
	}
	m, err := splitter.Split(ctx, reg.Params(ctx.Control, splitter.Info()))
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// RunStage resolves and runs a stage engine, checking that the returned
// envelope belongs to the requested category and is well-formed.
func RunStage(reg *Registry, ctx *Context, category control.Category, name string) (envelope.Envelope, error) {
	stage, err := reg.Stage(category, name)
	if err != nil {
		return nil, err
	}
	env, err := stage.Run(ctx, reg.Params(ctx.Control, stage.Info()))
	if err != nil {
		return nil, fmt.Errorf("engines: %s %s: %w", category, name, err)
	}
	if env == nil {
		return nil, errs.Schema("engines", "%s %s returned no envelope", category, name)
	}
	if env.Category() != category {
		return nil, errs.Schema("engines", "%s %s returned a %s envelope", category, name, env.Category())
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}
