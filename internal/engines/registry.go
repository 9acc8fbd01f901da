package engines

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kingrea/splitflow/internal/control"
	"github.com/kingrea/splitflow/internal/params"
)

// Factory constructs an engine instance.
type Factory func() (Engine, error)

// Registry maintains known engine factories per category.
type Registry struct {
	mu        sync.RWMutex
	factories map[control.Category]map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[control.Category]map[string]Factory{}}
}

// Register installs an engine factory. Returns an error if the name already
// exists within the category.
func (r *Registry) Register(category control.Category, name string, factory Factory) error {
	if !category.Valid() {
		return fmt.Errorf("engines: unknown category %q", category)
	}
	if name == "" {
		return fmt.Errorf("engines: name is required")
	}
	if factory == nil {
		return fmt.Errorf("engines: factory is required for %s/%s", category, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	byName, ok := r.factories[category]
	if !ok {
		byName = map[string]Factory{}
		r.factories[category] = byName
	}
	if _, exists := byName[name]; exists {
		return fmt.Errorf("engines: %s/%s already registered", category, name)
	}
	byName[name] = factory
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(category control.Category, name string, factory Factory) {
	if err := r.Register(category, name, factory); err != nil {
		panic(err)
	}
}

// Resolve constructs an engine by category and name.
func (r *Registry) Resolve(category control.Category, name string) (Engine, error) {
	r.mu.RLock()
	factory, ok := r.factories[category][name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("engines: unknown %s engine %q", category, name)
	}
	eng, err := factory()
	if err != nil {
		return nil, err
	}
	info := eng.Info()
	if err := info.Validate(); err != nil {
		return nil, err
	}
	if info.Category != category {
		return nil, fmt.Errorf("engines: %s registered under %s reports category %s", name, category, info.Category)
	}
	return eng, nil
}

// Splitter resolves a splitting engine.
func (r *Registry) Splitter(name string) (Splitter, error) {
	eng, err := r.Resolve(control.CategorySplitting, name)
	if err != nil {
		return nil, err
	}
	splitter, ok := eng.(Splitter)
	if !ok {
		return nil, fmt.Errorf("engines: %s does not implement Splitter", name)
	}
	return splitter, nil
}

// Stage resolves a pre-processing, execution or evaluation engine.
func (r *Registry) Stage(category control.Category, name string) (Stage, error) {
	if category == control.CategorySplitting {
		return nil, fmt.Errorf("engines: splitting engines are not stages")
	}
	eng, err := r.Resolve(category, name)
	if err != nil {
		return nil, err
	}
	stage, ok := eng.(Stage)
	if !ok {
		return nil, fmt.Errorf("engines: %s/%s does not implement Stage", category, name)
	}
	return stage, nil
}

// Names returns the sorted engine names registered for a category.
func (r *Registry) Names(category control.Category) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories[category]))
	for name := range r.factories[category] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Params computes an engine's effective parameters: the control object's
// user parameters merged over the engine defaults.
func (r *Registry) Params(ctl *control.Object, info Info) params.Set {
	var user params.Set
	if ctl != nil {
		user = ctl.Params.Lookup(info.Category, info.Name)
	}
	return params.Merge(user, info.Defaults)
}
