// Package tools implements the executable capabilities a plan step can
// name. Tools wrap raw outcomes into step results and report failures as
// errors for the dispatcher to classify; they never judge result quality.
package tools

import (
	"context"
	"fmt"

	"github.com/normagent/normagent/internal/plan"
)

// Lookup resolves a state path such as "step_2" to its stored value. The
// dispatcher passes the execution state's Get so tools can dereference
// earlier results without owning state.
type Lookup func(path string) (any, bool)

// Tool runs one step's worth of external work.
type Tool interface {
	Name() plan.Tool
	Run(ctx context.Context, step plan.Step, look Lookup) (plan.StepResult, error)
}

// Registry maps tool names to implementations.
type Registry struct {
	tools map[plan.Tool]Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[plan.Tool]Tool)}
}

// Register adds a tool. Registering the same name twice is a wiring bug.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if !name.IsValid() {
		return fmt.Errorf("tool has invalid name %q", name)
	}
	if _, dup := r.tools[name]; dup {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = t
	return nil
}

// Resolve returns the tool registered under name.
func (r *Registry) Resolve(name plan.Tool) (Tool, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("no tool registered for %q", name)
	}
	return t, nil
}

// Names lists registered tools.
func (r *Registry) Names() []plan.Tool {
	out := make([]plan.Tool, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	return out
}
