package tool

import (
	"context"
	"fmt"
	"sync"
)

// Tool is a named analyzer the reasoning model can request. Execute receives
// the script under analysis and a call context carrying the model-provided
// input ("input") and results of previously executed tools ("results").
// Implementations return a JSON string.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, script string, tctx map[string]any) (string, error)
}

// Descriptor is the introspection record for a registered tool
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Registry holds the tools available to a workflow
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty tool registry
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// DefaultRegistry returns a registry with the built-in analysis tools
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewScriptAnalysis())
	r.Register(NewSecurityScan())
	r.Register(NewQualityAnalysis())
	r.Register(NewOptimizations())
	return r
}

// Register adds a tool, replacing any previous tool of the same name
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns the named tool
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	return t, nil
}

// Descriptors returns the registered tools in registration order
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descriptors := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		descriptors = append(descriptors, Descriptor{
			Name:        name,
			Description: r.tools[name].Description(),
		})
	}
	return descriptors
}
