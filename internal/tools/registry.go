// Package tools implements the agent's tool registry and the built-in
// workspace tools.
package tools

import (
	"context"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/myclaw/internal/providers"
)

// Tool is one invocable capability exposed to the model.
type Tool interface {
	// Name is the unique identifier within the registry.
	Name() string
	// Label is the human-readable name.
	Label() string
	Description() string
	// Parameters returns the JSON-schema parameter object.
	Parameters() map[string]any
	// Execute runs the tool. id is the provider-assigned tool-call id;
	// cancellation arrives through ctx.
	Execute(ctx context.Context, id string, args map[string]any) *Result
}

// Registry holds the tools available to one agent.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any previous tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Unregister removes a tool by name. Unknown names are a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns the tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns the registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Defs returns provider tool definitions for all registered tools.
func (r *Registry) Defs() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// DefaultRegistry builds the standard tool set bound to a workspace.
func DefaultRegistry(workspace string, shellTimeoutSec int) *Registry {
	r := NewRegistry()
	r.Register(NewReadFileTool(workspace))
	r.Register(NewWriteFileTool(workspace))
	r.Register(NewEditFileTool(workspace))
	r.Register(NewListDirTool(workspace))
	r.Register(NewShellTool(workspace, shellTimeoutSec))
	r.Register(NewWebFetchTool(WebFetchConfig{}))
	return r
}
