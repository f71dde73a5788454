package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/lotwise/driveline/pkg/schema"
)

// SettingsStore persists per-sandbox tool enablement. Tools with no persisted
// setting are enabled.
type SettingsStore interface {
	SetToolEnabled(ctx context.Context, sandboxID, toolName string, enabled bool) error
	ToolEnabled(ctx context.Context, sandboxID, toolName string) (bool, error)
}

// Registry is the thread-safe tool catalog. Dispatch is by registered name;
// adding a tool type means registering a handler, not editing a branch.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	settings SettingsStore
}

// NewRegistry creates an empty Registry. settings may be nil, in which case
// every registered tool is enabled for every sandbox.
func NewRegistry(settings SettingsStore) *Registry {
	return &Registry{
		tools:    make(map[string]Tool),
		settings: settings,
	}
}

// Register adds a tool to the registry. Returns an error on duplicate name.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return schema.NewError(schema.ErrCodeValidation, "tool is nil")
	}
	name := tool.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "tool name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "tool %q already registered", name)
	}

	r.tools[name] = tool
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeToolNotFound, "tool %q not registered", name)
	}
	return tool, nil
}

// List returns info for all registered tools, sorted by name.
func (r *Registry) List() []ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ToolInfo, 0, len(r.tools))
	for _, tool := range r.tools {
		s := tool.Schema()
		infos = append(infos, ToolInfo{
			Name:        tool.Name(),
			Description: s.Description,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// RegisterPack bulk-registers tools under a prefixed namespace. Each tool
// name becomes "prefix.originalName" (e.g. "dealer.search_inventory").
func (r *Registry) RegisterPack(prefix string, pack []Tool) (int, error) {
	if prefix == "" {
		return 0, schema.NewError(schema.ErrCodeValidation, "pack prefix is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registered := 0
	for _, tool := range pack {
		prefixed := fmt.Sprintf("%s.%s", prefix, tool.Name())
		if _, exists := r.tools[prefixed]; exists {
			return registered, schema.NewErrorf(schema.ErrCodeConflict, "pack tool %q already registered", prefixed)
		}
		r.tools[prefixed] = &prefixedTool{inner: tool, name: prefixed}
		registered++
	}
	return registered, nil
}

// Has checks if a tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// SetEnabled persists the enablement of a tool for one sandbox.
func (r *Registry) SetEnabled(ctx context.Context, sandboxID, name string, enabled bool) error {
	if !r.Has(name) {
		return schema.NewErrorf(schema.ErrCodeToolNotFound, "tool %q not registered", name)
	}
	if r.settings == nil {
		return schema.NewError(schema.ErrCodeInternal, "no settings store configured")
	}
	return r.settings.SetToolEnabled(ctx, sandboxID, name, enabled)
}

// EnabledFor reports whether a tool is enabled for a sandbox. Tools are
// enabled unless explicitly disabled.
func (r *Registry) EnabledFor(ctx context.Context, sandboxID, name string) (bool, error) {
	if r.settings == nil {
		return true, nil
	}
	return r.settings.ToolEnabled(ctx, sandboxID, name)
}

// prefixedTool wraps a pack tool with its namespaced name.
type prefixedTool struct {
	inner Tool
	name  string
}

func (p *prefixedTool) Name() string       { return p.name }
func (p *prefixedTool) Schema() ToolSchema { return p.inner.Schema() }

func (p *prefixedTool) Execute(ctx context.Context, input ToolInput) (*ToolOutput, error) {
	return p.inner.Execute(ctx, input)
}
