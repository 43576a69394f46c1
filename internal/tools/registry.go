package tools

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/edda-voice/edda/pkg/types"
)

// Registry holds the tools offered to the LLM. Names are unique
// case-insensitively: "Search_Web" and "search_web" collide, because models
// are not reliable about casing tool names they were shown.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool // key: lower-cased name
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. It fails on an empty name, a nil handler, or a
// case-insensitive name collision.
func (r *Registry) Register(t Tool) error {
	name := strings.TrimSpace(t.Definition.Name)
	if name == "" {
		return fmt.Errorf("tools: tool name must not be empty")
	}
	if t.Handler == nil {
		return fmt.Errorf("tools: tool %q has no handler", name)
	}

	key := strings.ToLower(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.tools[key]; ok {
		return fmt.Errorf("tools: name collision: %q conflicts with registered %q", name, existing.Definition.Name)
	}
	r.tools[key] = t
	return nil
}

// RegisterAll registers every tool, stopping at the first failure.
func (r *Registry) RegisterAll(ts ...Tool) error {
	for _, t := range ts {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Get looks a tool up by name, case-insensitively.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[strings.ToLower(name)]
	return t, ok
}

// Definitions returns all tool definitions sorted by name, for inclusion in
// LLM requests.
func (r *Registry) Definitions() []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]types.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
