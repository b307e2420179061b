package tool

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrToolExists = errors.New("tool already registered")

// Tool is a descriptor for a tool the server exposes.
type Tool interface {
	Name() Name
	Description() string
}

// Definition is a concrete Tool.
type Definition struct {
	name        Name
	description string
}

func NewDefinition(name Name, description string) *Definition {
	return &Definition{name: name, description: description}
}

// Describe returns a Definition with the default description for n.
func Describe(n Name) *Definition {
	desc := "dbt tool " + n.value
	if g, ok := n.Group(); ok {
		desc = fmt.Sprintf("%s (%s)", desc, g)
	}
	return NewDefinition(n, desc)
}

func (d *Definition) Name() Name          { return d.name }
func (d *Definition) Description() string { return d.description }

// Registry manages the tools a server currently exposes.
type Registry struct {
	mu    sync.RWMutex
	tools map[Name]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[Name]Tool)}
}

// Register adds a tool to the registry.
func (r *Registry) Register(t Tool) error {
	n := t.Name()
	if n.IsZero() {
		return fmt.Errorf("register: %w: empty name", ErrUnknownTool)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[n]; exists {
		return fmt.Errorf("register %s: %w", n, ErrToolExists)
	}
	r.tools[n] = t
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(n Name) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, n)
}

// Get returns a tool by name.
func (r *Registry) Get(n Name) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[n]
	return t, ok
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name().value < out[j].Name().value })
	return out
}

// ListNames returns all registered tool names, sorted.
func (r *Registry) ListNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n.value)
	}
	sort.Strings(names)
	return names
}

// Sync registers every tool the policy enables that is not yet served and
// unregisters every served tool the policy no longer enables. New tools are
// described with Describe.
func (r *Registry) Sync(p *Policy) (added, removed []Name) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, n := range catalog {
		_, served := r.tools[n]
		switch allowed := p.IsAllowed(n); {
		case allowed && !served:
			r.tools[n] = Describe(n)
			added = append(added, n)
		case !allowed && served:
			delete(r.tools, n)
			removed = append(removed, n)
		}
	}
	return added, removed
}
