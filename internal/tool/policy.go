package tool

import "fmt"

// PolicyLayer represents one layer of tool enablement.
type PolicyLayer struct {
	Allow          []string // allowlist (supports "group:sql", "*")
	Deny           []string // denylist (always wins)
	DisabledGroups []Group
}

// resolvedLayer is a PolicyLayer with its references expanded once.
type resolvedLayer struct {
	allow map[Name]struct{}
	deny  map[Name]struct{}
}

// Policy evaluates multi-layer tool enablement.
// All layers must pass for a tool to be enabled.
type Policy struct {
	layers []resolvedLayer
}

// NewPolicy expands every layer up front. An unknown tool or group reference
// in any layer is an error.
func NewPolicy(layers ...PolicyLayer) (*Policy, error) {
	p := &Policy{}
	for i, layer := range layers {
		resolved, err := resolveLayer(layer)
		if err != nil {
			return nil, fmt.Errorf("policy layer %d: %w", i, err)
		}
		p.layers = append(p.layers, resolved)
	}
	return p, nil
}

func resolveLayer(layer PolicyLayer) (resolvedLayer, error) {
	allow, err := ExpandRefs(layer.Allow)
	if err != nil {
		return resolvedLayer{}, fmt.Errorf("allow: %w", err)
	}
	deny, err := ExpandRefs(layer.Deny)
	if err != nil {
		return resolvedLayer{}, fmt.Errorf("deny: %w", err)
	}
	for _, g := range layer.DisabledGroups {
		members, err := ToolsInGroup(g)
		if err != nil {
			return resolvedLayer{}, fmt.Errorf("disabled groups: %w", err)
		}
		deny = append(deny, members...)
	}

	r := resolvedLayer{
		allow: make(map[Name]struct{}, len(allow)),
		deny:  make(map[Name]struct{}, len(deny)),
	}
	for _, n := range allow {
		r.allow[n] = struct{}{}
	}
	for _, n := range deny {
		r.deny[n] = struct{}{}
	}
	return r, nil
}

// IsAllowed checks if a tool passes all policy layers.
func (p *Policy) IsAllowed(n Name) bool {
	if n.IsZero() {
		return false
	}
	for _, layer := range p.layers {
		if !layer.allows(n) {
			return false
		}
	}
	return true
}

func (l resolvedLayer) allows(n Name) bool {
	// Deny always wins
	if _, denied := l.deny[n]; denied {
		return false
	}
	// If allow is empty, allow everything
	if len(l.allow) == 0 {
		return true
	}
	_, ok := l.allow[n]
	return ok
}

// Enabled returns the declared tools that pass the policy, in declaration order.
func (p *Policy) Enabled() []Name {
	var out []Name
	for _, n := range catalog {
		if p.IsAllowed(n) {
			out = append(out, n)
		}
	}
	return out
}

// GroupEnabled reports whether at least one member of g passes the policy.
func (p *Policy) GroupEnabled(g Group) bool {
	members, err := ToolsInGroup(g)
	if err != nil {
		return false
	}
	for _, n := range members {
		if p.IsAllowed(n) {
			return true
		}
	}
	return false
}

// ResolvePolicyLayers builds the policy stack from the config layer and the
// optional environment override layer.
func ResolvePolicyLayers(global PolicyLayer, envLayer *PolicyLayer) (*Policy, error) {
	layers := []PolicyLayer{global}
	if envLayer != nil {
		layers = append(layers, *envLayer)
	}
	return NewPolicy(layers...)
}
