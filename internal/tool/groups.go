package tool

import (
	"fmt"
	"strings"
)

// wildcardRef matches every declared tool.
const wildcardRef = "*"

// GroupRefs returns the allow/deny shorthand for every group ("group:sql", ...).
func GroupRefs() []string {
	refs := make([]string, len(groups))
	for i, g := range groups {
		refs[i] = g.Ref()
	}
	return refs
}

// ExpandRefs expands group references like "group:admin_api" and the "*"
// wildcard into individual tools, deduplicated in first-seen order.
func ExpandRefs(refs []string) ([]Name, error) {
	seen := make(map[string]struct{}, len(refs))
	var expanded []Name
	add := func(n Name) {
		if _, dup := seen[n.value]; dup {
			return
		}
		seen[n.value] = struct{}{}
		expanded = append(expanded, n)
	}

	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		switch {
		case ref == "":
			continue
		case ref == wildcardRef:
			for _, n := range catalog {
				add(n)
			}
		case strings.HasPrefix(ref, groupRefPrefix):
			g, err := ParseGroup(ref)
			if err != nil {
				return nil, err
			}
			members, _ := ToolsInGroup(g)
			for _, n := range members {
				add(n)
			}
		default:
			n, err := ParseName(ref)
			if err != nil {
				return nil, fmt.Errorf("expand %q: %w", ref, err)
			}
			add(n)
		}
	}
	return expanded, nil
}
