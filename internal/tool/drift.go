package tool

import (
	"fmt"
	"sort"
	"strings"
)

// Drift describes how a served tool set differs from the expected one.
type Drift struct {
	Missing []string `json:"missing"` // expected but not served
	Extra   []string `json:"extra"`   // served but not expected

	// Duplicate lists names served more than once.
	Duplicate []string `json:"duplicate,omitempty"`
}

// Empty reports whether the two sets matched.
func (d Drift) Empty() bool {
	return len(d.Missing) == 0 && len(d.Extra) == 0 && len(d.Duplicate) == 0
}

// DriftError is returned by the validators when the sets differ.
type DriftError struct {
	Drift
}

func (e *DriftError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Extra) > 0 {
		parts = append(parts, "extra: "+strings.Join(e.Extra, ", "))
	}
	if len(e.Duplicate) > 0 {
		parts = append(parts, "duplicate: "+strings.Join(e.Duplicate, ", "))
	}
	return fmt.Sprintf("tool set drift (%s)", strings.Join(parts, "; "))
}

// CheckDrift compares two tool name sets. A name served more than once is
// reported in Duplicate; duplicates in expected are ignored. All result
// lists are sorted.
func CheckDrift(expected, served []string) Drift {
	want := toSet(expected)
	have := toSet(served)

	d := Drift{Missing: []string{}, Extra: []string{}}
	for name := range want {
		if _, ok := have[name]; !ok {
			d.Missing = append(d.Missing, name)
		}
	}
	for name := range have {
		if _, ok := want[name]; !ok {
			d.Extra = append(d.Extra, name)
		}
	}
	d.Duplicate = duplicates(served)
	sort.Strings(d.Missing)
	sort.Strings(d.Extra)
	return d
}

func duplicates(names []string) []string {
	counts := make(map[string]int, len(names))
	var dups []string
	for _, n := range names {
		counts[n]++
		if counts[n] == 2 {
			dups = append(dups, n)
		}
	}
	sort.Strings(dups)
	return dups
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// ValidateServerTools checks that a server exposes exactly the declared tools.
func ValidateServerTools(served []string) error {
	return driftErr(CheckDrift(AllToolNames(), served))
}

// Validate checks that the registry serves exactly the tools p enables.
func (r *Registry) Validate(p *Policy) error {
	enabled := p.Enabled()
	expected := make([]string, len(enabled))
	for i, n := range enabled {
		expected[i] = n.value
	}
	return driftErr(CheckDrift(expected, r.ListNames()))
}

func driftErr(d Drift) error {
	if d.Empty() {
		return nil
	}
	return &DriftError{Drift: d}
}
