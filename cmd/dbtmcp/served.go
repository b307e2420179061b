package main

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// servedEntry is a tool list entry: either a bare name or an object with a
// name field, as found in an MCP tools/list result.
type servedEntry struct {
	Name string
}

func (e *servedEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		e.Name = node.Value
		return nil
	}
	var obj struct {
		Name string `yaml:"name"`
	}
	if err := node.Decode(&obj); err != nil {
		return err
	}
	e.Name = obj.Name
	return nil
}

// parseServedTools accepts a YAML/JSON list of tools or a document with a
// top-level "tools" list.
func parseServedTools(data []byte) ([]string, error) {
	var entries []servedEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		var doc struct {
			Tools []servedEntry `yaml:"tools"`
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse tool list: %w", err)
		}
		entries = doc.Tools
	}
	if len(entries) == 0 {
		return nil, errors.New("no tools found")
	}

	names := make([]string, 0, len(entries))
	for i, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("tool %d has no name", i)
		}
		names = append(names, e.Name)
	}
	return names, nil
}
