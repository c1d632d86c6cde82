package tools

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// OverridesFile is the operator file that adjusts built-in definitions without a rebuild
//
//	version: "1"
//	tools:
//	  tavily_search:
//	    default_enabled: false
//	    timeout_ms: 8000
type OverridesFile struct {
	Version string                  `yaml:"version"`
	Tools   map[string]ToolOverride `yaml:"tools"`
}

// ToolOverride holds the fields an operator may change for one tool
type ToolOverride struct {
	DisplayName    string `yaml:"display_name,omitempty"`
	Description    string `yaml:"description,omitempty"`
	DefaultEnabled *bool  `yaml:"default_enabled,omitempty"`
	TimeoutMs      int    `yaml:"timeout_ms,omitempty"`
}

// LoadOverrides reads an overrides file
func LoadOverrides(path string) (*OverridesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tool overrides %s: %w", path, err)
	}

	var file OverridesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse tool overrides: %w", err)
	}
	return &file, nil
}

// Apply returns a copy of defs with the overrides folded in. Names that match no
// definition are an error so typos do not go unnoticed.
func (f *OverridesFile) Apply(defs []Definition) ([]Definition, error) {
	out := make([]Definition, len(defs))
	copy(out, defs)
	if f == nil {
		return out, nil
	}

	index := make(map[string]int, len(out))
	for i, d := range out {
		index[d.Name] = i
	}

	for name, o := range f.Tools {
		i, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("tool overrides reference unknown tool %q", name)
		}
		if o.DisplayName != "" {
			out[i].DisplayName = o.DisplayName
		}
		if o.Description != "" {
			out[i].Description = o.Description
		}
		if o.DefaultEnabled != nil {
			out[i].DefaultEnabled = *o.DefaultEnabled
		}
		if o.TimeoutMs < 0 {
			return nil, fmt.Errorf("tool %s: timeout_ms must not be negative", name)
		}
		if o.TimeoutMs > 0 {
			out[i].DefaultTimeout = time.Duration(o.TimeoutMs) * time.Millisecond
		}
	}
	return out, nil
}
