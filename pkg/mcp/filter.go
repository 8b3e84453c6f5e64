package mcp

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ToolFilter restricts which discovered tools are visible and callable for a
// server. Deny patterns win over allow patterns; an empty allow list admits
// everything not denied. Patterns are glob-matched against the tool name,
// with a literal fallback for names containing glob metacharacters.
type ToolFilter struct {
	Allow []string
	Deny  []string
}

// Allows reports whether a tool name passes the filter.
func (f ToolFilter) Allows(name string) bool {
	for _, p := range f.Deny {
		if matchToolPattern(p, name) {
			return false
		}
	}
	if len(f.Allow) == 0 {
		return true
	}
	for _, p := range f.Allow {
		if matchToolPattern(p, name) {
			return true
		}
	}
	return false
}

// apply returns the tools that pass the filter, in their original order.
func (f ToolFilter) apply(tools []ToolDescriptor) []ToolDescriptor {
	if len(f.Allow) == 0 && len(f.Deny) == 0 {
		return tools
	}
	kept := make([]ToolDescriptor, 0, len(tools))
	for _, t := range tools {
		if f.Allows(t.Name) {
			kept = append(kept, t)
		}
	}
	return kept
}

func matchToolPattern(pattern, name string) bool {
	if isGlobPattern(pattern) {
		matched, err := doublestar.Match(pattern, name)
		return err == nil && matched
	}
	return pattern == name
}

// isGlobPattern returns true if the pattern contains glob metacharacters.
func isGlobPattern(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}
