package realtime

import (
	"fmt"

	"github.com/gobwas/glob"
)

// ResourceFilter matches resource collections against glob patterns.
// No patterns means every resource matches.
type ResourceFilter struct {
	globs []glob.Glob
}

// NewResourceFilter compiles the given glob patterns
func NewResourceFilter(patterns []string) (*ResourceFilter, error) {
	filter := &ResourceFilter{
		globs: make([]glob.Glob, 0, len(patterns)),
	}

	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid resource pattern %q: %w", pattern, err)
		}
		filter.globs = append(filter.globs, g)
	}

	return filter, nil
}

// Match returns true if the resource matches any configured pattern
func (f *ResourceFilter) Match(resource string) bool {
	if len(f.globs) == 0 {
		return true
	}

	for _, g := range f.globs {
		if g.Match(resource) {
			return true
		}
	}
	return false
}
