package plugin

import (
	"errors"
	"fmt"
	"strings"
)

// Loader resolves a configured source into a Plugin implementation.
type Loader interface {
	Load(source string) (Plugin, error)
}

// Factory constructs a fresh plugin instance.
type Factory func() Plugin

// BuiltinLoader resolves sources of the form "builtin:<name>" (or a bare
// name) against plugins compiled into the binary.
type BuiltinLoader map[string]Factory

// Load implements Loader.
func (l BuiltinLoader) Load(source string) (Plugin, error) {
	name := strings.TrimPrefix(strings.TrimSpace(source), "builtin:")
	if name == "" {
		return nil, errors.New("plugin source cannot be empty")
	}
	factory, ok := l[name]
	if !ok || factory == nil {
		return nil, fmt.Errorf("builtin plugin %s not found", name)
	}
	p := factory()
	if p == nil {
		return nil, fmt.Errorf("builtin plugin %s factory returned nil", name)
	}
	return p, nil
}
