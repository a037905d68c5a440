package ai

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry maps provider names to constructors so the delivery layer can
// pick the configured provider without knowing how each one is built.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]func() Provider
}

func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]func() Provider)}
}

func (r *Registry) Register(name string, build func() Provider) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = build
}

// Get builds the named provider. The name is matched case-insensitively.
func (r *Registry) Get(name string) (Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	build, ok := r.builders[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (registered: %s)", name, strings.Join(r.Names(), ", "))
	}
	return build(), nil
}

// Names lists the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
