package plugin

import (
	"fmt"
	"sort"
	"sync"
)

// Registry indexes adapters by name so the host runtime can mount them.
// All methods are safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	triggers  map[string]Trigger
	providers map[string]OAuthProvider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:     make(map[string]Tool),
		triggers:  make(map[string]Trigger),
		providers: make(map[string]OAuthProvider),
	}
}

// RegisterTool adds a tool; duplicate names are rejected.
func (r *Registry) RegisterTool(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// RegisterTrigger adds a trigger under the given name.
func (r *Registry) RegisterTrigger(name string, t Trigger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.triggers[name]; exists {
		return fmt.Errorf("trigger %q already registered", name)
	}
	r.triggers[name] = t
	return nil
}

// RegisterProvider adds an OAuth provider; duplicate names are rejected.
func (r *Registry) RegisterProvider(p OAuthProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.Name()]; exists {
		return fmt.Errorf("provider %q already registered", p.Name())
	}
	r.providers[p.Name()] = p
	return nil
}

// Tool looks up a tool by name.
func (r *Registry) Tool(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Trigger looks up a trigger by name.
func (r *Registry) Trigger(name string) (Trigger, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.triggers[name]
	return t, ok
}

// Provider looks up an OAuth provider by name.
func (r *Registry) Provider(name string) (OAuthProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// TriggerNames returns the registered trigger names, sorted.
func (r *Registry) TriggerNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.triggers))
	for name := range r.triggers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
