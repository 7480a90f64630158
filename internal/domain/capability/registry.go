package capability

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps capability names to descriptors. It is read-mostly:
// lookups run on every round while hot-add/remove are rare, so a RWMutex
// guards the maps. Changes affect only future lookups; in-flight
// sessions holding a SessionCopy are unaffected.
type Registry struct {
	mu           sync.RWMutex
	caps         map[string]Descriptor
	instructions map[string]string // group -> usage instructions
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		caps:         make(map[string]Descriptor),
		instructions: make(map[string]string),
	}
}

// Add registers a capability. Registering an existing name replaces it.
func (r *Registry) Add(d Descriptor) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("register capability: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps[d.Name] = d
	return nil
}

// Remove unregisters a capability, reporting whether it existed.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.caps[name]
	delete(r.caps, name)
	return ok
}

// Get looks up one capability by name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.caps[name]
	return d, ok
}

// List returns all capabilities sorted by name.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.caps))
	for _, d := range r.caps {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ByGroups returns capabilities whose group is in the given set,
// sorted by name.
func (r *Registry) ByGroups(groups ...string) []Descriptor {
	want := make(map[string]bool, len(groups))
	for _, g := range groups {
		want[g] = true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Descriptor
	for _, d := range r.caps {
		if want[d.Group] {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Groups returns the distinct group tags present, sorted.
func (r *Registry) Groups() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	for _, d := range r.caps {
		seen[d.Group] = true
	}
	out := make([]string, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// SetGroupInstructions stores the usage instructions injected once per
// session before a group's first result.
func (r *Registry) SetGroupInstructions(group, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instructions[group] = text
}

// GroupInstructions returns the usage instructions for a group, if any.
func (r *Registry) GroupInstructions(group string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.instructions[group]
}

// SessionCopy returns a detached copy of the registry for one session.
// The copy shares handlers but not the maps, so hot-add/remove on the
// base registry never mutates a running session's view, and the session
// may overlay its own scoped handlers without leaking them back.
func (r *Registry) SessionCopy() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cp := NewRegistry()
	for name, d := range r.caps {
		cp.caps[name] = d
	}
	for g, text := range r.instructions {
		cp.instructions[g] = text
	}
	return cp
}
