// Package capability defines the descriptors and registry for the named
// operations the agent may invoke.
package capability

import (
	"context"
	"fmt"
)

// Handler executes one invocation. Implementations are expected not to
// return panics to the caller; the execution loop converts anything
// thrown into an error result as a safety net.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Descriptor describes one callable capability: its schema for the model
// and the handler that backs it.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"` // JSON schema
	Group       string         `json:"group"`                // owning category tag
	Handler     Handler        `json:"-"`
}

// Validate checks the descriptor has the required fields.
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("capability name is required")
	}
	if d.Handler == nil {
		return fmt.Errorf("capability %q: handler is required", d.Name)
	}
	if d.Group == "" {
		return fmt.Errorf("capability %q: group is required", d.Name)
	}
	return nil
}
