// Package toolprovider defines the port for external capability sources,
// such as MCP servers, whose tools are merged into the registry at startup.
package toolprovider

import (
	"context"

	"github.com/steward-ai/steward/internal/domain/capability"
)

// Provider discovers externally hosted capabilities.
type Provider interface {
	// Name identifies the provider, used as the capability group tag.
	Name() string

	// Discover lists the provider's capabilities with live handlers.
	Discover(ctx context.Context) ([]capability.Descriptor, error)

	// Close releases the provider's connection.
	Close() error
}
