package canon

import (
	"context"
	"fmt"

	"github.com/roach88/kiln/internal/ir"
)

// ModuleResolver supplies already-fetched subgraphs for external module
// references. Fetching from a registry happens upstream.
type ModuleResolver interface {
	Resolve(ctx context.Context, module string) (*ir.Graph, error)
}

// MapResolver resolves modules from an in-memory table.
type MapResolver map[string]*ir.Graph

// Resolve implements ModuleResolver.
func (m MapResolver) Resolve(_ context.Context, module string) (*ir.Graph, error) {
	g, ok := m[module]
	if !ok {
		return nil, fmt.Errorf("module %q not available", module)
	}
	return g, nil
}
