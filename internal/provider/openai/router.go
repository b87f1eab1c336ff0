// ABOUTME: Routes generation requests to the backend serving the requested catalog model
// ABOUTME: Implements conversation.Model over a set of named backends

package openai

import (
	"context"
	"fmt"

	"github.com/2389/querynox/internal/catalog"
	"github.com/2389/querynox/internal/conversation"
)

// Router implements conversation.Model by resolving each request's model
// through the catalog to a backend and upstream model name.
type Router struct {
	catalog  *catalog.Catalog
	backends map[string]*Backend
}

// NewRouter creates a Router. backends is keyed by provider name.
func NewRouter(cat *catalog.Catalog, backends map[string]*Backend) *Router {
	return &Router{catalog: cat, backends: backends}
}

func (r *Router) resolve(model string) (*Backend, string, error) {
	entry, ok := r.catalog.Lookup(model)
	if !ok {
		return nil, "", fmt.Errorf("unknown model %q", model)
	}
	b, ok := r.backends[entry.Provider]
	if !ok {
		return nil, "", fmt.Errorf("provider %q for model %q is not configured", entry.Provider, model)
	}
	return b, entry.Upstream(), nil
}

// Generate runs a blocking completion.
func (r *Router) Generate(ctx context.Context, req conversation.GenerateRequest) (string, error) {
	b, upstream, err := r.resolve(req.Model)
	if err != nil {
		return "", err
	}
	return b.Complete(ctx, upstream, req.System, req.Messages)
}

// GenerateStream opens a streaming completion.
func (r *Router) GenerateStream(ctx context.Context, req conversation.GenerateRequest) (conversation.ChunkStream, error) {
	b, upstream, err := r.resolve(req.Model)
	if err != nil {
		return nil, err
	}
	return b.Stream(ctx, upstream, req.System, req.Messages)
}

var _ conversation.Model = (*Router)(nil)
