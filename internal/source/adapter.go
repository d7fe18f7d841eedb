// Package source defines the adapter interface the engine consumes and
// the built-in site adapters. The engine only ever calls the three
// Adapter operations; source-specific response shapes stay in here.
package source

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/hoardr-dl/hoardr/internal/engine/types"
)

// Media is the final fetchable form of a descriptor.
type Media struct {
	FetchURL string
	Filename string
}

// Pager is a lazy, page-by-page sequence of descriptors. Next returns the
// next batch; an empty batch with a nil error means the sequence is
// exhausted. The engine pulls pages only as fast as the queue drains.
type Pager interface {
	Next(ctx context.Context, client *http.Client) ([]types.Descriptor, error)
}

// Adapter turns a query into descriptors and descriptors into fetchable
// media for one source. Implementations must be safe for concurrent use;
// the HTTP client is supplied per call so the engine controls proxying.
type Adapter interface {
	Name() string

	// ResolveDirect maps an explicit URL to a descriptor, or
	// types.ErrNotFound.
	ResolveDirect(ctx context.Context, client *http.Client, rawurl string) (types.Descriptor, error)

	// Search starts a lazy enumeration of the query's results.
	Search(query types.Query) Pager

	// ResolveMedia extracts the fetch URL and filename from a
	// descriptor, or types.ErrGone when the content no longer resolves.
	ResolveMedia(ctx context.Context, client *http.Client, d types.Descriptor) (Media, error)
}

// Registry maps source identifiers to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its own name, replacing any previous
// registration.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get looks up an adapter by source identifier.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("unknown source %q", name)
	}
	return a, nil
}

// Names returns the registered source identifiers, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// pagerFunc adapts a function to the Pager interface.
type pagerFunc func(ctx context.Context, client *http.Client) ([]types.Descriptor, error)

func (f pagerFunc) Next(ctx context.Context, client *http.Client) ([]types.Descriptor, error) {
	return f(ctx, client)
}
