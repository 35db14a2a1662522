// Package router resolves the ordered source chain used for each kind of
// lookup.
package router

import (
	"fmt"

	"github.com/larder-app/larder/pkg/sources"
)

// Routes names, in fallback order, the sources tried for each lookup kind.
// An empty list means every capable source in configuration order.
type Routes struct {
	Search []string `yaml:"search"`
	Code   []string `yaml:"code"`
}

// Router resolves route names against the configured sources.
type Router struct {
	sources []sources.Source
	index   map[string]sources.Source
	routes  Routes
}

// New creates a Router over srcs.
func New(srcs []sources.Source, routes Routes) *Router {
	index := make(map[string]sources.Source, len(srcs))
	for _, s := range srcs {
		index[s.Name()] = s
	}
	return &Router{sources: srcs, index: index, routes: routes}
}

// Searchers returns the ordered chain for free-text recipe search.
func (r *Router) Searchers() ([]sources.Searcher, error) {
	return resolve[sources.Searcher](r, "search", r.routes.Search)
}

// Resolvers returns the ordered chain for barcode and QR lookups.
func (r *Router) Resolvers() ([]sources.CodeResolver, error) {
	return resolve[sources.CodeResolver](r, "code", r.routes.Code)
}

func resolve[T sources.Source](r *Router, route string, names []string) ([]T, error) {
	if len(r.sources) == 0 {
		return nil, fmt.Errorf("no sources configured")
	}

	candidates := r.sources
	if len(names) > 0 {
		candidates = make([]sources.Source, 0, len(names))
		for _, name := range names {
			s, ok := r.index[name]
			if !ok {
				continue // skip unknown sources
			}
			candidates = append(candidates, s)
		}
	}

	var out []T
	for _, s := range candidates {
		if capable, ok := s.(T); ok {
			out = append(out, capable)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("route %q: no capable sources", route)
	}
	return out, nil
}
