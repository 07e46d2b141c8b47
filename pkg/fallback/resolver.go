// Package fallback maps a failed route to a safe alternative using a
// configured route hierarchy, with the root route as the final resort.
package fallback

import "strings"

// Resolver answers "where should the user land instead" for a route
// that cannot be served. The hierarchy maps each route to its parent;
// anything unmapped falls back to the root.
type Resolver struct {
	root      string
	hierarchy map[string]string
}

// New creates a resolver. An empty root defaults to "/". The hierarchy
// may be nil, in which case every route resolves to the root.
func New(root string, hierarchy map[string]string) *Resolver {
	if root == "" {
		root = "/"
	}
	h := make(map[string]string, len(hierarchy))
	for k, v := range hierarchy {
		h[normalize(k)] = normalize(v)
	}
	return &Resolver{root: normalize(root), hierarchy: h}
}

// Root returns the final-resort route.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve returns the fallback for a route: its configured parent when
// one exists, the root otherwise. The root resolves to itself.
func (r *Resolver) Resolve(route string) string {
	route = normalize(route)
	if parent, ok := r.hierarchy[route]; ok {
		return parent
	}
	return r.root
}

// Chain returns the full fallback path from a route down to the root,
// excluding the route itself. Cycles in a misconfigured hierarchy are
// cut by refusing to revisit a route.
func (r *Resolver) Chain(route string) []string {
	route = normalize(route)
	seen := map[string]bool{route: true}
	var chain []string
	for route != r.root {
		route = r.Resolve(route)
		if seen[route] {
			break
		}
		seen[route] = true
		chain = append(chain, route)
	}
	return chain
}

// normalize strips a trailing slash so "/cart/" and "/cart" share a
// hierarchy entry. The bare root stays "/".
func normalize(route string) string {
	if route == "" {
		return "/"
	}
	if len(route) > 1 {
		route = strings.TrimRight(route, "/")
		if route == "" {
			route = "/"
		}
	}
	return route
}
