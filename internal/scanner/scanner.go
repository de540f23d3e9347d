package scanner

import (
	"context"
	"fmt"
	"sort"

	"TournamentScanner/internal/domain"
)

// Variant is a named page-fetching strategy (plain HTTP, headless browser, ...).
type Variant interface {
	Name() string
	Fetch(ctx context.Context, page domain.PageKey) ([]byte, error)
}

// Registry keeps a mapping from variant names to their implementations.
type Registry struct {
	variants map[string]Variant
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{variants: map[string]Variant{}}
}

// Register adds or replaces a variant implementation.
func (r *Registry) Register(variant Variant) {
	if r.variants == nil {
		r.variants = map[string]Variant{}
	}
	r.variants[variant.Name()] = variant
}

// Resolve returns a variant by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Variant, error) {
	if variant, ok := r.variants[name]; ok {
		return variant, nil
	}
	return nil, fmt.Errorf("scraper %q is not registered (available: %v)", name, r.Names())
}

// Names lists registered variants in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.variants))
	for name := range r.variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
