// Package text implements the text-generation capability that drafts page
// skeletons. Every provider receives its configuration per call.
package text

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"pageforge/internal/domain"
)

// Request is one drafting call.
type Request struct {
	Prompt string
	Page   domain.PageConfig
	Config domain.TextProviderConfig
}

// Generator drafts raw HTML for a brief.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// Registry maps provider identifiers to generators.
type Registry struct {
	mu   sync.RWMutex
	gens map[string]Generator
}

func NewRegistry(gens ...Generator) *Registry {
	r := &Registry{gens: map[string]Generator{}}
	for _, g := range gens {
		r.Register(g)
	}
	return r
}

// Register adds or replaces a generator under its Name.
func (r *Registry) Register(g Generator) {
	if g == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gens[strings.ToLower(g.Name())] = g
}

// Lookup returns the generator registered for name.
func (r *Registry) Lookup(name string) (Generator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.gens[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: text provider %q", domain.ErrUnknownProvider, name)
	}
	return g, nil
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.gens))
	for n := range r.gens {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
