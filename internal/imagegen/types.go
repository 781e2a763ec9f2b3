// Package imagegen resolves image descriptions into renderable references.
// Providers are strategies registered by name; the dispatcher selects one per
// call and the fallback chain owns every retry, timeout and degradation rule.
package imagegen

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"pageforge/internal/domain"
)

// Config is the per-call provider configuration. It is built from the job's
// request and the provider chain defaults and never stored on a provider.
type Config struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
	Size     string
	Width    int
	Height   int
	Seed     int64
	Options  map[string]string

	// serverBaseURL is the operator's endpoint from the provider chain. It
	// never comes from a request.
	serverBaseURL string
}

// Provider is one image generation backend.
type Provider interface {
	Name() string
	// Configure fills provider defaults and rejects unusable configuration.
	Configure(cfg Config) (Config, error)
	Generate(ctx context.Context, description string, cfg Config) (domain.ImageRef, error)
}

// Registry maps provider identifiers to strategies.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: map[string]Provider{}}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a provider under its Name.
func (r *Registry) Register(p Provider) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[normalizeName(p.Name())] = p
}

func (r *Registry) Lookup(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[normalizeName(name)]
	if !ok {
		return nil, fmt.Errorf("%w: image provider %q", domain.ErrUnknownProvider, name)
	}
	return p, nil
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// dimensions resolves the target size from explicit width/height or a "WxH"
// (or DashScope "W*H") size token.
func dimensions(cfg Config, defW, defH int) (int, int) {
	if cfg.Width > 0 && cfg.Height > 0 {
		return cfg.Width, cfg.Height
	}
	size := strings.NewReplacer("*", "x", "X", "x").Replace(strings.TrimSpace(cfg.Size))
	if parts := strings.Split(size, "x"); len(parts) == 2 {
		w, errW := strconv.Atoi(strings.TrimSpace(parts[0]))
		h, errH := strconv.Atoi(strings.TrimSpace(parts[1]))
		if errW == nil && errH == nil && w > 0 && h > 0 {
			return w, h
		}
	}
	return defW, defH
}

// deterministicSeed derives a stable positive seed so the same description
// renders the same image across retries and resumed jobs.
func deterministicSeed(values ...any) int64 {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, fmt.Sprint(v))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	n := int64(binary.BigEndian.Uint32(sum[:4]) % 2147483647)
	if n <= 0 {
		n = 1
	}
	return n
}

func seedFor(cfg Config, description string) int64 {
	if cfg.Seed > 0 {
		return cfg.Seed
	}
	return deterministicSeed(cfg.Provider, description)
}
