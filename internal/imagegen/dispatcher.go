package imagegen

import (
	"context"
	"errors"
	"strings"

	"pageforge/internal/domain"
	"pageforge/internal/infra"
)

// Generator is what the fallback chain calls for a single attempt.
type Generator interface {
	Generate(ctx context.Context, description string, cfg Config) (domain.ImageRef, error)
}

// Dispatcher selects the provider named by cfg and normalizes its result. It
// holds no per-request state.
type Dispatcher struct {
	registry *Registry
	chain    infra.ProviderChain
}

func NewDispatcher(registry *Registry, chain infra.ProviderChain) *Dispatcher {
	return &Dispatcher{registry: registry, chain: chain}
}

// Generate runs one provider attempt. Every failure is a *domain.ProviderError
// or wraps domain.ErrUnknownProvider.
func (d *Dispatcher) Generate(ctx context.Context, description string, cfg Config) (domain.ImageRef, error) {
	provider, err := d.registry.Lookup(cfg.Provider)
	if err != nil {
		return domain.ImageRef{}, err
	}
	cfg = d.withDefaults(cfg)
	cfg, err = provider.Configure(cfg)
	if err != nil {
		if errors.Is(err, domain.ErrMissingAPIKey) {
			return domain.ImageRef{}, domain.NewProviderError(provider.Name(), domain.ProviderAuthInvalid, 0, err)
		}
		return domain.ImageRef{}, domain.NewProviderError(provider.Name(), domain.ProviderMalformed, 0, err)
	}
	ref, err := provider.Generate(ctx, strings.TrimSpace(description), cfg)
	if err != nil {
		var pe *domain.ProviderError
		if errors.As(err, &pe) {
			return domain.ImageRef{}, err
		}
		if ctx.Err() != nil {
			return domain.ImageRef{}, domain.NewProviderError(provider.Name(), domain.ProviderTimeout, 0, err)
		}
		return domain.ImageRef{}, domain.NewProviderError(provider.Name(), domain.ProviderUnavailable, 0, err)
	}
	if ref.Empty() {
		return domain.ImageRef{}, domain.NewProviderError(provider.Name(), domain.ProviderMalformed, 0, errors.New("empty image reference"))
	}
	if ref.Provider == "" {
		ref.Provider = provider.Name()
	}
	return ref, nil
}

func (d *Dispatcher) withDefaults(cfg Config) Config {
	def := d.chain.Defaults(cfg.Provider)
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Size == "" {
		cfg.Size = def.Size
	}
	cfg.serverBaseURL = def.BaseURL
	if len(def.Options) > 0 {
		merged := make(map[string]string, len(def.Options)+len(cfg.Options))
		for k, v := range def.Options {
			merged[k] = v
		}
		for k, v := range cfg.Options {
			merged[k] = v
		}
		cfg.Options = merged
	}
	return cfg
}

var _ Generator = (*Dispatcher)(nil)
