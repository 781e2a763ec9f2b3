package imagegen

import (
	"pageforge/internal/domain"
	"pageforge/internal/infra"
)

// Plan derives the primary and fallback configurations for a request. The
// request's credentials only ever go to its primary provider.
func Plan(req domain.GenerationRequest, chain infra.ProviderChain) (Config, []Config) {
	primaryName := normalizeName(req.Image.Provider)
	if primaryName == "" {
		primaryName = chain.DefaultProvider
	}
	primary := Config{
		Provider: primaryName,
		APIKey:   req.Image.APIKey,
		Model:    req.Image.Model,
		BaseURL:  req.Image.BaseURL,
		Size:     req.Image.Size,
		Width:    req.PageConfig.ImageWidth,
		Height:   req.PageConfig.ImageHeight,
		Seed:     req.Image.Seed,
		Options:  req.Image.Options,
	}

	names := req.Image.Fallbacks
	if len(names) == 0 {
		names = chain.Fallbacks
	}
	seen := map[string]struct{}{primaryName: {}, placeholderProviderName: {}}
	var fallbacks []Config
	for _, n := range names {
		n = normalizeName(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		fallbacks = append(fallbacks, Config{
			Provider: n,
			Width:    primary.Width,
			Height:   primary.Height,
			Seed:     primary.Seed,
		})
	}
	return primary, fallbacks
}
