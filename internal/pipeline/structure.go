package pipeline

import (
	"context"
	"fmt"
	"strings"

	"pageforge/internal/domain"
	"pageforge/internal/htmldoc"
	"pageforge/internal/infra"
	"pageforge/internal/providers/text"
)

const testModeTextProvider = "static"

// Skeleton is the stage 1 result: a renderable page with numbered image
// placeholders in document order.
type Skeleton struct {
	HTML         string
	Placeholders []htmldoc.Slot
}

// StructureGenerator drafts the page skeleton through the text registry.
type StructureGenerator struct {
	texts           *text.Registry
	maxPlaceholders int
	logger          *infra.Logger
}

func NewStructureGenerator(texts *text.Registry, maxPlaceholders int, logger *infra.Logger) *StructureGenerator {
	return &StructureGenerator{texts: texts, maxPlaceholders: maxPlaceholders, logger: infra.OrDiscard(logger)}
}

// Generate calls the selected text provider and rewrites its image
// directives into numbered placeholder tags. Placeholders beyond the cap are
// dropped from the document.
func (g *StructureGenerator) Generate(ctx context.Context, req domain.GenerationRequest) (Skeleton, error) {
	provider := req.Text.Provider
	if req.TestMode {
		provider = testModeTextProvider
	}
	gen, err := g.texts.Lookup(provider)
	if err != nil {
		return Skeleton{}, err
	}

	raw, err := gen.Generate(ctx, text.Request{Prompt: req.Prompt, Page: req.PageConfig, Config: req.Text})
	if err != nil {
		return Skeleton{}, fmt.Errorf("draft structure with %s: %w", gen.Name(), err)
	}
	if strings.TrimSpace(raw) == "" {
		return Skeleton{}, domain.NewProviderError(gen.Name(), domain.ProviderMalformed, 0, fmt.Errorf("empty document"))
	}

	doc, slots := htmldoc.Normalize(raw, g.limit(req.PageConfig.MaxImages))
	g.logger.Debug().
		Str("text_provider", gen.Name()).
		Int("placeholders", len(slots)).
		Msg("page structure drafted")
	return Skeleton{HTML: doc, Placeholders: slots}, nil
}

func (g *StructureGenerator) limit(requested int) int {
	max := g.maxPlaceholders
	if requested > 0 && (max <= 0 || requested < max) {
		return requested
	}
	return max
}
