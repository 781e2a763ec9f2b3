package imagegen

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"pageforge/internal/domain"
)

const placeholderProviderName = "placeholder"

// PlaceholderProvider renders a neutral inline SVG carrying the description.
// It makes no network calls and cannot fail.
type PlaceholderProvider struct{}

func NewPlaceholderProvider() *PlaceholderProvider { return &PlaceholderProvider{} }

func (PlaceholderProvider) Name() string { return placeholderProviderName }

func (PlaceholderProvider) Configure(cfg Config) (Config, error) { return cfg, nil }

func (PlaceholderProvider) Generate(_ context.Context, description string, cfg Config) (domain.ImageRef, error) {
	w, h := dimensions(cfg, 1024, 768)
	return placeholderRef(description, w, h), nil
}

func placeholderRef(description string, w, h int) domain.ImageRef {
	if w <= 0 || h <= 0 {
		w, h = 1024, 768
	}
	label := strings.TrimSpace(description)
	if r := []rune(label); len(r) > 60 {
		label = string(r[:57]) + "..."
	}
	svg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`+
		`<rect width="100%%" height="100%%" fill="#e2e8f0"/>`+
		`<text x="50%%" y="50%%" dominant-baseline="middle" text-anchor="middle" font-family="sans-serif" font-size="%d" fill="#4a5568">%s</text>`+
		`</svg>`, w, h, w, h, max(12, w/40), html.EscapeString(label))
	return domain.ImageRef{
		Data:        []byte(svg),
		MIME:        "image/svg+xml",
		Provider:    placeholderProviderName,
		Placeholder: true,
	}
}

var _ Provider = PlaceholderProvider{}
