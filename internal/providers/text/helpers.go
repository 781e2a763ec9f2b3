package text

import (
	"fmt"
	"strings"

	"pageforge/internal/domain"
)

const systemPrompt = "You write complete, self-contained HTML5 landing pages with inline CSS. " +
	"Reply with HTML only, no commentary and no markdown fences. " +
	"Wherever an image belongs, write [[IMAGE: short visual description]] instead of an <img> tag."

func buildUserPrompt(req Request) string {
	p := req.Page
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "Brief: %s\n", strings.TrimSpace(req.Prompt))
	if p.Title != "" {
		fmt.Fprintf(sb, "Page title: %s\n", p.Title)
	}
	fmt.Fprintf(sb, "Language: %s\n", coalesceLang(p.Language))
	if p.Theme != "" {
		fmt.Fprintf(sb, "Primary colour: %s\n", p.Theme)
	}
	if p.MaxImages > 0 {
		fmt.Fprintf(sb, "Use at most %d images.\n", p.MaxImages)
	}
	return sb.String()
}

func coalesceLang(lang string) string {
	if lang = strings.TrimSpace(lang); lang != "" {
		return lang
	}
	return "en"
}

// extractHTML strips markdown fences and chatter around the document.
func extractHTML(raw string) string {
	text := trimCodeFence(raw)
	lower := strings.ToLower(text)
	if i := strings.Index(lower, "<!doctype"); i > 0 {
		text = text[i:]
	} else if i := strings.Index(lower, "<html"); i > 0 {
		text = text[i:]
	}
	if i := strings.LastIndex(strings.ToLower(text), "</html>"); i >= 0 {
		text = text[:i+len("</html>")]
	}
	return strings.TrimSpace(text)
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```html")
	trimmed = strings.TrimPrefix(trimmed, "```HTML")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

func temperature(cfg domain.TextProviderConfig, fallback float64) float64 {
	if cfg.Temperature > 0 {
		return cfg.Temperature
	}
	return fallback
}
