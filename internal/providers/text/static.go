package text

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

const staticProviderName = "static"

// StaticGenerator renders a deterministic page from the brief without any
// network call. Test mode submissions use it.
type StaticGenerator struct{}

func NewStaticGenerator() *StaticGenerator { return &StaticGenerator{} }

func (StaticGenerator) Name() string { return staticProviderName }

func (StaticGenerator) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	title := strings.TrimSpace(req.Page.Title)
	if title == "" {
		title = "Welcome"
	}
	theme := strings.TrimSpace(req.Page.Theme)
	if theme == "" {
		theme = "#2b6cb0"
	}
	brief := strings.TrimSpace(req.Prompt)
	images := req.Page.MaxImages
	if images <= 0 || images > 3 {
		images = 3
	}
	sections := []string{"hero", "feature", "closing"}

	sb := &strings.Builder{}
	fmt.Fprintf(sb, "<!DOCTYPE html>\n<html lang=\"%s\">\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n", html.EscapeString(coalesceLang(req.Page.Language)), html.EscapeString(title))
	fmt.Fprintf(sb, "<style>body{font-family:sans-serif;margin:0}header{background:%s;color:#fff;padding:2rem}section{padding:1.5rem}img{max-width:100%%}</style>\n</head>\n<body>\n", html.EscapeString(theme))
	fmt.Fprintf(sb, "<header><h1>%s</h1><p>%s</p></header>\n", html.EscapeString(title), html.EscapeString(brief))
	for i := 0; i < images; i++ {
		fmt.Fprintf(sb, "<section class=\"%s\">[[IMAGE: %s, %s image]]</section>\n", sections[i], html.EscapeString(brief), sections[i])
	}
	sb.WriteString("<footer><p>Generated page</p></footer>\n</body>\n</html>")
	return sb.String(), nil
}

var _ Generator = StaticGenerator{}
