package htmldoc

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Meta carries the document-level values Repair fills in when missing.
type Meta struct {
	Title    string
	Language string
}

// Repair parses doc and guarantees a doctype, an html lang attribute, and a
// head holding charset, viewport and title. Body content is left untouched
// apart from normalization by the parser.
func Repair(doc string, meta Meta) (string, error) {
	if strings.TrimSpace(doc) == "" {
		return "", errors.New("htmldoc: empty document")
	}
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return "", fmt.Errorf("htmldoc: parse: %w", err)
	}

	if findFirst(root, func(n *html.Node) bool { return n.Type == html.DoctypeNode }) == nil {
		root.InsertBefore(&html.Node{Type: html.DoctypeNode, Data: "html"}, root.FirstChild)
	}
	htmlEl := findElement(root, atom.Html)
	head := findElement(root, atom.Head)
	if htmlEl == nil || head == nil {
		return "", errors.New("htmldoc: parser produced no html/head element")
	}

	lang := strings.TrimSpace(meta.Language)
	if lang == "" {
		lang = "en"
	}
	if _, ok := attr(htmlEl, "lang"); !ok {
		htmlEl.Attr = append(htmlEl.Attr, html.Attribute{Key: "lang", Val: lang})
	}

	if findFirst(head, func(n *html.Node) bool {
		if n.DataAtom != atom.Meta {
			return false
		}
		_, ok := attr(n, "charset")
		return ok
	}) == nil {
		head.InsertBefore(element(atom.Meta, html.Attribute{Key: "charset", Val: "utf-8"}), head.FirstChild)
	}

	if findFirst(head, func(n *html.Node) bool {
		name, _ := attr(n, "name")
		return n.DataAtom == atom.Meta && strings.EqualFold(name, "viewport")
	}) == nil {
		head.AppendChild(element(atom.Meta,
			html.Attribute{Key: "name", Val: "viewport"},
			html.Attribute{Key: "content", Val: "width=device-width, initial-scale=1"},
		))
	}

	title := strings.TrimSpace(meta.Title)
	if title == "" {
		title = "Untitled page"
	}
	titleEl := findElement(head, atom.Title)
	if titleEl == nil {
		titleEl = element(atom.Title)
		head.AppendChild(titleEl)
	}
	if strings.TrimSpace(textContent(titleEl)) == "" {
		for c := titleEl.FirstChild; c != nil; c = titleEl.FirstChild {
			titleEl.RemoveChild(c)
		}
		titleEl.AppendChild(&html.Node{Type: html.TextNode, Data: title})
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return "", fmt.Errorf("htmldoc: render: %w", err)
	}
	return buf.String(), nil
}

// Problems lists structural defects Repair would fix. A nil result means the
// document is already well formed for delivery.
func Problems(doc string) []string {
	if strings.TrimSpace(doc) == "" {
		return []string{"empty document"}
	}
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return []string{"unparseable: " + err.Error()}
	}
	var out []string
	if findFirst(root, func(n *html.Node) bool { return n.Type == html.DoctypeNode }) == nil {
		out = append(out, "missing doctype")
	}
	head := findElement(root, atom.Head)
	if head == nil || findFirst(head, func(n *html.Node) bool {
		_, ok := attr(n, "charset")
		return n.DataAtom == atom.Meta && ok
	}) == nil {
		out = append(out, "missing charset")
	}
	if head == nil || findElement(head, atom.Title) == nil {
		out = append(out, "missing title")
	}
	if HasPlaceholders(doc) {
		out = append(out, "unresolved placeholders")
	}
	return out
}

func element(a atom.Atom, attrs ...html.Attribute) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String(), Attr: attrs}
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	return findFirst(n, func(c *html.Node) bool { return c.Type == html.ElementNode && c.DataAtom == a })
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func textContent(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}
