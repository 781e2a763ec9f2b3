// Package htmldoc handles the image slots of generated pages: numbering
// placeholders in a skeleton, writing resolved images back to their slot, and
// repairing the final document structure.
package htmldoc

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// Scheme prefixes every placeholder src. A document containing it still has
// unresolved slots.
const Scheme = "placeholder://image-"

var (
	directiveRe = regexp.MustCompile(`(?is)\[\[\s*IMAGE\s*:\s*(.+?)\s*\]\]`)
	imgTagRe    = regexp.MustCompile(`(?is)<img\b[^>]*>`)
	attrRe      = regexp.MustCompile(`(?s)([a-zA-Z_:][-a-zA-Z0-9_:.]*)\s*=\s*(?:"([^"]*)"|'([^']*)')`)
	tokenRe     = regexp.MustCompile(`placeholder://image-\d+`)
	slotRe      = regexp.MustCompile(`(?is)\[\[\s*IMAGE\s*:\s*.+?\s*\]\]|<img\b[^>]*>`)
)

// Slot is one image position in a document.
type Slot struct {
	Index       int
	Description string
	Src         string
	// Ephemeral marks a src known to expire.
	Ephemeral bool
	// Static marks the built-in fallback image.
	Static bool
}

// Origin describes a resolved image written into a slot.
type Origin struct {
	Ephemeral bool
	Static    bool
}

// Normalize rewrites every [[IMAGE: ...]] directive and every pre-existing
// placeholder tag into a numbered placeholder tag, numbering from zero in
// document order. Directives past max are dropped; max <= 0 means no cap.
func Normalize(doc string, max int) (string, []Slot) {
	var slots []Slot
	next := 0
	emit := func(desc string) string {
		if max > 0 && next >= max {
			return ""
		}
		desc = strings.TrimSpace(desc)
		slot := Slot{Index: next, Description: desc, Src: placeholderSrc(next)}
		slots = append(slots, slot)
		next++
		return PlaceholderTag(slot.Index, desc)
	}

	out := slotRe.ReplaceAllStringFunc(doc, func(match string) string {
		if m := directiveRe.FindStringSubmatch(match); m != nil && strings.HasPrefix(match, "[[") {
			return emit(html.UnescapeString(m[1]))
		}
		attrs := parseAttrs(match)
		if !strings.HasPrefix(strings.ToLower(attrs["src"]), Scheme) {
			return match
		}
		return emit(attrs["alt"])
	})
	return out, slots
}

// PlaceholderTag renders the broken-image tag that stands in for an image
// until it is resolved.
func PlaceholderTag(index int, description string) string {
	return fmt.Sprintf(`<img src="%s" data-placeholder="%d" alt="%s" loading="lazy">`,
		placeholderSrc(index), index, html.EscapeString(description))
}

// Pending lists unresolved placeholder slots still present in doc.
func Pending(doc string) []Slot {
	var slots []Slot
	for _, tag := range imgTagRe.FindAllString(doc, -1) {
		attrs := parseAttrs(tag)
		idx, ok := placeholderIndex(attrs)
		if !ok {
			continue
		}
		slots = append(slots, Slot{Index: idx, Description: attrs["alt"], Src: attrs["src"]})
	}
	return slots
}

// Images lists resolved image slots, in document order.
func Images(doc string) []Slot {
	var slots []Slot
	for _, tag := range imgTagRe.FindAllString(doc, -1) {
		attrs := parseAttrs(tag)
		raw, ok := attrs["data-image"]
		if !ok {
			continue
		}
		idx, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		slots = append(slots, Slot{
			Index:       idx,
			Description: attrs["alt"],
			Src:         attrs["src"],
			Ephemeral:   attrs["data-ephemeral"] == "true",
			Static:      attrs["data-placeholder-image"] == "true",
		})
	}
	return slots
}

// Fill replaces the placeholder for index with a resolved image. It reports
// false when the slot is no longer pending.
func Fill(doc string, index int, src string, origin Origin) (string, bool) {
	found := false
	out := imgTagRe.ReplaceAllStringFunc(doc, func(tag string) string {
		if found {
			return tag
		}
		attrs := parseAttrs(tag)
		if idx, ok := placeholderIndex(attrs); !ok || idx != index {
			return tag
		}
		found = true
		return imageTag(index, src, attrs["alt"], "", origin)
	})
	return out, found
}

// SetSrc points an already resolved slot at a new, durable src.
func SetSrc(doc string, index int, src string) string {
	want := strconv.Itoa(index)
	return imgTagRe.ReplaceAllStringFunc(doc, func(tag string) string {
		attrs := parseAttrs(tag)
		if attrs["data-image"] != want {
			return tag
		}
		return imageTag(index, src, attrs["alt"], attrs["class"], Origin{})
	})
}

// MarkErrors swaps every remaining placeholder for a visible error marker so
// a failed document never carries raw placeholder tokens.
func MarkErrors(doc string) string {
	return imgTagRe.ReplaceAllStringFunc(doc, func(tag string) string {
		attrs := parseAttrs(tag)
		idx, ok := placeholderIndex(attrs)
		if !ok {
			return tag
		}
		return imageTag(idx, ErrorMarkerSrc(), "Image unavailable: "+attrs["alt"], "image-error", Origin{Static: true})
	})
}

// Scrub marks remaining placeholder images as errors and removes any stray
// placeholder token left in text or other attributes.
func Scrub(doc string) string {
	return tokenRe.ReplaceAllString(MarkErrors(doc), "")
}

// HasPlaceholders reports whether any placeholder token remains.
func HasPlaceholders(doc string) bool {
	return tokenRe.MatchString(doc)
}

// ErrorMarkerSrc is an inline SVG shown where an image could not be produced.
func ErrorMarkerSrc() string {
	svg := `<svg xmlns="http://www.w3.org/2000/svg" width="320" height="180" viewBox="0 0 320 180">` +
		`<rect width="320" height="180" fill="#fde8e8"/>` +
		`<path d="M140 70l40 40M180 70l-40 40" stroke="#c53030" stroke-width="8" stroke-linecap="round"/>` +
		`</svg>`
	return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(svg))
}

func imageTag(index int, src, alt, class string, origin Origin) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<img src="%s" data-image="%d" alt="%s"`, html.EscapeString(src), index, html.EscapeString(alt))
	if class != "" {
		fmt.Fprintf(&b, ` class="%s"`, html.EscapeString(class))
	}
	if origin.Ephemeral {
		b.WriteString(` data-ephemeral="true"`)
	}
	if origin.Static {
		b.WriteString(` data-placeholder-image="true"`)
	}
	b.WriteString(` loading="lazy">`)
	return b.String()
}

func placeholderSrc(index int) string {
	return Scheme + strconv.Itoa(index)
}

func placeholderIndex(attrs map[string]string) (int, bool) {
	src := attrs["src"]
	if !strings.HasPrefix(strings.ToLower(src), Scheme) {
		return 0, false
	}
	idx, err := strconv.Atoi(src[len(Scheme):])
	if err != nil {
		return 0, false
	}
	return idx, true
}

// parseAttrs returns lower-cased attribute names mapped to unescaped values.
func parseAttrs(tag string) map[string]string {
	attrs := map[string]string{}
	for _, m := range attrRe.FindAllStringSubmatch(tag, -1) {
		name := strings.ToLower(m[1])
		if _, seen := attrs[name]; seen {
			continue
		}
		val := m[2]
		if val == "" {
			val = m[3]
		}
		attrs[name] = html.UnescapeString(val)
	}
	return attrs
}
