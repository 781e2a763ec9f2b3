package htmldoc

import (
	"strings"
	"testing"
)

func TestNormalizeNumbersDirectivesAndTags(t *testing.T) {
	doc := `<body><h1>Bakery</h1>[[IMAGE: fresh bread on a counter]]<p>x</p>` +
		`<img src="placeholder://image-7" alt="croissant &amp; coffee">[[image: storefront]]</body>`
	out, slots := Normalize(doc, 0)
	if len(slots) != 3 {
		t.Fatalf("got %d slots, want 3", len(slots))
	}
	want := []string{"fresh bread on a counter", "croissant & coffee", "storefront"}
	for i, s := range slots {
		if s.Index != i || s.Description != want[i] {
			t.Errorf("slot %d = %+v, want index %d desc %q", i, s, i, want[i])
		}
	}
	if strings.Contains(out, "[[") || strings.Contains(out, "image-7") {
		t.Fatalf("directives left in output: %s", out)
	}
	if got := Pending(out); len(got) != 3 || got[1].Description != "croissant & coffee" {
		t.Fatalf("Pending = %+v", got)
	}
}

func TestNormalizeCapsPlaceholders(t *testing.T) {
	out, slots := Normalize("[[IMAGE: a]][[IMAGE: b]][[IMAGE: c]]", 2)
	if len(slots) != 2 {
		t.Fatalf("got %d slots, want 2", len(slots))
	}
	if strings.Contains(out, "[[") || len(Pending(out)) != 2 {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestNormalizeLeavesOrdinaryImages(t *testing.T) {
	doc := `<img src="https://cdn.example.com/logo.png" alt="logo">`
	out, slots := Normalize(doc, 0)
	if out != doc || len(slots) != 0 {
		t.Fatalf("ordinary image rewritten: %s", out)
	}
}

func TestFillAndSetSrc(t *testing.T) {
	doc, _ := Normalize("[[IMAGE: one]][[IMAGE: two]]", 0)
	doc, ok := Fill(doc, 1, "https://img.example.com/2.png?a=1&b=2", Origin{Ephemeral: true})
	if !ok {
		t.Fatalf("Fill reported missing slot")
	}
	if _, ok := Fill(doc, 1, "https://other", Origin{}); ok {
		t.Fatalf("second Fill of the same slot should report false")
	}
	pending := Pending(doc)
	if len(pending) != 1 || pending[0].Index != 0 {
		t.Fatalf("Pending = %+v", pending)
	}
	images := Images(doc)
	if len(images) != 1 || images[0].Src != "https://img.example.com/2.png?a=1&b=2" || images[0].Description != "two" || !images[0].Ephemeral {
		t.Fatalf("Images = %+v", images)
	}
	doc = SetSrc(doc, 1, "https://stable.example.com/2.png")
	if got := Images(doc)[0]; got.Src != "https://stable.example.com/2.png" || got.Ephemeral {
		t.Fatalf("SetSrc did not apply: %s", doc)
	}
}

func TestMarkErrorsRemovesTokens(t *testing.T) {
	doc, _ := Normalize("<p>[[IMAGE: one]]</p>", 0)
	doc = MarkErrors(doc)
	if HasPlaceholders(doc) {
		t.Fatalf("placeholder token survived: %s", doc)
	}
	if !strings.Contains(doc, `class="image-error"`) {
		t.Fatalf("error marker missing: %s", doc)
	}
}

func TestRepairAddsMissingStructure(t *testing.T) {
	out, err := Repair(`<h1>Hello</h1><img src="https://x/y.png" data-image="0" alt="y">`, Meta{Title: "Bakery", Language: "fr"})
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	for _, want := range []string{"<!DOCTYPE html>", `<html lang="fr">`, `<meta charset="utf-8"/>`, `name="viewport"`, "<title>Bakery</title>", "<h1>Hello</h1>"} {
		if !strings.Contains(out, want) {
			t.Errorf("repaired document missing %q:\n%s", want, out)
		}
	}
	if p := Problems(out); len(p) != 0 {
		t.Fatalf("Problems after repair = %v", p)
	}
	if Images(out)[0].Src != "https://x/y.png" {
		t.Fatalf("image lost during repair: %s", out)
	}
}

func TestRepairKeepsExistingHead(t *testing.T) {
	in := `<!DOCTYPE html><html lang="de"><head><meta charset="utf-8"><title>Kept</title></head><body>x</body></html>`
	out, err := Repair(in, Meta{Title: "Other"})
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if strings.Count(out, "<title>") != 1 || !strings.Contains(out, "<title>Kept</title>") || !strings.Contains(out, `lang="de"`) {
		t.Fatalf("existing head overwritten:\n%s", out)
	}
	if strings.Count(out, "charset") != 1 {
		t.Fatalf("charset duplicated:\n%s", out)
	}
}

func TestProblems(t *testing.T) {
	p := Problems(`<p>[[IMAGE: x]]</p>`)
	if len(p) < 3 {
		t.Fatalf("Problems = %v", p)
	}
	doc, _ := Normalize("<p>[[IMAGE: x]]</p>", 0)
	found := false
	for _, msg := range Problems(doc) {
		if msg == "unresolved placeholders" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected unresolved placeholders problem")
	}
	if got := Problems("  "); len(got) != 1 {
		t.Fatalf("Problems(empty) = %v", got)
	}
}

func TestScrubRemovesStrayTokens(t *testing.T) {
	doc, _ := Normalize(`<p>see placeholder://image-9</p>[[IMAGE: a]]`, 0)
	doc = Scrub(doc)
	if HasPlaceholders(doc) {
		t.Fatalf("tokens survived scrub: %s", doc)
	}
	if !strings.Contains(doc, "image-error") {
		t.Fatalf("placeholder image not marked: %s", doc)
	}
}

func TestFillMarksStaticFallback(t *testing.T) {
	doc, _ := Normalize("[[IMAGE: one]][[IMAGE: two]]", 0)
	doc, _ = Fill(doc, 0, "data:image/svg+xml;base64,PHN2Zy8+", Origin{Static: true})
	doc, _ = Fill(doc, 1, "data:image/png;base64,iVBORw0K", Origin{})
	images := Images(doc)
	if len(images) != 2 || !images[0].Static || images[1].Static {
		t.Fatalf("Images = %+v", images)
	}
}
