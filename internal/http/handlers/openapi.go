package handlers

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"html/template"
	"net/http"
	"sync"
)

//go:embed openapi.json
var openAPIDocument []byte

var docsPage = template.Must(template.New("docs").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}} {{.Version}}</title>
<style>body{margin:0}redoc{display:block;height:100vh}</style>
</head>
<body>
<redoc spec-url="{{.SpecURL}}"></redoc>
<script src="https://cdn.jsdelivr.net/npm/redoc@2.2.0/bundles/redoc.standalone.js"></script>
</body>
</html>`))

type apiDocs struct {
	Title   string
	Version string
	SpecURL string
	etag    string
}

var loadAPIDocs = sync.OnceValue(func() apiDocs {
	var head struct {
		Info struct {
			Title   string `json:"title"`
			Version string `json:"version"`
		} `json:"info"`
	}
	_ = json.Unmarshal(openAPIDocument, &head)
	sum := sha256.Sum256(openAPIDocument)
	return apiDocs{
		Title:   head.Info.Title,
		Version: head.Info.Version,
		SpecURL: "/v1/openapi.json",
		etag:    `"` + hex.EncodeToString(sum[:8]) + `"`,
	}
})

// OpenAPIJSON serves the embedded document with a content hash ETag.
func (a *App) OpenAPIJSON(w http.ResponseWriter, r *http.Request) {
	docs := loadAPIDocs()
	w.Header().Set("ETag", docs.etag)
	w.Header().Set("Cache-Control", "public, max-age=300")
	if r.Header.Get("If-None-Match") == docs.etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write(openAPIDocument)
}

func (a *App) OpenAPIDocs(w http.ResponseWriter, _ *http.Request) {
	var page bytes.Buffer
	if err := docsPage.Execute(&page, loadAPIDocs()); err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "render docs")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page.Bytes())
}
