package domain

import (
	"encoding/base64"
	"strings"
)

// ImageRef is the normalized result of any image provider: either a directly
// usable URL or inline bytes with a MIME type.
type ImageRef struct {
	URL      string
	Data     []byte
	MIME     string
	Provider string
	// Ephemeral marks URLs known to expire quickly.
	Ephemeral bool
	// Placeholder marks the static fallback image.
	Placeholder bool
}

// Inline reports whether the reference carries embedded bytes.
func (r ImageRef) Inline() bool {
	return len(r.Data) > 0 || strings.HasPrefix(strings.ToLower(r.URL), "data:")
}

// Empty reports whether the reference cannot be rendered.
func (r ImageRef) Empty() bool {
	return len(r.Data) == 0 && strings.TrimSpace(r.URL) == ""
}

// IsHTTP reports whether the reference is a plain http(s) URL.
func (r ImageRef) IsHTTP() bool {
	lower := strings.ToLower(strings.TrimSpace(r.URL))
	return len(r.Data) == 0 && (strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://"))
}

// Src renders the reference as an img src attribute value.
func (r ImageRef) Src() string {
	if len(r.Data) > 0 {
		mime := r.MIME
		if mime == "" {
			mime = "image/png"
		}
		return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(r.Data)
	}
	return strings.TrimSpace(r.URL)
}
