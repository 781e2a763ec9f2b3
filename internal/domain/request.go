package domain

import (
	"encoding/json"
	"strings"
)

// PageConfig describes the page the text model should draft.
type PageConfig struct {
	Title       string `json:"title,omitempty"`
	Language    string `json:"language,omitempty"`
	Theme       string `json:"theme,omitempty"`
	ImageWidth  int    `json:"imageWidth,omitempty"`
	ImageHeight int    `json:"imageHeight,omitempty"`
	MaxImages   int    `json:"maxImages,omitempty"`
	Rehost      bool   `json:"rehostImages,omitempty"`
}

// TextProviderConfig selects and configures the text-generation capability.
type TextProviderConfig struct {
	Provider    string  `json:"provider"`
	APIKey      string  `json:"apiKey,omitempty"`
	Model       string  `json:"model,omitempty"`
	BaseURL     string  `json:"baseUrl,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// ImageProviderConfig selects the primary image provider and its fallbacks.
type ImageProviderConfig struct {
	Provider  string            `json:"provider"`
	APIKey    string            `json:"apiKey,omitempty"`
	Model     string            `json:"model,omitempty"`
	BaseURL   string            `json:"baseUrl,omitempty"`
	Size      string            `json:"size,omitempty"`
	Seed      int64             `json:"seed,omitempty"`
	Fallbacks []string          `json:"fallbacks,omitempty"`
	Options   map[string]string `json:"options,omitempty"`
}

// GenerationRequest is the validated submission payload, stored write-once on the job.
type GenerationRequest struct {
	Prompt     string              `json:"prompt"`
	PageConfig PageConfig          `json:"pageConfig"`
	Text       TextProviderConfig  `json:"textProviderConfig"`
	Image      ImageProviderConfig `json:"imageProviderConfig"`
	TestMode   bool                `json:"testMode,omitempty"`
}

// Redacted returns a copy with credentials removed, suitable for logs.
func (r GenerationRequest) Redacted() GenerationRequest {
	out := r
	if out.Text.APIKey != "" {
		out.Text.APIKey = "***"
	}
	if out.Image.APIKey != "" {
		out.Image.APIKey = "***"
	}
	return out
}

// DecodeGenerationRequest reads a stored request payload.
func DecodeGenerationRequest(raw []byte) (GenerationRequest, error) {
	var req GenerationRequest
	if len(raw) == 0 {
		return req, &ValidationError{Fields: map[string]string{"payload": "empty"}}
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, err
	}
	req.Image.Provider = strings.TrimSpace(req.Image.Provider)
	req.Text.Provider = strings.TrimSpace(req.Text.Provider)
	return req, nil
}
