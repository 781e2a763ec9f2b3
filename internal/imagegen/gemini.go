package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pageforge/internal/domain"
	"pageforge/internal/infra"
	"pageforge/internal/providers"
)

const geminiProviderName = "gemini"

type GeminiOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// GeminiProvider returns inline image bytes from generateContent.
type GeminiProvider struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
	logger  *infra.Logger
}

type geminiImageRequest struct {
	Contents         []geminiImageContent   `json:"contents"`
	GenerationConfig geminiImageGenerateCfg `json:"generationConfig"`
}

type geminiImageContent struct {
	Role  string            `json:"role,omitempty"`
	Parts []geminiImagePart `json:"parts"`
}

type geminiImagePart struct {
	Text       string             `json:"text,omitempty"`
	InlineData *geminiInlineImage `json:"inlineData,omitempty"`
}

type geminiInlineImage struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiImageGenerateCfg struct {
	ResponseModalities []string `json:"responseModalities"`
	CandidateCount     int      `json:"candidateCount,omitempty"`
}

type geminiImageResponse struct {
	Candidates []struct {
		Content geminiImageContent `json:"content"`
	} `json:"candidates"`
}

func NewGeminiProvider(opts GeminiOptions) *GeminiProvider {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &GeminiProvider{
		apiKey:  strings.TrimSpace(opts.APIKey),
		baseURL: providers.Coalesce(opts.BaseURL, "https://generativelanguage.googleapis.com/v1beta"),
		model:   providers.Coalesce(opts.Model, "gemini-2.5-flash-image"),
		client:  client,
		logger:  infra.OrDiscard(opts.Logger),
	}
}

func (p *GeminiProvider) Name() string { return geminiProviderName }

func (p *GeminiProvider) Configure(cfg Config) (Config, error) {
	cfg.APIKey, cfg.BaseURL = providers.Credentials(cfg.APIKey, cfg.BaseURL, p.apiKey, providers.Coalesce(cfg.serverBaseURL, p.baseURL))
	if cfg.APIKey == "" {
		return cfg, domain.ErrMissingAPIKey
	}
	cfg.Model = providers.Coalesce(cfg.Model, p.model)
	return cfg, nil
}

func (p *GeminiProvider) Generate(ctx context.Context, description string, cfg Config) (domain.ImageRef, error) {
	if description == "" {
		return domain.ImageRef{}, providers.Malformed(geminiProviderName, errors.New("description is required"))
	}
	w, h := dimensions(cfg, 1024, 1024)
	prompt := fmt.Sprintf("Generate a photographic image, %dx%d pixels, no text overlay: %s", w, h, description)
	body, err := json.Marshal(geminiImageRequest{
		Contents:         []geminiImageContent{{Role: "user", Parts: []geminiImagePart{{Text: prompt}}}},
		GenerationConfig: geminiImageGenerateCfg{ResponseModalities: []string{"IMAGE"}, CandidateCount: 1},
	})
	if err != nil {
		return domain.ImageRef{}, fmt.Errorf("gemini: encode request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", cfg.BaseURL, url.PathEscape(cfg.Model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.ImageRef{}, fmt.Errorf("gemini: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.ImageRef{}, providers.ClassifyTransport(geminiProviderName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return domain.ImageRef{}, providers.ClassifyStatus(geminiProviderName, resp)
	}
	var out geminiImageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.ImageRef{}, providers.Malformed(geminiProviderName, err)
	}
	for _, cand := range out.Candidates {
		for _, part := range cand.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return domain.ImageRef{}, providers.Malformed(geminiProviderName, fmt.Errorf("decode inline data: %w", err))
			}
			p.logger.Debug().Str("model", cfg.Model).Int("bytes", len(data)).Msg("gemini: generated inline image")
			return domain.ImageRef{Data: data, MIME: providers.Coalesce(part.InlineData.MimeType, "image/png"), Provider: geminiProviderName}, nil
		}
	}
	return domain.ImageRef{}, providers.Malformed(geminiProviderName, errors.New("no inline image returned"))
}

var _ Provider = (*GeminiProvider)(nil)
