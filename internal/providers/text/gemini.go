package text

import (
	"bytes"
	"context"
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

const (
	geminiProviderName   = "gemini"
	geminiDefaultTimeout = 90 * time.Second
	defaultGeminiModel   = "gemini-2.5-flash"
)

type GeminiOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

type GeminiGenerator struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	logger  *infra.Logger
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent         `json:"contents"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature    float64 `json:"temperature,omitempty"`
	CandidateCount int     `json:"candidateCount,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func NewGeminiGenerator(opts GeminiOptions) *GeminiGenerator {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: geminiDefaultTimeout}
	}
	return &GeminiGenerator{
		apiKey:  strings.TrimSpace(opts.APIKey),
		model:   providers.Coalesce(opts.Model, defaultGeminiModel),
		baseURL: strings.TrimRight(providers.Coalesce(opts.BaseURL, "https://generativelanguage.googleapis.com/v1beta"), "/"),
		client:  client,
		logger:  infra.OrDiscard(opts.Logger),
	}
}

func (g *GeminiGenerator) Name() string { return geminiProviderName }

func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (string, error) {
	apiKey, baseURL := providers.Credentials(req.Config.APIKey, req.Config.BaseURL, g.apiKey, g.baseURL)
	if apiKey == "" {
		return "", domain.NewProviderError(geminiProviderName, domain.ProviderAuthInvalid, 0, domain.ErrMissingAPIKey)
	}
	model := providers.Coalesce(req.Config.Model, g.model)
	payload := geminiRequest{
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: systemPrompt}}},
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: buildUserPrompt(req)}},
		}},
		GenerationConfig: &geminiGenerationConfig{Temperature: temperature(req.Config, 0.7), CandidateCount: 1},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return "", fmt.Errorf("encode gemini request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", baseURL, url.PathEscape(model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return "", fmt.Errorf("build gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", providers.ClassifyTransport(geminiProviderName, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return "", providers.ClassifyStatus(geminiProviderName, resp)
	}
	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", providers.Malformed(geminiProviderName, err)
	}
	var sb strings.Builder
	for _, cand := range out.Candidates {
		for _, part := range cand.Content.Parts {
			sb.WriteString(part.Text)
		}
		if sb.Len() > 0 {
			break
		}
	}
	doc := extractHTML(sb.String())
	if doc == "" {
		return "", providers.Malformed(geminiProviderName, errors.New("empty response"))
	}
	g.logger.Debug().Str("model", model).Int("bytes", len(doc)).Msg("gemini draft generated")
	return doc, nil
}

var _ Generator = (*GeminiGenerator)(nil)
