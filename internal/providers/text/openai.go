package text

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pageforge/internal/domain"
	"pageforge/internal/infra"
	"pageforge/internal/providers"
)

const (
	openAIProviderName   = "openai"
	openAIDefaultTimeout = 90 * time.Second
	defaultOpenAIModel   = "gpt-4o-mini"
)

type OpenAIOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// OpenAIGenerator drafts pages with the chat completions API. Per-request
// configuration overrides the defaults given at construction.
type OpenAIGenerator struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	logger  *infra.Logger
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func NewOpenAIGenerator(opts OpenAIOptions) *OpenAIGenerator {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: openAIDefaultTimeout}
	}
	return &OpenAIGenerator{
		apiKey:  strings.TrimSpace(opts.APIKey),
		model:   providers.Coalesce(opts.Model, defaultOpenAIModel),
		baseURL: strings.TrimRight(providers.Coalesce(opts.BaseURL, "https://api.openai.com/v1"), "/"),
		client:  client,
		logger:  infra.OrDiscard(opts.Logger),
	}
}

func (o *OpenAIGenerator) Name() string { return openAIProviderName }

func (o *OpenAIGenerator) Generate(ctx context.Context, req Request) (string, error) {
	apiKey, baseURL := providers.Credentials(req.Config.APIKey, req.Config.BaseURL, o.apiKey, o.baseURL)
	if apiKey == "" {
		return "", domain.NewProviderError(openAIProviderName, domain.ProviderAuthInvalid, 0, domain.ErrMissingAPIKey)
	}
	payload := openAIChatRequest{
		Model:       providers.Coalesce(req.Config.Model, o.model),
		Temperature: temperature(req.Config, 0.7),
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildUserPrompt(req)},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return "", fmt.Errorf("encode openai request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", &buf)
	if err != nil {
		return "", fmt.Errorf("build openai request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	start := time.Now()
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", providers.ClassifyTransport(openAIProviderName, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return "", providers.ClassifyStatus(openAIProviderName, resp)
	}
	var out openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", providers.Malformed(openAIProviderName, err)
	}
	if len(out.Choices) == 0 {
		return "", providers.Malformed(openAIProviderName, errors.New("no choices"))
	}
	doc := extractHTML(out.Choices[0].Message.Content)
	if doc == "" {
		return "", providers.Malformed(openAIProviderName, errors.New("empty response"))
	}
	o.logger.Debug().Str("model", payload.Model).Dur("latency", time.Since(start)).Int("bytes", len(doc)).Msg("openai draft generated")
	return doc, nil
}

var _ Generator = (*OpenAIGenerator)(nil)
