package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
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

const openAIProviderName = "openai"

type OpenAIOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// OpenAIProvider calls the images API and returns the hosted URL. Those URLs
// expire after about an hour, so they are flagged ephemeral.
type OpenAIProvider struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
	logger  *infra.Logger
}

type openAIImageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
}

type openAIImageResponse struct {
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

func NewOpenAIProvider(opts OpenAIOptions) *OpenAIProvider {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &OpenAIProvider{
		apiKey:  strings.TrimSpace(opts.APIKey),
		baseURL: providers.Coalesce(opts.BaseURL, "https://api.openai.com/v1"),
		model:   providers.Coalesce(opts.Model, "dall-e-3"),
		client:  client,
		logger:  infra.OrDiscard(opts.Logger),
	}
}

func (p *OpenAIProvider) Name() string { return openAIProviderName }

func (p *OpenAIProvider) Configure(cfg Config) (Config, error) {
	cfg.APIKey, cfg.BaseURL = providers.Credentials(cfg.APIKey, cfg.BaseURL, p.apiKey, providers.Coalesce(cfg.serverBaseURL, p.baseURL))
	if cfg.APIKey == "" {
		return cfg, domain.ErrMissingAPIKey
	}
	cfg.Model = providers.Coalesce(cfg.Model, p.model)
	w, h := dimensions(cfg, 1024, 1024)
	cfg.Size = openAISize(w, h)
	return cfg, nil
}

func (p *OpenAIProvider) Generate(ctx context.Context, description string, cfg Config) (domain.ImageRef, error) {
	if description == "" {
		return domain.ImageRef{}, providers.Malformed(openAIProviderName, errors.New("description is required"))
	}
	body, err := json.Marshal(openAIImageRequest{
		Model:          cfg.Model,
		Prompt:         description,
		N:              1,
		Size:           cfg.Size,
		ResponseFormat: "url",
	})
	if err != nil {
		return domain.ImageRef{}, fmt.Errorf("openai: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/images/generations", bytes.NewReader(body))
	if err != nil {
		return domain.ImageRef{}, fmt.Errorf("openai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.ImageRef{}, providers.ClassifyTransport(openAIProviderName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return domain.ImageRef{}, providers.ClassifyStatus(openAIProviderName, resp)
	}
	var out openAIImageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.ImageRef{}, providers.Malformed(openAIProviderName, err)
	}
	for _, item := range out.Data {
		if u := strings.TrimSpace(item.URL); u != "" {
			p.logger.Debug().Str("model", cfg.Model).Msg("openai: generated image url")
			return domain.ImageRef{URL: u, Provider: openAIProviderName, Ephemeral: true}, nil
		}
		if item.B64JSON != "" {
			data, err := base64.StdEncoding.DecodeString(item.B64JSON)
			if err != nil {
				return domain.ImageRef{}, providers.Malformed(openAIProviderName, err)
			}
			return domain.ImageRef{Data: data, MIME: "image/png", Provider: openAIProviderName}, nil
		}
	}
	return domain.ImageRef{}, providers.Malformed(openAIProviderName, errors.New("no image in response"))
}

// openAISize picks the closest supported size token for the aspect ratio.
func openAISize(w, h int) string {
	switch {
	case w > h:
		return "1792x1024"
	case h > w:
		return "1024x1792"
	default:
		return "1024x1024"
	}
}

var _ Provider = (*OpenAIProvider)(nil)
