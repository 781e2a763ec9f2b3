package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pageforge/internal/domain"
	"pageforge/internal/infra"
	"pageforge/internal/providers"
)

const qwenProviderName = "qwen"

type QwenOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// QwenProvider calls DashScope's multimodal generation endpoint. Result URLs
// are signed OSS links that expire within a day.
type QwenProvider struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
	logger  *infra.Logger
}

type qwenRequest struct {
	Model      string     `json:"model"`
	Input      qwenInput  `json:"input"`
	Parameters qwenParams `json:"parameters"`
}

type qwenInput struct {
	Messages []qwenMessage `json:"messages"`
}

type qwenMessage struct {
	Role    string        `json:"role"`
	Content []qwenContent `json:"content"`
}

type qwenContent struct {
	Text string `json:"text,omitempty"`
}

type qwenParams struct {
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Size           string `json:"size,omitempty"`
	Seed           int64  `json:"seed,omitempty"`
	Watermark      bool   `json:"watermark"`
	PromptExtend   bool   `json:"prompt_extend"`
}

type qwenResponse struct {
	Output struct {
		Choices []struct {
			Message struct {
				Content []struct {
					Image string `json:"image"`
				} `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func NewQwenProvider(opts QwenOptions) *QwenProvider {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 90 * time.Second}
	}
	return &QwenProvider{
		apiKey:  strings.TrimSpace(opts.APIKey),
		baseURL: providers.Coalesce(opts.BaseURL, "https://dashscope-intl.aliyuncs.com/api/v1"),
		model:   providers.Coalesce(opts.Model, "qwen-image-plus"),
		client:  client,
		logger:  infra.OrDiscard(opts.Logger),
	}
}

func (p *QwenProvider) Name() string { return qwenProviderName }

func (p *QwenProvider) Configure(cfg Config) (Config, error) {
	cfg.APIKey, cfg.BaseURL = providers.Credentials(cfg.APIKey, cfg.BaseURL, p.apiKey, providers.Coalesce(cfg.serverBaseURL, p.baseURL))
	if cfg.APIKey == "" {
		return cfg, domain.ErrMissingAPIKey
	}
	cfg.Model = providers.Coalesce(cfg.Model, p.model)
	w, h := dimensions(cfg, 1328, 1328)
	cfg.Size = qwenSize(w, h)
	return cfg, nil
}

func (p *QwenProvider) Generate(ctx context.Context, description string, cfg Config) (domain.ImageRef, error) {
	if description == "" {
		return domain.ImageRef{}, providers.Malformed(qwenProviderName, errors.New("prompt is required"))
	}
	payload := qwenRequest{
		Model: cfg.Model,
		Input: qwenInput{Messages: []qwenMessage{{
			Role:    "user",
			Content: []qwenContent{{Text: description}},
		}}},
		Parameters: qwenParams{
			NegativePrompt: cfg.Options["negative_prompt"],
			Size:           cfg.Size,
			Seed:           seedFor(cfg, description),
			PromptExtend:   cfg.Options["prompt_extend"] == "true",
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.ImageRef{}, fmt.Errorf("qwen: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/services/aigc/multimodal-generation/generation", bytes.NewReader(body))
	if err != nil {
		return domain.ImageRef{}, fmt.Errorf("qwen: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.ImageRef{}, providers.ClassifyTransport(qwenProviderName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return domain.ImageRef{}, providers.ClassifyStatus(qwenProviderName, resp)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.ImageRef{}, providers.ClassifyTransport(qwenProviderName, err)
	}
	var decoded qwenResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return domain.ImageRef{}, providers.Malformed(qwenProviderName, err)
	}
	if decoded.Code != "" {
		kind := domain.ProviderUnavailable
		if strings.Contains(strings.ToLower(decoded.Code), "throttl") {
			kind = domain.ProviderRateLimited
		}
		return domain.ImageRef{}, domain.NewProviderError(qwenProviderName, kind, resp.StatusCode, fmt.Errorf("%s (%s)", decoded.Message, decoded.Code))
	}
	for _, choice := range decoded.Output.Choices {
		for _, content := range choice.Message.Content {
			if u := strings.TrimSpace(content.Image); u != "" {
				p.logger.Debug().Str("model", cfg.Model).Str("request_id", decoded.RequestID).Msg("qwen: generated image url")
				return domain.ImageRef{URL: u, Provider: qwenProviderName, Ephemeral: true}, nil
			}
		}
	}
	return domain.ImageRef{}, providers.Malformed(qwenProviderName, errors.New("empty image url"))
}

// qwenSize maps a target shape to a size DashScope accepts.
func qwenSize(w, h int) string {
	switch {
	case w*9 >= h*16:
		return "1664*928"
	case h*9 >= w*16:
		return "928*1664"
	case w*3 >= h*4:
		return "1472*1140"
	case h*3 >= w*4:
		return "1140*1472"
	default:
		return "1328*1328"
	}
}

var _ Provider = (*QwenProvider)(nil)
