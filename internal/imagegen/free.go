package imagegen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pageforge/internal/domain"
	"pageforge/internal/providers"
)

const (
	picsumProviderName       = "picsum"
	pollinationsProviderName = "pollinations"
)

// FreeOptions configures the key-less providers.
type FreeOptions struct {
	BaseURL    string
	HTTPClient *http.Client
}

// PicsumProvider picks a stock photo seeded by the description. The redirect
// target is a stable CDN URL.
type PicsumProvider struct {
	baseURL string
	client  *http.Client
}

func NewPicsumProvider(opts FreeOptions) *PicsumProvider {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &PicsumProvider{baseURL: providers.Coalesce(opts.BaseURL, "https://picsum.photos"), client: client}
}

func (p *PicsumProvider) Name() string { return picsumProviderName }

func (p *PicsumProvider) Configure(cfg Config) (Config, error) {
	cfg.BaseURL = strings.TrimRight(providers.Coalesce(cfg.BaseURL, cfg.serverBaseURL, p.baseURL), "/")
	cfg.Width, cfg.Height = dimensions(cfg, 1024, 768)
	return cfg, nil
}

func (p *PicsumProvider) Generate(ctx context.Context, description string, cfg Config) (domain.ImageRef, error) {
	seed := strconv.FormatInt(seedFor(cfg, description), 10)
	target := fmt.Sprintf("%s/seed/%s/%d/%d", cfg.BaseURL, seed, cfg.Width, cfg.Height)
	final, err := probeImage(ctx, p.client, picsumProviderName, target)
	if err != nil {
		return domain.ImageRef{}, err
	}
	return domain.ImageRef{URL: final, Provider: picsumProviderName}, nil
}

// PollinationsProvider renders an image from the description. The URL is
// deterministic for a given prompt, size and seed, so it is durable.
type PollinationsProvider struct {
	baseURL string
	client  *http.Client
}

func NewPollinationsProvider(opts FreeOptions) *PollinationsProvider {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &PollinationsProvider{baseURL: providers.Coalesce(opts.BaseURL, "https://image.pollinations.ai"), client: client}
}

func (p *PollinationsProvider) Name() string { return pollinationsProviderName }

func (p *PollinationsProvider) Configure(cfg Config) (Config, error) {
	cfg.BaseURL = strings.TrimRight(providers.Coalesce(cfg.BaseURL, cfg.serverBaseURL, p.baseURL), "/")
	cfg.Width, cfg.Height = dimensions(cfg, 1024, 768)
	cfg.Model = providers.Coalesce(cfg.Model, "flux")
	return cfg, nil
}

func (p *PollinationsProvider) Generate(ctx context.Context, description string, cfg Config) (domain.ImageRef, error) {
	if description == "" {
		return domain.ImageRef{}, providers.Malformed(pollinationsProviderName, errors.New("description is required"))
	}
	q := url.Values{}
	q.Set("width", strconv.Itoa(cfg.Width))
	q.Set("height", strconv.Itoa(cfg.Height))
	q.Set("seed", strconv.FormatInt(seedFor(cfg, description), 10))
	q.Set("model", cfg.Model)
	q.Set("nologo", "true")
	target := fmt.Sprintf("%s/prompt/%s?%s", cfg.BaseURL, url.PathEscape(description), q.Encode())
	if _, err := probeImage(ctx, p.client, pollinationsProviderName, target); err != nil {
		return domain.ImageRef{}, err
	}
	return domain.ImageRef{URL: target, Provider: pollinationsProviderName}, nil
}

// probeImage fetches target and checks that an image comes back. It returns
// the URL after redirects.
func probeImage(ctx context.Context, client *http.Client, provider, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", providers.Malformed(provider, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", providers.ClassifyTransport(provider, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", providers.ClassifyStatus(provider, resp)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(strings.ToLower(ct), "image/") {
		return "", providers.Malformed(provider, fmt.Errorf("unexpected content type %q", ct))
	}
	if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, 32<<20)); err != nil {
		return "", providers.ClassifyTransport(provider, err)
	}
	final := target
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	return final, nil
}

var (
	_ Provider = (*PicsumProvider)(nil)
	_ Provider = (*PollinationsProvider)(nil)
)
