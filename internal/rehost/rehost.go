// Package rehost copies unstable image references into the object store and
// hands back stable proxy URLs.
package rehost

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pageforge/internal/domain"
	"pageforge/internal/imagegen"
	"pageforge/internal/infra"
)

const defaultMaxBytes = 20 << 20

type Options struct {
	Store domain.ObjectStore
	// BaseURL is the public prefix objects are served under, e.g. https://host/assets.
	BaseURL    string
	TTL        time.Duration
	HTTPClient *http.Client
	MaxBytes   int64
	Logger     *infra.Logger
}

// Rehoster converts inline bytes and expiring URLs into stable URLs.
type Rehoster struct {
	store    domain.ObjectStore
	baseURL  string
	ttl      time.Duration
	client   *http.Client
	maxBytes int64
	logger   *infra.Logger
}

func New(opts Options) *Rehoster {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Rehoster{
		store:    opts.Store,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		ttl:      opts.TTL,
		client:   client,
		maxBytes: maxBytes,
		logger:   infra.OrDiscard(opts.Logger),
	}
}

// Key is the deterministic object key for one slot of one job.
func Key(jobID string, index int, label, mime string) string {
	return fmt.Sprintf("job/%s/%d-%s%s", jobID, index, Slug(label), extensionForMIME(mime))
}

// NeedsRehost reports whether ref is unstable.
func NeedsRehost(ref domain.ImageRef) bool {
	if ref.Empty() {
		return false
	}
	return ref.Inline() || ref.Ephemeral
}

// Rehost returns a stable URL for ref. Durable HTTP URLs pass through. On any
// failure it returns the original URL when that is HTTP, otherwise a
// placeholder image; it never fails the caller.
func (r *Rehoster) Rehost(ctx context.Context, ref domain.ImageRef, jobID string, index int, label string) string {
	if !NeedsRehost(ref) {
		return ref.Src()
	}
	stable, err := r.rehost(ctx, ref, jobID, index, label)
	if err == nil {
		return stable
	}
	r.logger.Warn().Err(err).Str("job_id", jobID).Int("index", index).Msg("rehost failed, keeping original reference")
	if ref.IsHTTP() {
		return ref.URL
	}
	fallback, _ := imagegen.NewPlaceholderProvider().Generate(ctx, label, imagegen.Config{})
	return fallback.Src()
}

func (r *Rehoster) rehost(ctx context.Context, ref domain.ImageRef, jobID string, index int, label string) (string, error) {
	if r.store == nil {
		return "", &domain.AssetError{Key: jobID, Err: errors.New("no object store configured")}
	}
	data, mime, err := r.load(ctx, ref)
	if err != nil {
		return "", &domain.AssetError{Key: jobID, Err: err}
	}
	key := Key(jobID, index, label, mime)
	obj, err := r.store.Put(ctx, key, data, mime, r.ttl)
	if err != nil {
		return "", &domain.AssetError{Key: key, Err: err}
	}
	r.logger.Debug().Str("key", obj.Key).Int64("size", obj.Size).Time("expires_at", obj.ExpiresAt).Msg("image rehosted")
	return r.baseURL + "/" + obj.Key, nil
}

func (r *Rehoster) load(ctx context.Context, ref domain.ImageRef) ([]byte, string, error) {
	if len(ref.Data) > 0 {
		return ref.Data, defaultMIME(ref.MIME), nil
	}
	if strings.HasPrefix(strings.ToLower(ref.URL), "data:") {
		return DecodeDataURI(ref.URL)
	}
	return r.download(ctx, ref.URL)
}

func (r *Rehoster) download(ctx context.Context, rawURL string) ([]byte, string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, "", fmt.Errorf("unsupported image url %q", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > r.maxBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", r.maxBytes)
	}
	return data, defaultMIME(resp.Header.Get("Content-Type")), nil
}

// DecodeDataURI parses a base64 data: URI.
func DecodeDataURI(uri string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(uri), "data:")
	if !ok {
		return nil, "", errors.New("not a data uri")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", errors.New("malformed data uri")
	}
	if !strings.HasSuffix(strings.ToLower(meta), ";base64") {
		return nil, "", errors.New("data uri is not base64")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode data uri: %w", err)
	}
	return data, defaultMIME(meta[:len(meta)-len(";base64")]), nil
}

// RefFromSrc rebuilds an ImageRef from a src attribute in a stored snapshot.
func RefFromSrc(src string, ephemeral bool) domain.ImageRef {
	if data, mime, err := DecodeDataURI(src); err == nil {
		return domain.ImageRef{Data: data, MIME: mime}
	}
	return domain.ImageRef{URL: src, Ephemeral: ephemeral}
}

func defaultMIME(mime string) string {
	mime = strings.TrimSpace(strings.Split(mime, ";")[0])
	if mime == "" {
		return "image/png"
	}
	return mime
}
