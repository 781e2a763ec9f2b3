// Package providers holds what the text and image provider clients share.
package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"pageforge/internal/domain"
)

// ClassifyStatus maps a non-2xx provider response to a ProviderError.
func ClassifyStatus(provider string, resp *http.Response) *domain.ProviderError {
	snippet := ""
	if resp.Body != nil {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		snippet = strings.TrimSpace(string(raw))
	}
	err := fmt.Errorf("%s status %d", provider, resp.StatusCode)
	if snippet != "" {
		err = fmt.Errorf("%s status %d: %s", provider, resp.StatusCode, snippet)
	}
	return domain.NewProviderError(provider, KindForStatus(resp.StatusCode), resp.StatusCode, err)
}

// KindForStatus maps an HTTP status to a provider error kind.
func KindForStatus(status int) domain.ProviderErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return domain.ProviderRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.ProviderAuthInvalid
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return domain.ProviderTimeout
	case status >= 400 && status < 500:
		return domain.ProviderMalformed
	default:
		return domain.ProviderUnavailable
	}
}

// ClassifyTransport wraps a failed round trip. Deadline errors become timeouts.
func ClassifyTransport(provider string, err error) *domain.ProviderError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return domain.NewProviderError(provider, domain.ProviderTimeout, 0, err)
	}
	return domain.NewProviderError(provider, domain.ProviderUnavailable, 0, err)
}

// Malformed reports an unusable response body.
func Malformed(provider string, err error) *domain.ProviderError {
	return domain.NewProviderError(provider, domain.ProviderMalformed, 0, err)
}

// Coalesce returns the first non-blank value, trimmed.
func Coalesce(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Credentials picks the key and endpoint for one provider call. A caller's
// base URL is only used together with the caller's own key; the server key
// is only ever sent to serverBase.
func Credentials(callerKey, callerBase, serverKey, serverBase string) (key, base string) {
	if key = strings.TrimSpace(callerKey); key != "" {
		return key, strings.TrimRight(Coalesce(callerBase, serverBase), "/")
	}
	return strings.TrimSpace(serverKey), strings.TrimRight(strings.TrimSpace(serverBase), "/")
}
