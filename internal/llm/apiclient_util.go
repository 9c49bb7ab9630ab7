package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/version"
)

const (
	defaultHTTPTimeout = 120 * time.Second
	maxErrorBody       = 512
)

// postJSON sends body as JSON and decodes a 200 response into out. Any
// failure comes back already classified.
func postJSON(ctx context.Context, hc *http.Client, provider, url string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return domain.NewUpstreamError(domain.UpstreamMisconfigured, fmt.Errorf("%s: marshaling request: %w", provider, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return domain.NewUpstreamError(domain.UpstreamMisconfigured, fmt.Errorf("%s: creating request: %w", provider, err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return classifyTransport(ctx, provider, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyTransport(ctx, provider, err)
	}

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(provider, resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return domain.NewUpstreamError(domain.UpstreamTransient, fmt.Errorf("%s: parsing response: %w", provider, err))
	}
	return nil
}

// classifyTransport maps a failed round trip. A deadline on the caller's
// context is a timeout; anything else at the network layer is transient.
func classifyTransport(ctx context.Context, provider string, err error) error {
	cause := fmt.Errorf("%s: request failed: %w", provider, err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.NewUpstreamError(domain.UpstreamTimeout, cause)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return domain.NewUpstreamError(domain.UpstreamTimeout, cause)
	}
	if errors.Is(err, context.Canceled) {
		return domain.NewUpstreamError(domain.UpstreamUnavailable, cause)
	}
	return domain.NewUpstreamError(domain.UpstreamTransient, cause)
}

// classifyStatus maps a non-200 provider response.
func classifyStatus(provider string, status int, body []byte) error {
	cause := fmt.Errorf("%s: API error (%d): %s", provider, status, snippet(body))
	lower := strings.ToLower(string(body))

	var cat domain.UpstreamCategory
	switch {
	case status == http.StatusTooManyRequests:
		cat = domain.UpstreamRateLimited
		if strings.Contains(lower, "quota") || strings.Contains(lower, "billing") || strings.Contains(lower, "credit") {
			cat = domain.UpstreamQuotaExceeded
		}
	case status == http.StatusPaymentRequired:
		cat = domain.UpstreamQuotaExceeded
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		cat = domain.UpstreamTimeout
	case status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusNotFound:
		cat = domain.UpstreamMisconfigured
	case status == http.StatusBadRequest:
		cat = domain.UpstreamMisconfigured
		if strings.Contains(lower, "safety") || strings.Contains(lower, "blocked") {
			cat = domain.UpstreamSafetyBlocked
		}
	case status >= 500:
		// 500, 502, 503 and 529 (overloaded) are all worth retrying later.
		cat = domain.UpstreamTransient
	default:
		cat = domain.UpstreamUnavailable
	}
	return domain.NewUpstreamError(cat, cause)
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody] + "..."
	}
	return s
}

func emptyReply(provider, reason string) error {
	return domain.NewUpstreamError(domain.UpstreamTransient, fmt.Errorf("%s: empty reply (%s)", provider, reason))
}
