package articles

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hitoshi/articles/internal/security"
)

// HttpFetcher is the reference Fetcher: an SSRF-guarded HTTP client that
// declines to dial a socket the guard hasn't cleared, per the "Fetcher
// implementations must apply their own SSRF and size guards" contract
// (contracts.go).
type HttpFetcher struct {
	guard           security.SSRFGuardService
	client          *http.Client
	maxResponseSize int64
	userAgent       string
}

const (
	defaultFetchTimeout     = 15 * time.Second
	defaultMaxResponseBytes = 5 << 20 // 5 MiB
)

func NewHttpFetcher(guard security.SSRFGuardService, userAgent string) *HttpFetcher {
	if guard == nil {
		guard = security.NewSSRFGuard()
	}
	if userAgent == "" {
		userAgent = "articles-fetcher/1.0"
	}
	return &HttpFetcher{
		guard:           guard,
		client:          guard.NewSafeClient(defaultFetchTimeout, defaultMaxResponseBytes),
		maxResponseSize: defaultMaxResponseBytes,
		userAgent:       userAgent,
	}
}

// Fetch validates the URL, issues a GET through the SSRF-guarded client, and
// caps the response body read at maxResponseSize. A non-2xx status is
// returned as a plain error rather than a pending/no-body response, since it
// is not the "no body yet" case §4.G's contract expects.
func (f *HttpFetcher) Fetch(ctx context.Context, url string, opts FetchOptions) (*FetchResponse, error) {
	if err := f.guard.ValidateURL(url); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response body from %s: %w", url, err)
	}

	return &FetchResponse{Body: body, URL: resp.Request.URL.String()}, nil
}
