package articles

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/hitoshi/articles/internal/model"
)

// fetchOrchestrator implements fetchFeedArticles/findOrFetchFeedArticles:
// cache lookup, fetch-on-miss, parse via B/C, write-through, and the two
// fallback ladders (HTML RSS-link discovery, then /feed and /rss retries)
// (§4.G).
type fetchOrchestrator struct {
	fetcher Fetcher
	parser  *xmlParser
	builder *articleBuilder
	cache   *cacheLayer
	logger  *slog.Logger
	metrics MetricsSink
}

func newFetchOrchestrator(fetcher Fetcher, parser *xmlParser, builder *articleBuilder, cache *cacheLayer, logger *slog.Logger, metrics MetricsSink) *fetchOrchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetricsSink{}
	}
	return &fetchOrchestrator{fetcher: fetcher, parser: parser, builder: builder, cache: cache, logger: logger, metrics: metrics}
}

// FetchFeedArticles is §4.G's fetchFeedArticles.
func (o *fetchOrchestrator) FetchFeedArticles(ctx context.Context, feedURL string, opts FetchArticlesOptions) (*FetchArticlesResult, error) {
	return o.fetch(ctx, feedURL, feedURL, opts)
}

func (o *fetchOrchestrator) fetch(ctx context.Context, lookupURL, feedURL string, opts FetchArticlesOptions) (*FetchArticlesResult, error) {
	if cached, ok, err := o.cache.Get(ctx, feedURL, opts); err != nil {
		return nil, err
	} else if ok {
		o.metrics.RecordCacheHit(feedURL)
		if err := o.cache.RefreshTtl(ctx, feedURL, opts); err != nil {
			return nil, err
		}
		return &FetchArticlesResult{Output: cached, URL: feedURL}, nil
	}
	o.metrics.RecordCacheMiss(feedURL)

	fetchOpts := FetchOptions{
		ExecuteFetchIfNotInCache: true,
		ExecuteFetch:             true,
		LookupDetails:            opts.RequestLookupDetails,
	}
	resp, err := o.fetcher.Fetch(ctx, lookupURL, fetchOpts)
	if err != nil {
		return nil, err
	}
	if resp == nil || resp.Body == nil {
		return &FetchArticlesResult{Output: nil, URL: feedURL}, nil
	}

	items, err := o.parser.Parse(ctx, resp.Body)
	if err != nil {
		if model.IsKind(err, model.ErrKindInvalidFeed) && opts.FindRssFromHtml {
			if resolved, ok := extractRssFromHtml(resp.Body, feedURL); ok {
				result, ferr := o.fetch(ctx, resolved, resolved, opts)
				if ferr != nil {
					return nil, ferr
				}
				o.metrics.RecordHtmlFallback(feedURL)
				result.AttemptedToResolveFromHtml = true
				return result, nil
			}
		}
		return nil, err
	}

	articles, err := o.builder.Build(ctx, items, FlattenOptions{
		FormatOptions:          opts.FormatOptions,
		UseParserRules:         opts.UseParserRules,
		ExternalFeedProperties: opts.ExternalFeedProperties,
	})
	if err != nil {
		return nil, err
	}

	if err := o.cache.Set(ctx, feedURL, opts, articles, false); err != nil {
		return nil, err
	}

	return &FetchArticlesResult{Output: articles, URL: feedURL}, nil
}

// FindOrFetchFeedArticles is §4.G's findOrFetchFeedArticles: on InvalidFeed,
// retries against origin+pathname stripped of a trailing slash, with /feed
// and /rss appended in turn. Any success short-circuits; otherwise the
// original error propagates.
func (o *fetchOrchestrator) FindOrFetchFeedArticles(ctx context.Context, feedURL string, opts FetchArticlesOptions) (*FetchArticlesResult, error) {
	result, err := o.FetchFeedArticles(ctx, feedURL, opts)
	if err == nil {
		return result, nil
	}
	if !model.IsKind(err, model.ErrKindInvalidFeed) {
		return nil, err
	}

	base, perr := candidateBase(feedURL)
	if perr != nil {
		return nil, err
	}

	for _, suffix := range []string{"/feed", "/rss"} {
		candidate := base + suffix
		result, rerr := o.FetchFeedArticles(ctx, candidate, opts)
		if rerr == nil {
			return result, nil
		}
		if !model.IsKind(rerr, model.ErrKindInvalidFeed) {
			return nil, rerr
		}
	}

	return nil, err
}

// candidateBase strips the trailing slash from origin+pathname.
func candidateBase(feedURL string) (string, error) {
	u, err := url.Parse(feedURL)
	if err != nil {
		return "", fmt.Errorf("parse feed url: %w", err)
	}
	base := u.Scheme + "://" + u.Host + u.Path
	return strings.TrimSuffix(base, "/"), nil
}

// extractRssFromHtml parses body as HTML and looks for
// <link type="application/rss+xml" href="...">, resolving a relative href
// (one beginning with "/") against pageURL's origin (§4.G step 5).
func extractRssFromHtml(body []byte, pageURL string) (string, bool) {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return "", false
	}

	href, ok := findRssLink(doc)
	if !ok {
		return "", false
	}
	if strings.HasPrefix(href, "/") {
		u, err := url.Parse(pageURL)
		if err != nil {
			return "", false
		}
		return u.Scheme + "://" + u.Host + href, true
	}
	return href, true
}

func findRssLink(n *html.Node) (string, bool) {
	if n.Type == html.ElementNode && n.Data == "link" {
		var typ, href string
		for _, a := range n.Attr {
			switch a.Key {
			case "type":
				typ = a.Val
			case "href":
				href = a.Val
			}
		}
		if typ == "application/rss+xml" && href != "" {
			return href, true
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if href, ok := findRssLink(c); ok {
			return href, true
		}
	}
	return "", false
}
