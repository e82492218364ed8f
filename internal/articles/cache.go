package articles

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/hitoshi/articles/internal/model"
)

// cacheKeyPrefix prefixes every canonicalized cache key (§3).
const cacheKeyPrefix = "articles:com:"

// defaultCacheTTLSeconds is the TTL newCacheLayer falls back to when it is
// given a ttlSeconds of zero or less.
const defaultCacheTTLSeconds = 300

// canonicalCacheKeyOptions is the normalized options mapping serialized
// into the cache key (§4.D): only formatOptions, externalFeedProperties,
// and requestLookupDetails (reduced to just its Key) participate, and any
// field whose value is entirely absent is dropped via omitempty so
// encoding/json.Marshal alone produces the canonical byte sequence.
type canonicalCacheKeyOptions struct {
	FormatOptions          map[string]any `json:"formatOptions,omitempty"`
	ExternalFeedProperties map[string]any `json:"externalFeedProperties,omitempty"`
	RequestLookupDetails   *lookupKeyOnly `json:"requestLookupDetails,omitempty"`
}

type lookupKeyOnly struct {
	Key string `json:"key"`
}

type canonicalCacheKeyPayload struct {
	URL     string                    `json:"url"`
	Options canonicalCacheKeyOptions `json:"options"`
}

// canonicalCacheKey derives the deterministic cache key for a URL + options
// combination (§3, §4.D). Go map iteration order is randomized, but
// map[string]any values here come straight from caller-supplied
// FormatOptions/ExternalFeedProperties maps whose keys are re-marshaled by
// encoding/json, which always emits object keys in sorted order — so
// permuting the caller's insertion order yields identical bytes.
func canonicalCacheKey(url string, opts FetchArticlesOptions) (string, error) {
	normalized := canonicalCacheKeyOptions{
		FormatOptions:          opts.FormatOptions,
		ExternalFeedProperties: opts.ExternalFeedProperties,
	}
	if opts.RequestLookupDetails != nil {
		normalized.RequestLookupDetails = &lookupKeyOnly{Key: opts.RequestLookupDetails.Key}
	}

	payload := canonicalCacheKeyPayload{URL: url, Options: normalized}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal cache key payload: %w", err)
	}

	return cacheKeyPrefix + model.Sha1Hex(string(b)), nil
}

// cachedArticles is the JSON shape stored (after compression) in the KV
// store (§3, §6 wire format).
type cachedArticles struct {
	Articles []model.Article `json:"articles"`
}

// cacheLayer implements compressed get/set/exists/refresh-TTL/invalidate
// over an external CacheStore, keyed by canonicalCacheKey (§4.D).
type cacheLayer struct {
	store      CacheStore
	ttlSeconds int
}

// newCacheLayer wraps store. ttlSeconds <= 0 falls back to
// defaultCacheTTLSeconds.
func newCacheLayer(store CacheStore, ttlSeconds int) *cacheLayer {
	if ttlSeconds <= 0 {
		ttlSeconds = defaultCacheTTLSeconds
	}
	return &cacheLayer{store: store, ttlSeconds: ttlSeconds}
}

func (c *cacheLayer) Exists(ctx context.Context, url string, opts FetchArticlesOptions) (bool, error) {
	key, err := canonicalCacheKey(url, opts)
	if err != nil {
		return false, err
	}
	return c.store.Exists(ctx, key)
}

// Get returns the cached articles and true if present, or false if absent.
func (c *cacheLayer) Get(ctx context.Context, url string, opts FetchArticlesOptions) ([]model.Article, bool, error) {
	key, err := canonicalCacheKey(url, opts)
	if err != nil {
		return nil, false, err
	}
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	articles, err := decodeCacheValue(raw)
	if err != nil {
		return nil, false, fmt.Errorf("decode cache value: %w", err)
	}
	return articles, true, nil
}

// Set writes the given articles through to the cache with the configured
// TTL, unless useOldTTL is requested (in which case the existing TTL on the
// key is left as-is by the underlying CacheStore).
func (c *cacheLayer) Set(ctx context.Context, url string, opts FetchArticlesOptions, articles []model.Article, useOldTTL bool) error {
	key, err := canonicalCacheKey(url, opts)
	if err != nil {
		return err
	}
	body, err := encodeCacheValue(articles)
	if err != nil {
		return fmt.Errorf("encode cache value: %w", err)
	}
	return c.store.Set(ctx, key, body, c.ttlSeconds, useOldTTL)
}

func (c *cacheLayer) Invalidate(ctx context.Context, url string, opts FetchArticlesOptions) error {
	key, err := canonicalCacheKey(url, opts)
	if err != nil {
		return err
	}
	return c.store.Del(ctx, key)
}

// RefreshTtl bumps the TTL back to the configured ceiling without rewriting
// the value; it never extends past that ceiling (§4.D, §5).
func (c *cacheLayer) RefreshTtl(ctx context.Context, url string, opts FetchArticlesOptions) error {
	key, err := canonicalCacheKey(url, opts)
	if err != nil {
		return err
	}
	return c.store.SetExpire(ctx, key, c.ttlSeconds)
}

// encodeCacheValue produces base64(deflate(utf8(json))).
func encodeCacheValue(articles []model.Article) ([]byte, error) {
	payload, err := json.Marshal(cachedArticles{Articles: articles})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	encoded := make([]byte, base64.StdEncoding.EncodedLen(buf.Len()))
	base64.StdEncoding.Encode(encoded, buf.Bytes())
	return encoded, nil
}

// decodeCacheValue reverses encodeCacheValue.
func decodeCacheValue(raw []byte) ([]model.Article, error) {
	compressed := make([]byte, base64.StdEncoding.DecodedLen(len(raw)))
	n, err := base64.StdEncoding.Decode(compressed, raw)
	if err != nil {
		return nil, err
	}
	compressed = compressed[:n]

	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var decoded cachedArticles
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, err
	}
	return decoded.Articles, nil
}
