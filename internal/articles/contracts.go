// Package articles implements the feed-polling core: parsing, identity
// resolution, deduplication, caching, and delivery selection.
package articles

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/articles/internal/model"
)

// FetchOptions carries the out-of-band details a Fetcher may use instead of
// (or alongside) the raw URL.
type FetchOptions struct {
	ExecuteFetchIfNotInCache bool
	ExecuteFetch             bool
	LookupDetails            *LookupDetails
}

// LookupDetails is out-of-band keying info the Fetcher may use instead of the
// raw URL (e.g. hashed credentials scope). Only Key participates in cache key
// canonicalization.
type LookupDetails struct {
	Key   string
	Extra map[string]string
}

// FetchResponse is the Fetcher's result. Body is nil for a pending request
// (the caller treats a nil Body as "no result yet").
type FetchResponse struct {
	Body []byte
	URL  string
}

// Fetcher retrieves the raw bytes of a feed (or a candidate HTML page during
// RSS-link discovery). Implementations must apply their own SSRF and size
// guards; the core never dials a socket directly.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts FetchOptions) (*FetchResponse, error)
}

// CacheStore is the external KV store CacheLayer writes through. Keys are
// already-canonicalized cache keys; values are the compressed wire format.
type CacheStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, body []byte, expSeconds int, useOldTTL bool) error
	Del(ctx context.Context, key string) error
	SetExpire(ctx context.Context, key string, seconds int) error
}

// FlattenOptions is passed through to the external Flattener unchanged.
type FlattenOptions struct {
	FormatOptions           map[string]any
	UseParserRules          bool
	ExternalFeedProperties  map[string]any
}

// FlattenResult is what the external Flattener returns for one raw item.
type FlattenResult struct {
	Flattened                  map[string]any
	InjectArticleContent       func() (map[string]any, error)
	HasArticleContentInjection bool
}

// Flattener turns one raw parsed item into the flattened representation
// consumed by ArticleBuilder. It is an external collaborator: the reference
// implementation lives in flattener.go, but callers may substitute their own.
type Flattener interface {
	Flatten(ctx context.Context, rawItem model.RawItem, opts FlattenOptions) (FlattenResult, error)
}

// FieldStore is the thin contract over partitioned dedup storage (§4.E).
// Persist batches its inserts inside tx when one is supplied; nil means
// autocommit. A row colliding with an existing (feed_id, field_name,
// field_hashed_value) is expected to be absorbed (e.g. ON CONFLICT DO
// NOTHING) rather than aborting the rest of the batch. Implementations that
// cannot make the write idempotent that way may still surface
// model.ErrUniqueViolation for a colliding row; DeliveryPlanner swallows it.
type FieldStore interface {
	Persist(ctx context.Context, tx *sql.Tx, rows []model.StoredFieldRow) error
	FindIdFieldsForFeed(ctx context.Context, feedID model.FeedId, candidateHashes []string) ([]string, error)
	SomeFieldsExist(ctx context.Context, feedID model.FeedId, pairs []model.FieldPair) (bool, error)
	HasArticlesStoredForFeed(ctx context.Context, feedID model.FeedId) (bool, error)
	DeleteAllForFeed(ctx context.Context, feedID model.FeedId) error
}

// ComparisonRegistry records which comparison field names are currently
// "activated" for a feed (§4.F).
type ComparisonRegistry interface {
	Find(ctx context.Context, feedID model.FeedId, fieldNames []string) ([]model.ComparisonRegistryRow, error)
	Persist(ctx context.Context, tx *sql.Tx, rows []model.ComparisonRegistryRow) error
}

// MetricsSink receives point-in-time counts from components that observe
// something with production diagnostic value but no return-value channel to
// carry it back through (a cache hit ratio, a swallowed race). Callers that
// don't care about metrics pass nil to Config and get noopMetricsSink.
type MetricsSink interface {
	RecordCacheHit(feedID string)
	RecordCacheMiss(feedID string)
	RecordHtmlFallback(feedID string)
	RecordUniqueViolationSwallowed(feedID string)
}

// TxBeginner starts a transaction. Both Postgres reference stores accept a
// caller-supplied *sql.Tx for DeliveryPlanner's step 8 "one transaction when
// possible" requirement; TxBeginner is how the caller obtains one.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// DateChecks configures the DeliveryPlanner date filter (§4.H).
type DateChecks struct {
	OldArticleDateDiffMsThreshold *time.Duration
	DatePlaceholderReferences     []string
}

// DeliveryInput bundles a getArticlesToDeliverFromXml call's arguments.
type DeliveryInput struct {
	FeedID                 model.FeedId
	FeedXML                []byte
	BlockingComparisons    []string
	PassingComparisons     []string
	FormatOptions          map[string]any
	DateChecks             *DateChecks
	Debug                  bool
	UseParserRules         bool
	ExternalFeedProperties map[string]any
}

// DeliveryOutput is getArticlesToDeliverFromXml's result shape.
type DeliveryOutput struct {
	AllArticles       []model.Article
	ArticlesToDeliver []model.Article
}

// FetchArticlesOptions bundles fetchFeedArticles/findOrFetchFeedArticles
// arguments.
type FetchArticlesOptions struct {
	FormatOptions          map[string]any
	ExternalFeedProperties map[string]any
	RequestLookupDetails   *LookupDetails
	FindRssFromHtml        bool
	UseParserRules         bool
}

// FetchArticlesResult is the exposed shape shared by fetchFeedArticles and
// findOrFetchFeedArticles: Output is nil when the Fetcher's response is
// pending (no body yet).
type FetchArticlesResult struct {
	Output                     []model.Article
	URL                        string
	AttemptedToResolveFromHtml bool
}

// ArticlesService is the module's exposed API — one method per row of §6's
// operation table.
type ArticlesService interface {
	FindOrFetchFeedArticles(ctx context.Context, url string, opts FetchArticlesOptions) (*FetchArticlesResult, error)
	FetchFeedArticles(ctx context.Context, url string, opts FetchArticlesOptions) (*FetchArticlesResult, error)
	FetchFeedArticle(ctx context.Context, url, id string, opts FetchArticlesOptions) (*model.Article, error)
	FetchRandomFeedArticle(ctx context.Context, url string, opts FetchArticlesOptions) (*model.Article, error)
	GetArticlesToDeliverFromXml(ctx context.Context, in DeliveryInput) (*DeliveryOutput, error)
	DeleteInfoForFeed(ctx context.Context, feedID model.FeedId) error

	CacheExists(ctx context.Context, url string, opts FetchArticlesOptions) (bool, error)
	CacheGet(ctx context.Context, url string, opts FetchArticlesOptions) ([]model.Article, bool, error)
	CacheSet(ctx context.Context, url string, opts FetchArticlesOptions, articles []model.Article, useOldTTL bool) error
	CacheInvalidate(ctx context.Context, url string, opts FetchArticlesOptions) error
	CacheRefresh(ctx context.Context, url string, opts FetchArticlesOptions) error
}
