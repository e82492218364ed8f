package articles

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/articles/internal/model"
)

// Service wires FetchOrchestrator (G), DeliveryPlanner (H), and
// SingleArticleLookup (I) over the injected FieldStore/ComparisonRegistry/
// CacheStore/Fetcher/Flattener collaborators into the exposed ArticlesService
// surface.
type Service struct {
	orchestrator *fetchOrchestrator
	planner      *deliveryPlanner
	lookup       *singleArticleLookup
	cache        *cacheLayer
	fieldStore   FieldStore
}

// Config bundles Service's collaborators and tuning knobs. ParseTimeout <= 0
// falls back to xmlParser's own default.
type Config struct {
	Fetcher              Fetcher
	Flattener            Flattener
	CacheStore           CacheStore
	FieldStore           FieldStore
	ComparisonRegistry   ComparisonRegistry
	TxBeginner           TxBeginner
	ParseTimeout         time.Duration
	MaxInjectionArticles int
	// CacheTTLSeconds <= 0 falls back to the cache layer's own default.
	CacheTTLSeconds int
	Logger          *slog.Logger
	// Metrics is optional; nil yields a no-op sink.
	Metrics MetricsSink
}

// NewService constructs a Service from its collaborators.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetricsSink{}
	}

	parser := newXmlParser(cfg.ParseTimeout)
	builder := newArticleBuilder(cfg.Flattener, cfg.MaxInjectionArticles, logger)
	cache := newCacheLayer(cfg.CacheStore, cfg.CacheTTLSeconds)
	orchestrator := newFetchOrchestrator(cfg.Fetcher, parser, builder, cache, logger, metrics)
	planner := newDeliveryPlanner(parser, builder, cfg.FieldStore, cfg.ComparisonRegistry, cfg.TxBeginner, logger, metrics)
	lookup := newSingleArticleLookup(orchestrator)

	return &Service{
		orchestrator: orchestrator,
		planner:      planner,
		lookup:       lookup,
		cache:        cache,
		fieldStore:   cfg.FieldStore,
	}
}

func (s *Service) FindOrFetchFeedArticles(ctx context.Context, url string, opts FetchArticlesOptions) (*FetchArticlesResult, error) {
	return s.orchestrator.FindOrFetchFeedArticles(ctx, url, opts)
}

func (s *Service) FetchFeedArticles(ctx context.Context, url string, opts FetchArticlesOptions) (*FetchArticlesResult, error) {
	return s.orchestrator.FetchFeedArticles(ctx, url, opts)
}

func (s *Service) FetchFeedArticle(ctx context.Context, url, id string, opts FetchArticlesOptions) (*model.Article, error) {
	return s.lookup.FetchFeedArticle(ctx, url, id, opts)
}

func (s *Service) FetchRandomFeedArticle(ctx context.Context, url string, opts FetchArticlesOptions) (*model.Article, error) {
	return s.lookup.FetchRandomFeedArticle(ctx, url, opts)
}

func (s *Service) GetArticlesToDeliverFromXml(ctx context.Context, in DeliveryInput) (*DeliveryOutput, error) {
	return s.planner.Deliver(ctx, in)
}

func (s *Service) DeleteInfoForFeed(ctx context.Context, feedID model.FeedId) error {
	return s.fieldStore.DeleteAllForFeed(ctx, feedID)
}

func (s *Service) CacheExists(ctx context.Context, url string, opts FetchArticlesOptions) (bool, error) {
	return s.cache.Exists(ctx, url, opts)
}

func (s *Service) CacheGet(ctx context.Context, url string, opts FetchArticlesOptions) ([]model.Article, bool, error) {
	return s.cache.Get(ctx, url, opts)
}

func (s *Service) CacheInvalidate(ctx context.Context, url string, opts FetchArticlesOptions) error {
	return s.cache.Invalidate(ctx, url, opts)
}

func (s *Service) CacheRefresh(ctx context.Context, url string, opts FetchArticlesOptions) error {
	return s.cache.RefreshTtl(ctx, url, opts)
}

func (s *Service) CacheSet(ctx context.Context, url string, opts FetchArticlesOptions, articles []model.Article, useOldTTL bool) error {
	return s.cache.Set(ctx, url, opts, articles, useOldTTL)
}

var _ ArticlesService = (*Service)(nil)
